// Package bench implements the sitecmd.Runner port by shelling out to the
// bench CLI in the bench directory.
package bench

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mystra-io/tenantd/internal/port/sitecmd"
	"github.com/mystra-io/tenantd/internal/shell"
)

// generateKeysMethod is the dotted path bench execute calls to derive an
// API key/secret pair for an account.
const generateKeysMethod = "frappe.core.doctype.user.user.generate_keys"

// sitesDirSkip lists entries in the sites directory that are not sites.
var sitesDirSkip = map[string]bool{
	"assets":                  true,
	"common_site_config.json": true,
	"apps.txt":                true,
	"currentsite.txt":         true,
}

// Runner invokes the bench CLI. It implements sitecmd.Runner.
type Runner struct {
	path           string
	dbRootPassword string
	timeout        time.Duration
	pool           *shell.Pool
}

// NewRunner creates a Runner rooted at the bench directory. All commands
// run through pool and are bounded by timeout.
func NewRunner(path, dbRootPassword string, timeout time.Duration, pool *shell.Pool) *Runner {
	return &Runner{
		path:           path,
		dbRootPassword: dbRootPassword,
		timeout:        timeout,
		pool:           pool,
	}
}

// CreateSite creates the logical site with its own database on the shared
// server. The login scope restricts the created DB user to the container
// network.
func (r *Runner) CreateSite(ctx context.Context, siteName, adminPassword string) error {
	_, err := r.run(ctx, "create site", createSiteArgs(siteName, adminPassword, r.dbRootPassword)...)
	return err
}

// InstallApp installs the standard application on the site.
func (r *Runner) InstallApp(ctx context.Context, siteName string) error {
	_, err := r.run(ctx, "install app", installAppArgs(siteName)...)
	return err
}

// DropSite drops the site. bench relocates the site directory to an
// archival area rather than deleting it.
func (r *Runner) DropSite(ctx context.Context, siteName string, noBackup bool) error {
	_, err := r.run(ctx, "drop site", dropSiteArgs(siteName, r.dbRootPassword, noBackup)...)
	return err
}

// GenerateKeys derives an API key/secret pair for the given account and
// parses it from the command output.
func (r *Runner) GenerateKeys(ctx context.Context, siteName, account string) (sitecmd.KeyPair, error) {
	out, err := r.run(ctx, "generate keys", generateKeysArgs(siteName, account)...)
	if err != nil {
		return sitecmd.KeyPair{}, err
	}
	pair, err := parseKeyPair(out)
	if err != nil {
		return sitecmd.KeyPair{}, &sitecmd.ExecError{Op: "generate keys", Output: out, Err: err}
	}
	return pair, nil
}

// ListSites returns all provisioned sites by scanning the sites directory
// for subdirectories carrying a site_config.json, the same way the bench
// tooling identifies sites.
func (r *Runner) ListSites(_ context.Context) ([]string, error) {
	sitesDir := filepath.Join(r.path, "sites")
	entries, err := os.ReadDir(sitesDir)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}

	sites := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") || sitesDirSkip[name] {
			continue
		}
		if _, err := os.Stat(filepath.Join(sitesDir, name, "site_config.json")); err != nil {
			continue
		}
		sites = append(sites, name)
	}
	return sites, nil
}

// SiteExists reports whether the site has a site_config.json.
func (r *Runner) SiteExists(_ context.Context, siteName string) (bool, error) {
	_, err := os.Stat(filepath.Join(r.path, "sites", siteName, "site_config.json"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("check site %s: %w", siteName, err)
}

// run executes a bench command through the pool with the configured timeout.
// A timeout surfaces as an execution failure, never as success.
func (r *Runner) run(ctx context.Context, op string, args ...string) (string, error) {
	var out string
	err := r.pool.Run(ctx, func() error {
		runCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, "bench", args...) //nolint:gosec // G204: args are built internally from validated site names
		cmd.Dir = r.path
		cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			combined := strings.TrimSpace(stderr.String())
			if combined == "" {
				combined = strings.TrimSpace(stdout.String())
			}
			return &sitecmd.ExecError{Op: op, Output: combined, Err: err}
		}
		out = stdout.String()
		return nil
	})
	return out, err
}

func createSiteArgs(siteName, adminPassword, dbRootPassword string) []string {
	return []string{
		"new-site",
		siteName,
		"--mariadb-user-host-login-scope=172.%.%.%",
		"--db-root-password=" + dbRootPassword,
		"--admin-password=" + adminPassword,
	}
}

func installAppArgs(siteName string) []string {
	return []string{"--site", siteName, "install-app", "erpnext"}
}

func dropSiteArgs(siteName, dbRootPassword string, noBackup bool) []string {
	args := []string{
		"drop-site",
		siteName,
		"--db-root-password=" + dbRootPassword,
		"--force",
	}
	if noBackup {
		args = append(args, "--no-backup")
	}
	return args
}

func generateKeysArgs(siteName, account string) []string {
	kwargs, _ := json.Marshal(map[string]string{"user": account})
	return []string{"--site", siteName, "execute", generateKeysMethod, "--kwargs", string(kwargs)}
}

// parseKeyPair extracts the key pair from command output. bench prints the
// returned value as JSON on one of the trailing lines; install noise may
// precede it, so lines are scanned in reverse.
func parseKeyPair(out string) (sitecmd.KeyPair, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var parsed struct {
			APIKey    string `json:"api_key"`
			APISecret string `json:"api_secret"`
		}
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			continue
		}
		if parsed.APIKey == "" || parsed.APISecret == "" {
			continue
		}
		return sitecmd.KeyPair{Key: parsed.APIKey, Secret: parsed.APISecret}, nil
	}
	return sitecmd.KeyPair{}, fmt.Errorf("no key pair in command output")
}
