// Package sitecmd defines the port interface for the site-lifecycle
// primitive: the external capability that creates, installs onto, and
// drops a logical site on the shared database server.
package sitecmd

import (
	"context"
	"fmt"
	"strings"
)

// KeyPair is a derived API key/secret pair for a site account.
type KeyPair struct {
	Key    string
	Secret string
}

// Runner is the port interface for the site-lifecycle primitive.
// All calls are blocking external operations with bounded timeouts;
// site creation and dropping may take tens of seconds.
type Runner interface {
	// CreateSite creates the logical site with its own database on the
	// shared server.
	CreateSite(ctx context.Context, siteName, adminPassword string) error

	// InstallApp installs the standard application set on the site.
	InstallApp(ctx context.Context, siteName string) error

	// DropSite drops the site. Its data directory is relocated to an
	// archival area, not hard-deleted. noBackup skips the pre-drop backup.
	DropSite(ctx context.Context, siteName string, noBackup bool) error

	// GenerateKeys derives an API key/secret pair for the given account.
	GenerateKeys(ctx context.Context, siteName, account string) (KeyPair, error)

	// ListSites returns the names of all currently provisioned sites.
	ListSites(ctx context.Context) ([]string, error)

	// SiteExists reports whether the site is currently provisioned.
	SiteExists(ctx context.Context, siteName string) (bool, error)
}

// ExecError wraps a failed external command with its trimmed output.
// The raw text is propagated to the caller verbatim, never swallowed.
type ExecError struct {
	Op     string
	Output string
	Err    error
}

func (e *ExecError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, out)
}

func (e *ExecError) Unwrap() error { return e.Err }
