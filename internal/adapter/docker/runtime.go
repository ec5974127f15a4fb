// Package docker implements the containerruntime.Runtime port using the
// docker CLI.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mystra-io/tenantd/internal/port/containerruntime"
	"github.com/mystra-io/tenantd/internal/shell"
)

// containerPort is the port the frontend image listens on inside the
// container; the tenant's host port is published onto it.
const containerPort = 8080

// sitesMount is where the shared sites volume is mounted in the frontend.
const sitesMount = "/home/frappe/frappe-bench/sites"

var hostPortPattern = regexp.MustCompile(`:(\d+)->`)

// Runtime drives the docker CLI. It implements containerruntime.Runtime.
type Runtime struct {
	pool    *shell.Pool
	timeout time.Duration
}

// NewRuntime creates a Runtime whose CLI calls run through pool, each
// bounded by timeout.
func NewRuntime(pool *shell.Pool, timeout time.Duration) *Runtime {
	return &Runtime{pool: pool, timeout: timeout}
}

// CreateFrontend creates and starts a frontend container from spec.
// An already-running container with the same name is reused; a stopped
// leftover is replaced.
func (rt *Runtime) CreateFrontend(ctx context.Context, spec containerruntime.Spec) (string, error) {
	running, exists, err := rt.containerState(ctx, spec.Name)
	if err != nil {
		return "", &containerruntime.Error{Op: "inspect frontend", Err: err}
	}
	if exists {
		if running {
			return spec.Name, nil
		}
		if _, err := rt.runDocker(ctx, "rm", "-f", spec.Name); err != nil {
			return "", &containerruntime.Error{Op: "replace stopped frontend", Err: err}
		}
	}

	out, err := rt.runDocker(ctx, runArgs(spec)...)
	if err != nil {
		return "", &containerruntime.Error{Op: "create frontend", Err: err}
	}
	return strings.TrimSpace(out), nil
}

// RemoveContainer stops and removes the named container. A missing
// container is a successful no-op.
func (rt *Runtime) RemoveContainer(ctx context.Context, name string) (bool, error) {
	_, exists, err := rt.containerState(ctx, name)
	if err != nil {
		return false, &containerruntime.Error{Op: "inspect container", Err: err}
	}
	if !exists {
		return false, nil
	}

	// Graceful stop first so nginx can drain in-flight requests.
	if _, err := rt.runDocker(ctx, "stop", "-t", "10", name); err != nil {
		return false, &containerruntime.Error{Op: "stop container", Err: err}
	}
	if _, err := rt.runDocker(ctx, "rm", "-f", name); err != nil {
		return false, &containerruntime.Error{Op: "remove container", Err: err}
	}
	return true, nil
}

// ListPortBindings returns host ports bound by any container (running or
// not), mapped to the container holding them.
func (rt *Runtime) ListPortBindings(ctx context.Context) (map[int]string, error) {
	out, err := rt.runDocker(ctx, "ps", "-a", "--format", "{{.Names}}\t{{.Ports}}")
	if err != nil {
		return nil, &containerruntime.Error{Op: "list port bindings", Err: err}
	}
	return parsePortBindings(out), nil
}

// containerState reports whether the named container exists and is running.
func (rt *Runtime) containerState(ctx context.Context, name string) (running, exists bool, err error) {
	out, err := rt.runDocker(ctx, "inspect", "-f", "{{.State.Running}}", name)
	if err != nil {
		if strings.Contains(err.Error(), "No such object") || strings.Contains(err.Error(), "No such container") {
			return false, false, nil
		}
		return false, false, err
	}
	return strings.TrimSpace(out) == "true", true, nil
}

// runDocker executes a docker command through the pool and returns stdout.
// A per-call timeout bounds the command even when the caller's context
// never cancels, so a hung daemon cannot hold a pool slot forever.
func (rt *Runtime) runDocker(ctx context.Context, args ...string) (string, error) {
	var out string
	err := rt.pool.Run(ctx, func() error {
		runCtx, cancel := context.WithTimeout(ctx, rt.timeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, "docker", args...) //nolint:gosec // G204: docker args are constructed internally, not from user input

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
		}
		out = stdout.String()
		return nil
	})
	return out, err
}

// runArgs builds the docker run invocation for a frontend spec.
func runArgs(spec containerruntime.Spec) []string {
	args := []string{
		"run", "-d",
		"--name", spec.Name,
		"--restart", "unless-stopped",
		"--network", spec.Network,
		"-p", fmt.Sprintf("%d:%d", spec.Port, containerPort),
		"-v", fmt.Sprintf("%s:%s:rw", spec.SitesVolume, sitesMount),
	}

	// Deterministic env order keeps the invocation reproducible in logs.
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+spec.Env[k])
	}

	args = append(args, spec.Image)
	if spec.Command != "" {
		args = append(args, spec.Command)
	}
	return args
}

// parsePortBindings extracts host ports from `docker ps` output lines of
// the form "name\t0.0.0.0:8085->8080/tcp, :::8085->8080/tcp".
func parsePortBindings(out string) map[int]string {
	bindings := make(map[int]string)
	for _, line := range strings.Split(out, "\n") {
		name, ports, ok := strings.Cut(strings.TrimSpace(line), "\t")
		if !ok || ports == "" {
			continue
		}
		for _, m := range hostPortPattern.FindAllStringSubmatch(ports, -1) {
			if port, err := strconv.Atoi(m[1]); err == nil {
				bindings[port] = name
			}
		}
	}
	return bindings
}
