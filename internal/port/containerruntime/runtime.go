// Package containerruntime defines the port interface for the host's
// container runtime. The runtime is authoritative for port bindings;
// in-process registries are advisory caches over it.
package containerruntime

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// frontendPrefix names per-tenant frontend containers.
const frontendPrefix = "frontend-tenant-"

var sanitizePattern = regexp.MustCompile(`[^a-z0-9-]`)

// FrontendName returns the deterministic container name for a tenant's
// frontend: the site name lowercased and reduced to alphanumerics and
// hyphens, under a fixed prefix.
func FrontendName(siteName string) string {
	name := sanitizePattern.ReplaceAllString(strings.ToLower(siteName), "-")
	name = strings.Trim(name, "-")
	if name == "" {
		name = "tenant"
	}
	return frontendPrefix + name
}

// Spec describes a per-tenant reverse-proxy container. The Env pins the
// container to exactly one site by name; inbound hostnames are ignored.
type Spec struct {
	Name        string
	Image       string
	Network     string
	SitesVolume string
	Port        int
	Env         map[string]string
	Command     string
}

// Runtime is the port interface for container operations.
type Runtime interface {
	// CreateFrontend creates and starts a frontend container, returning an
	// opaque container reference. If a container with spec.Name is already
	// running it is reused; a stopped leftover is replaced.
	CreateFrontend(ctx context.Context, spec Spec) (ref string, err error)

	// RemoveContainer stops and removes the named container. Removing a
	// container that does not exist is a successful no-op; removed reports
	// whether anything was actually torn down.
	RemoveContainer(ctx context.Context, name string) (removed bool, err error)

	// ListPortBindings returns the host ports currently bound by any
	// container, mapped to the container name holding them.
	ListPortBindings(ctx context.Context) (map[int]string, error)
}

// Error wraps a container runtime failure with the operation that failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("container runtime: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
