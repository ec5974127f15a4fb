package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mystra-io/tenantd/internal/domain"
	"github.com/mystra-io/tenantd/internal/port/containerruntime"
)

// PortRegistry tracks which host ports are reserved for tenant frontends.
// It is advisory in-process state: the container runtime is authoritative,
// so every reservation is cross-checked against live port bindings. A
// stale registry entry never blocks a port the runtime shows as free, and
// a port the runtime shows as occupied is never issued even when the
// registry is unaware of it.
type PortRegistry struct {
	mu      sync.Mutex
	ports   map[int]string // port → site name
	runtime containerruntime.Runtime
}

// NewPortRegistry creates a registry cross-checking against rt.
func NewPortRegistry(rt containerruntime.Runtime) *PortRegistry {
	return &PortRegistry{
		ports:   make(map[int]string),
		runtime: rt,
	}
}

// Reserve binds port to siteName, failing with ErrPortInUse when the port
// is held by another tenant or bound by any live container. Callers must
// hold the per-site lock for siteName.
func (r *PortRegistry) Reserve(ctx context.Context, port int, siteName string) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: port %d out of range", domain.ErrValidation, port)
	}

	bindings, err := r.runtime.ListPortBindings(ctx)
	if err != nil {
		// The runtime check is best-effort; the registry still applies.
		slog.Warn("could not check live port bindings", "error", err)
		bindings = nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, reserved := r.ports[port]; reserved {
		if bindings == nil {
			return fmt.Errorf("%w: port %d is reserved for %s", domain.ErrPortInUse, port, holder)
		}
		if _, live := bindings[port]; live {
			return fmt.Errorf("%w: port %d is reserved for %s", domain.ErrPortInUse, port, holder)
		}
		// Stale entry: the runtime shows the port free, so it must not block.
		delete(r.ports, port)
	}

	if name, live := bindings[port]; live {
		return fmt.Errorf("%w: port %d is bound by container %s", domain.ErrPortInUse, port, name)
	}

	r.ports[port] = siteName
	return nil
}

// Release frees a port reservation.
func (r *PortRegistry) Release(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ports, port)
}

// ReleaseSite frees every reservation held by siteName.
func (r *PortRegistry) ReleaseSite(siteName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for port, holder := range r.ports {
		if holder == siteName {
			delete(r.ports, port)
		}
	}
}

// Holder returns the site currently holding a reservation for port.
func (r *PortRegistry) Holder(port int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	holder, ok := r.ports[port]
	return holder, ok
}
