// Package tenant defines the tenant domain model for the provisioning
// control plane. A tenant is one logical site sharing the database server
// and cache with every other site on the host.
package tenant

import (
	"fmt"
	"regexp"
	"time"

	"github.com/mystra-io/tenantd/internal/domain"
)

// State is the lifecycle state of a tenant.
type State string

const (
	StateRequested    State = "requested"
	StateProvisioning State = "provisioning"
	StateActive       State = "active"
	StateDeleting     State = "deleting"
	StateArchived     State = "archived"
	StateFailed       State = "failed"
)

// AdminAccount is the administrative account every site is created with.
const AdminAccount = "Administrator"

// namePattern matches domain-like site names: alphanumeric edges,
// dots and hyphens inside.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9.-]*[a-zA-Z0-9]$`)

// Tenant is a point-in-time snapshot of one provisioned site, as carried
// on lifecycle events. The control plane persists no tenant records; the
// external systems remain the source of truth.
type Tenant struct {
	SiteName    string       `json:"site_name"`
	State       State        `json:"state"`
	Port        int          `json:"port,omitempty"`
	FrontendRef string       `json:"frontend_ref,omitempty"`
	Credentials *Credentials `json:"credentials,omitempty"`
	CreatedAt   time.Time    `json:"created_at,omitzero"`
}

// Credentials is the bundle issued once at creation and never re-derived.
// APIKey/APISecret/Token are empty when key generation failed; the
// administrative password is always present because the caller supplied it.
type Credentials struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	APIKey    string `json:"api_key,omitempty"`
	APISecret string `json:"api_secret,omitempty"`
	Token     string `json:"token,omitempty"`
}

// Complete reports whether derived API credentials were issued.
func (c *Credentials) Complete() bool {
	return c != nil && c.Token != ""
}

// CreateRequest holds the fields required to create a new tenant.
type CreateRequest struct {
	SiteName       string `json:"site_name"`
	AdminPassword  string `json:"admin_password"`
	Port           int    `json:"port,omitempty"`
	CreateFrontend bool   `json:"create_frontend,omitempty"`
}

// Validate checks required fields and ranges. Field presence is checked
// before the name pattern so error messages point at the first problem.
func (r *CreateRequest) Validate() error {
	if r.SiteName == "" {
		return fmt.Errorf("%w: site_name is required", domain.ErrValidation)
	}
	if r.AdminPassword == "" {
		return fmt.Errorf("%w: admin_password is required", domain.ErrValidation)
	}
	if r.CreateFrontend && (r.Port < 1 || r.Port > 65535) {
		return fmt.Errorf("%w: port is required and must be 1-65535 when create_frontend is true", domain.ErrValidation)
	}
	if err := ValidateName(r.SiteName); err != nil {
		return err
	}
	return nil
}

// DeleteOptions holds the flags for tenant deletion. Both default to true.
type DeleteOptions struct {
	NoBackup       bool
	RemoveFrontend bool
}

// ValidateName checks that a site name is domain-like and safe to pass to
// external commands.
func ValidateName(siteName string) error {
	if !namePattern.MatchString(siteName) {
		return fmt.Errorf("%w: invalid site name %q", domain.ErrValidation, siteName)
	}
	return nil
}

// CreateResult is returned from a successful (or credential-partial) create.
type CreateResult struct {
	SiteName        string       `json:"site_name"`
	Port            int          `json:"port"`
	FrontendCreated bool         `json:"frontend_created"`
	FrontendRef     string       `json:"frontend_ref,omitempty"`
	Credentials     *Credentials `json:"credentials"`
	Warning         string       `json:"warning,omitempty"`
}

// DeleteResult is returned from a successful delete.
type DeleteResult struct {
	SiteName        string `json:"site_name"`
	FrontendRemoved bool   `json:"frontend_removed"`
	Message         string `json:"message"`
}
