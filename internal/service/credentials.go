package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mystra-io/tenantd/internal/domain/tenant"
	"github.com/mystra-io/tenantd/internal/port/sitecmd"
)

// CredentialIssuer derives API credentials for a new tenant's
// administrative account. Derivation failure is non-fatal: the caller
// always gets back the administrative password it supplied, and the
// missing key/secret/token fields stay empty rather than being fabricated.
type CredentialIssuer struct {
	runner sitecmd.Runner
}

// NewCredentialIssuer creates an issuer backed by the site primitive.
func NewCredentialIssuer(runner sitecmd.Runner) *CredentialIssuer {
	return &CredentialIssuer{runner: runner}
}

// Issue derives a key/secret pair for the administrative account and
// assembles the bearer token. complete is false when derivation failed;
// the returned credentials are still usable via the admin password.
func (ci *CredentialIssuer) Issue(ctx context.Context, siteName, adminPassword string) (creds *tenant.Credentials, complete bool) {
	creds = &tenant.Credentials{
		Username: tenant.AdminAccount,
		Password: adminPassword,
	}

	pair, err := ci.runner.GenerateKeys(ctx, siteName, tenant.AdminAccount)
	if err != nil {
		slog.Warn("api key generation failed, tenant is still usable via admin password",
			"site_name", siteName, "error", err)
		return creds, false
	}

	creds.APIKey = pair.Key
	creds.APISecret = pair.Secret
	creds.Token = fmt.Sprintf("token %s:%s", pair.Key, pair.Secret)
	return creds, true
}
