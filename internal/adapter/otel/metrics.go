package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "tenantd"

// Metrics holds all tenantd metric instruments.
type Metrics struct {
	TenantsCreated    metric.Int64Counter
	TenantsDeleted    metric.Int64Counter
	OperationsFailed  metric.Int64Counter
	ProvisionDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TenantsCreated, err = meter.Int64Counter("tenantd.tenants.created",
		metric.WithDescription("Number of tenants created"))
	if err != nil {
		return nil, err
	}

	m.TenantsDeleted, err = meter.Int64Counter("tenantd.tenants.deleted",
		metric.WithDescription("Number of tenants deleted"))
	if err != nil {
		return nil, err
	}

	m.OperationsFailed, err = meter.Int64Counter("tenantd.operations.failed",
		metric.WithDescription("Number of failed create/delete operations"))
	if err != nil {
		return nil, err
	}

	m.ProvisionDuration, err = meter.Float64Histogram("tenantd.provision.duration_seconds",
		metric.WithDescription("Tenant create duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
