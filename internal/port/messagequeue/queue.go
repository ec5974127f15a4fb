// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Queue is the port interface for publishing lifecycle events.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Close shuts down the queue connection.
	Close() error
}

// Subjects for tenant lifecycle events consumed by the admin service.
const (
	SubjectTenantCreated = "tenants.created"
	SubjectTenantDeleted = "tenants.deleted"
)
