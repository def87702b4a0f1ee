// Package storage persists published contract versions. The registry
// writes every accepted publish through a ContractStore; pinned-version
// resolution and audit reads come back out of it.
package storage

import (
	"context"

	"github.com/nomoslabs/nomos/pkg/domain"
)

// ContractStore exposes persistence operations for contract versions.
// Implementations return deep copies in both directions so stored
// versions stay immutable.
type ContractStore interface {
	// Put records a published contract version.
	Put(ctx context.Context, contract domain.Contract) error

	// Get returns one stored version. The bool reports whether the
	// version exists; absence is not an error.
	Get(ctx context.Context, tenant domain.TenantID, id string, version int64) (domain.Contract, bool, error)

	// History returns all retained versions of a contract in ascending
	// version order. Unknown contracts yield an empty history.
	History(ctx context.Context, tenant domain.TenantID, id string) ([]domain.Contract, error)

	Close() error
}
