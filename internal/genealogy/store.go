// Package genealogy resolves sponsor relationships between members into
// downline counts, level-wise team listings and binary trees.
package genealogy

import (
	"context"
	"errors"

	"github.com/tariel-x/mlmadmin/internal/models"
)

var (
	ErrMemberNotFound = errors.New("member not found")
	ErrCycleDetected  = errors.New("sponsor cycle detected")
	ErrDepthExceeded  = errors.New("genealogy depth limit exceeded")
)

// Store is the read side of the member table the resolvers walk.
// Children must return members in a stable fetch order.
type Store interface {
	Member(ctx context.Context, memberID string) (*models.Member, error)
	Children(ctx context.Context, sponsorID string) ([]models.Member, error)
}
