package notify

import (
	"context"
	"strings"

	"github.com/samber/lo"
)

// RolePlanner is the collaborator role entitled to stakeholder notifications.
const RolePlanner = "planner"

// Resolver computes the recipient set of a project.
type Resolver struct {
	dir Directory
}

// NewResolver constructs a Resolver over dir.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve returns {owner} ∪ {planners}, deduplicated, owner first.
// It never caches. On lookup failure it returns an empty set together with the error
// so callers can log it and carry on.
func (r *Resolver) Resolve(ctx context.Context, projectID string) ([]string, error) {
	if r == nil || r.dir == nil {
		return []string{}, ErrStoreNotConfigured
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return []string{}, ErrInvalidInput
	}

	owner, planners, err := r.dir.ProjectStakeholders(ctx, projectID)
	if err != nil {
		return []string{}, err
	}

	ids := lo.Map(append([]string{owner}, planners...), func(id string, _ int) string {
		return strings.TrimSpace(id)
	})
	ids = lo.Compact(ids)
	return lo.Uniq(ids), nil
}
