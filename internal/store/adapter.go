package store

import (
	"context"
	"time"

	"github.com/routetunnel/relay/internal/registry"
)

// registryAdapter narrows a full RouteStore down to the small read-only
// surface the Registry consults during Attach (registry.RouteStore),
// translating between the two record shapes.
type registryAdapter struct {
	store RouteStore
}

// Adapt wraps a RouteStore so it satisfies registry.RouteStore.
func Adapt(s RouteStore) registry.RouteStore {
	return &registryAdapter{store: s}
}

func (a *registryAdapter) GetByToken(ctx context.Context, token string) (*registry.RouteRecord, error) {
	rec, err := a.store.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return &registry.RouteRecord{
		Route:           rec.Route,
		Token:           rec.Token,
		Description:     rec.Description,
		OwnerUserID:     rec.UserID,
		IsPublic:        rec.IsPublic,
		IsActive:        rec.IsActive,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
		LastConnectedAt: rec.LastConnectedAt,
	}, nil
}

func (a *registryAdapter) UpdateLastConnected(ctx context.Context, route string, when time.Time) error {
	return a.store.UpdateLastConnected(ctx, route, when)
}
