// Package store implements the persisted route-record contract (C7):
// idempotent create, lookup by route, lookup by token (active only),
// last-connected bookkeeping, and soft delete.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrRouteExists is returned by Create when an active record for the
// route already exists.
var ErrRouteExists = errors.New("store: route already exists")

// Record is the persisted route-ownership record, {route, token,
// description, user_id, is_public, is_active, created_at, updated_at,
// last_connected_at}.
type Record struct {
	Route           string
	Token           string
	Description     string
	UserID          int64
	IsPublic        bool
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastConnectedAt *time.Time
}

// RouteStore is the full persisted-route contract consumed by the
// management surface. It covers the two lookups registry.RouteStore needs
// (GetByToken/UpdateLastConnected), but its GetByToken returns *Record
// rather than *registry.RouteRecord, so an implementation is handed to the
// Registry through Adapt.
type RouteStore interface {
	Create(ctx context.Context, rec *Record) error
	GetByRoute(ctx context.Context, route string) (*Record, error)
	GetByToken(ctx context.Context, token string) (*Record, error)
	ListByUser(ctx context.Context, userID int64) ([]Record, error)
	ListPublic(ctx context.Context) ([]Record, error)
	UpdateLastConnected(ctx context.Context, route string, when time.Time) error
	Delete(ctx context.Context, route string) (bool, error)
}
