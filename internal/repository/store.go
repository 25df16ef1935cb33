package repository

import (
	"context"

	"github.com/djyosi/rubisos/internal/models"
)

// UserStore persists presence profiles. The dispatch engine is authoritative
// in memory; stores only receive write-behind copies and are never consulted
// on the hot path.
type UserStore interface {
	UpsertUser(ctx context.Context, user *models.User) error
}

// AlertStore persists alert snapshots after each committed transition.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *models.Alert) error
}

// Store is the combined persistence collaborator.
type Store interface {
	UserStore
	AlertStore
}
