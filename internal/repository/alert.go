package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/djyosi/rubisos/internal/models"
)

// AlertRepository handles database operations for alerts
type AlertRepository struct {
	db *pgxpool.Pool
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *pgxpool.Pool) *AlertRepository {
	return &AlertRepository{db: db}
}

// SaveAlert writes the full alert snapshot, rosters included.
func (r *AlertRepository) SaveAlert(ctx context.Context, alert *models.Alert) error {
	recipients, err := json.Marshal(alert.Recipients)
	if err != nil {
		return fmt.Errorf("failed to marshal recipients: %w", err)
	}
	responders, err := json.Marshal(alert.Responders)
	if err != nil {
		return fmt.Errorf("failed to marshal responders: %w", err)
	}
	location, err := json.Marshal(alert.Location)
	if err != nil {
		return fmt.Errorf("failed to marshal location: %w", err)
	}

	query := `
		INSERT INTO alerts (
			id, type, priority, sender_id, sender_name, sender_phone,
			location, description, status, created_at, expires_at,
			recipients, responders, resolved_at, resolved_by, resolution_notes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			recipients = EXCLUDED.recipients,
			responders = EXCLUDED.responders,
			resolved_at = EXCLUDED.resolved_at,
			resolved_by = EXCLUDED.resolved_by,
			resolution_notes = EXCLUDED.resolution_notes
	`
	_, err = r.db.Exec(ctx, query,
		alert.ID, alert.Type, alert.Priority, alert.SenderID, alert.SenderName,
		alert.SenderPhone, location, alert.Description, alert.Status,
		alert.CreatedAt, alert.ExpiresAt, recipients, responders,
		alert.ResolvedAt, alert.ResolvedBy, alert.ResolutionNotes,
	)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// GetAlert retrieves an alert by ID
func (r *AlertRepository) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	query := `
		SELECT id, type, priority, sender_id, sender_name, sender_phone,
			location, description, status, created_at, expires_at,
			recipients, responders, resolved_at, resolved_by, resolution_notes
		FROM alerts
		WHERE id = $1
	`
	var (
		alert      models.Alert
		location   []byte
		recipients []byte
		responders []byte
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&alert.ID, &alert.Type, &alert.Priority, &alert.SenderID,
		&alert.SenderName, &alert.SenderPhone, &location, &alert.Description,
		&alert.Status, &alert.CreatedAt, &alert.ExpiresAt, &recipients,
		&responders, &alert.ResolvedAt, &alert.ResolvedBy, &alert.ResolutionNotes,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("alert not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	if err := json.Unmarshal(location, &alert.Location); err != nil {
		return nil, fmt.Errorf("failed to unmarshal location: %w", err)
	}
	if err := json.Unmarshal(recipients, &alert.Recipients); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recipients: %w", err)
	}
	if err := json.Unmarshal(responders, &alert.Responders); err != nil {
		return nil, fmt.Errorf("failed to unmarshal responders: %w", err)
	}
	return &alert, nil
}
