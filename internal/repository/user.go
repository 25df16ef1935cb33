package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/djyosi/rubisos/internal/models"
)

// UserRepository handles database operations for users
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// UpsertUser writes the full presence snapshot for a user.
func (r *UserRepository) UpsertUser(ctx context.Context, user *models.User) error {
	location, err := json.Marshal(user.Location)
	if err != nil {
		return fmt.Errorf("failed to marshal location: %w", err)
	}
	alertTypes, err := json.Marshal(user.AlertTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal alert types: %w", err)
	}

	query := `
		INSERT INTO users (
			id, phone, name, push_token, location, online, alert_radius_km,
			receive_alerts, alert_types, alerts_sent, alerts_responded,
			created_at, last_active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (phone) DO UPDATE SET
			name = EXCLUDED.name,
			push_token = EXCLUDED.push_token,
			location = EXCLUDED.location,
			online = EXCLUDED.online,
			alert_radius_km = EXCLUDED.alert_radius_km,
			receive_alerts = EXCLUDED.receive_alerts,
			alert_types = EXCLUDED.alert_types,
			alerts_sent = EXCLUDED.alerts_sent,
			alerts_responded = EXCLUDED.alerts_responded,
			last_active = EXCLUDED.last_active
	`
	_, err = r.db.Exec(ctx, query,
		user.ID, user.Phone, user.Name, user.PushToken, location, user.Online,
		user.AlertRadiusKm, user.ReceiveAlerts, alertTypes,
		user.AlertsSent, user.AlertsResponded, user.CreatedAt, user.LastActive,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// GetUserByPhone retrieves a user by phone
func (r *UserRepository) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	query := `
		SELECT id, phone, name, push_token, location, online, alert_radius_km,
			receive_alerts, alert_types, alerts_sent, alerts_responded,
			created_at, last_active
		FROM users
		WHERE phone = $1
	`
	var (
		user       models.User
		location   []byte
		alertTypes []byte
	)
	err := r.db.QueryRow(ctx, query, phone).Scan(
		&user.ID, &user.Phone, &user.Name, &user.PushToken, &location,
		&user.Online, &user.AlertRadiusKm, &user.ReceiveAlerts, &alertTypes,
		&user.AlertsSent, &user.AlertsResponded, &user.CreatedAt, &user.LastActive,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("user not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if len(location) > 0 {
		if err := json.Unmarshal(location, &user.Location); err != nil {
			return nil, fmt.Errorf("failed to unmarshal location: %w", err)
		}
	}
	if len(alertTypes) > 0 {
		if err := json.Unmarshal(alertTypes, &user.AlertTypes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alert types: %w", err)
		}
	}
	return &user, nil
}
