// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tomtom215/vitalsync/internal/database"
	"github.com/tomtom215/vitalsync/internal/models"
)

// CreateConnection inserts a new connection. ID, status and timestamps are
// filled when empty.
func (s *Store) CreateConnection(ctx context.Context, c *models.Connection) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = models.ConnectionActive
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	row := toConnectionRow(c)
	var err error
	if row.AccessToken, row.RefreshToken, err = s.sealTokens(c.AccessToken, c.RefreshToken); err != nil {
		return err
	}

	db, cancel := s.conn(ctx)
	defer cancel()
	if err := db.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("connection for user %s and provider %s: %w", c.UserID, c.Provider, database.ErrConflict)
		}
		return fmt.Errorf("failed to insert connection: %w", err)
	}
	return nil
}

// GetConnection returns the connection with id.
func (s *Store) GetConnection(ctx context.Context, id string) (*models.Connection, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var row connectionRow
	if err := db.Take(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "connection", id)
	}
	return s.openConnection(&row)
}

// FindConnectionByExternalUser resolves a provider's user id to the
// connection it belongs to. Revoked connections are ignored.
func (s *Store) FindConnectionByExternalUser(ctx context.Context, provider, externalUserID string) (*models.Connection, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var row connectionRow
	err := db.Where("provider = ? AND external_user_id = ? AND status <> ?",
		provider, externalUserID, string(models.ConnectionRevoked)).
		Order("updated_at DESC").
		Take(&row).Error
	if err != nil {
		return nil, notFound(err, "connection for external user", provider+"/"+externalUserID)
	}
	return s.openConnection(&row)
}

// ListConnections returns every connection of a user.
func (s *Store) ListConnections(ctx context.Context, userID string) ([]models.Connection, error) {
	return s.findConnections(ctx, "user_id = ?", userID, "provider")
}

// ListSyncableConnections returns every active connection.
func (s *Store) ListSyncableConnections(ctx context.Context) ([]models.Connection, error) {
	return s.findConnections(ctx, "status = ?", string(models.ConnectionActive), "id")
}

// UpdateConnectionCredentials stores new tokens, reactivates the connection
// and clears its error state.
func (s *Store) UpdateConnectionCredentials(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error {
	access, refresh, err := s.sealTokens(accessToken, refreshToken)
	if err != nil {
		return err
	}
	return s.updateConnection(ctx, id, map[string]interface{}{
		"access_token":       access,
		"refresh_token":      refresh,
		"token_expires_at":   utcPtr(expiresAt),
		"status":             string(models.ConnectionActive),
		"consecutive_errors": 0,
		"last_error":         "",
	})
}

// MarkConnectionStatus sets the status and last error.
func (s *Store) MarkConnectionStatus(ctx context.Context, id string, status models.ConnectionStatus, lastError string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid connection status %q", status)
	}
	return s.updateConnection(ctx, id, map[string]interface{}{
		"status":     string(status),
		"last_error": lastError,
	})
}

// RecordConnectionSuccess resets the error count and records the sync time.
func (s *Store) RecordConnectionSuccess(ctx context.Context, id string, at time.Time) error {
	return s.updateConnection(ctx, id, map[string]interface{}{
		"last_synced_at":     at.UTC(),
		"consecutive_errors": 0,
		"last_error":         "",
	})
}

// IncrementConnectionErrors bumps the consecutive error count.
func (s *Store) IncrementConnectionErrors(ctx context.Context, id, lastError string) error {
	return s.updateConnection(ctx, id, map[string]interface{}{
		"consecutive_errors": gorm.Expr("consecutive_errors + 1"),
		"last_error":         lastError,
	})
}

// RevokeConnection marks the connection revoked and drops its tokens.
func (s *Store) RevokeConnection(ctx context.Context, id string) error {
	return s.updateConnection(ctx, id, map[string]interface{}{
		"status":           string(models.ConnectionRevoked),
		"access_token":     "",
		"refresh_token":    "",
		"token_expires_at": nil,
	})
}

func (s *Store) updateConnection(ctx context.Context, id string, fields map[string]interface{}) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	fields["updated_at"] = time.Now().UTC()
	res := db.Model(&connectionRow{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update connection %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("connection %s: %w", id, database.ErrNotFound)
	}
	return nil
}

func (s *Store) findConnections(ctx context.Context, where string, arg interface{}, order string) ([]models.Connection, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var rows []connectionRow
	if err := db.Where(where, arg).Order(order).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	out := make([]models.Connection, 0, len(rows))
	for i := range rows {
		c, err := s.openConnection(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

func (s *Store) openConnection(row *connectionRow) (*models.Connection, error) {
	c := row.model()
	var err error
	if c.AccessToken, err = s.encryptor.Open(row.AccessToken); err != nil {
		return nil, fmt.Errorf("connection %s access token: %w", row.ID, err)
	}
	if c.RefreshToken, err = s.encryptor.Open(row.RefreshToken); err != nil {
		return nil, fmt.Errorf("connection %s refresh token: %w", row.ID, err)
	}
	return &c, nil
}

func (s *Store) sealTokens(access, refresh string) (string, string, error) {
	sealedAccess, err := s.encryptor.Seal(access)
	if err != nil {
		return "", "", fmt.Errorf("seal access token: %w", err)
	}
	sealedRefresh, err := s.encryptor.Seal(refresh)
	if err != nil {
		return "", "", fmt.Errorf("seal refresh token: %w", err)
	}
	return sealedAccess, sealedRefresh, nil
}
