// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/vitalsync/internal/models"
)

const connectionColumns = `id, user_id, provider, external_user_id, access_token, refresh_token,
	token_expires_at, status, last_synced_at, consecutive_errors, last_error, created_at, updated_at`

// CreateConnection inserts a new connection. ID, status and timestamps are
// filled when empty.
func (db *DB) CreateConnection(ctx context.Context, c *models.Connection) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

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

	access, refresh, err := db.sealTokens(c.AccessToken, c.RefreshToken)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx, `INSERT INTO connections (`+connectionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Provider, c.ExternalUserID, access, refresh,
		nullTime(c.TokenExpiresAt), string(c.Status), nullTime(c.LastSyncedAt),
		c.ConsecutiveErrors, c.LastError, c.CreatedAt.UTC(), c.UpdatedAt)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("connection for user %s and provider %s: %w", c.UserID, c.Provider, ErrConflict)
		}
		return fmt.Errorf("failed to insert connection: %w", err)
	}
	return nil
}

// GetConnection returns the connection with id.
func (db *DB) GetConnection(ctx context.Context, id string) (*models.Connection, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `SELECT `+connectionColumns+` FROM connections WHERE id = ?`, id)
	return db.scanConnection(row)
}

// FindConnectionByExternalUser resolves a provider's user id to the
// connection it belongs to. Revoked connections are ignored.
func (db *DB) FindConnectionByExternalUser(ctx context.Context, provider, externalUserID string) (*models.Connection, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `SELECT `+connectionColumns+` FROM connections
		WHERE provider = ? AND external_user_id = ? AND status <> ?
		ORDER BY updated_at DESC LIMIT 1`,
		provider, externalUserID, string(models.ConnectionRevoked))
	return db.scanConnection(row)
}

// ListConnections returns every connection of a user.
func (db *DB) ListConnections(ctx context.Context, userID string) ([]models.Connection, error) {
	return db.queryConnections(ctx, `SELECT `+connectionColumns+` FROM connections WHERE user_id = ? ORDER BY provider`, userID)
}

// ListSyncableConnections returns every active connection.
func (db *DB) ListSyncableConnections(ctx context.Context) ([]models.Connection, error) {
	return db.queryConnections(ctx, `SELECT `+connectionColumns+` FROM connections WHERE status = ? ORDER BY id`,
		string(models.ConnectionActive))
}

// UpdateConnectionCredentials stores new tokens, reactivates the connection
// and clears its error state.
func (db *DB) UpdateConnectionCredentials(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error {
	access, refresh, err := db.sealTokens(accessToken, refreshToken)
	if err != nil {
		return err
	}
	return db.updateConnection(ctx, id, `UPDATE connections SET
		access_token = ?, refresh_token = ?, token_expires_at = ?, status = ?,
		consecutive_errors = 0, last_error = '', updated_at = ?
		WHERE id = ?`,
		access, refresh, nullTime(expiresAt), string(models.ConnectionActive), time.Now().UTC(), id)
}

// MarkConnectionStatus sets the status and last error.
func (db *DB) MarkConnectionStatus(ctx context.Context, id string, status models.ConnectionStatus, lastError string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid connection status %q", status)
	}
	return db.updateConnection(ctx, id, `UPDATE connections SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(status), lastError, time.Now().UTC(), id)
}

// RecordConnectionSuccess resets the error count and records the sync time.
func (db *DB) RecordConnectionSuccess(ctx context.Context, id string, at time.Time) error {
	return db.updateConnection(ctx, id, `UPDATE connections SET
		last_synced_at = ?, consecutive_errors = 0, last_error = '', updated_at = ?
		WHERE id = ?`,
		at.UTC(), time.Now().UTC(), id)
}

// IncrementConnectionErrors bumps the consecutive error count.
func (db *DB) IncrementConnectionErrors(ctx context.Context, id, lastError string) error {
	return db.updateConnection(ctx, id, `UPDATE connections SET
		consecutive_errors = consecutive_errors + 1, last_error = ?, updated_at = ?
		WHERE id = ?`,
		lastError, time.Now().UTC(), id)
}

// RevokeConnection marks the connection revoked and drops its tokens. The
// row is kept so metrics stay attributable.
func (db *DB) RevokeConnection(ctx context.Context, id string) error {
	return db.updateConnection(ctx, id, `UPDATE connections SET
		status = ?, access_token = '', refresh_token = '', token_expires_at = NULL, updated_at = ?
		WHERE id = ?`,
		string(models.ConnectionRevoked), time.Now().UTC(), id)
}

func (db *DB) updateConnection(ctx context.Context, id, query string, args ...interface{}) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	var affected int64
	err := withConflictRetry(ctx, func() error {
		res, err := db.conn.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update connection %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	return nil
}

func (db *DB) queryConnections(ctx context.Context, query string, args ...interface{}) ([]models.Connection, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer closeWithLog(rows, "connection rows")

	var out []models.Connection
	for rows.Next() {
		c, err := db.scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (db *DB) scanConnection(row rowScanner) (*models.Connection, error) {
	var (
		c                     models.Connection
		status                string
		access, refresh       string
		expiresAt, lastSynced sql.NullTime
	)
	err := row.Scan(&c.ID, &c.UserID, &c.Provider, &c.ExternalUserID, &access, &refresh,
		&expiresAt, &status, &lastSynced, &c.ConsecutiveErrors, &c.LastError, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("connection: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}

	c.Status = models.ConnectionStatus(status)
	c.TokenExpiresAt = timePtr(expiresAt)
	c.LastSyncedAt = timePtr(lastSynced)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()

	if c.AccessToken, err = db.encryptor.Open(access); err != nil {
		return nil, fmt.Errorf("open access token for connection %s: %w", c.ID, err)
	}
	if c.RefreshToken, err = db.encryptor.Open(refresh); err != nil {
		return nil, fmt.Errorf("open refresh token for connection %s: %w", c.ID, err)
	}
	return &c, nil
}

func (db *DB) sealTokens(access, refresh string) (string, string, error) {
	sa, err := db.encryptor.Seal(access)
	if err != nil {
		return "", "", fmt.Errorf("seal access token: %w", err)
	}
	sr, err := db.encryptor.Seal(refresh)
	if err != nil {
		return "", "", fmt.Errorf("seal refresh token: %w", err)
	}
	return sa, sr, nil
}

// nullTime converts an optional time to a driver value.
func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
