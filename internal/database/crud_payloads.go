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
	"strings"
	"time"

	"github.com/tomtom215/vitalsync/internal/models"
)

const payloadColumns = `id, provider, user_id, connection_id, source, event_type, signature_valid, body, received_at`

// InsertRawPayload appends a payload. A payload whose id already exists is
// left untouched and inserted is false; redelivered webhooks land here.
func (db *DB) InsertRawPayload(ctx context.Context, p *models.RawPayload) (inserted bool, err error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	if p.ID == "" {
		return false, errors.New("raw payload id is required")
	}
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = time.Now().UTC()
	}

	var affected int64
	err = withConflictRetry(ctx, func() error {
		res, execErr := db.conn.ExecContext(ctx, `INSERT INTO raw_payloads (`+payloadColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			p.ID, p.Provider, p.UserID, p.ConnectionID, string(p.Source), p.EventType, p.SignatureValid,
			string(p.Body), p.ReceivedAt.UTC())
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return false, fmt.Errorf("failed to insert raw payload %s: %w", p.ID, err)
	}
	return affected > 0, nil
}

// GetRawPayload returns the payload with id.
func (db *DB) GetRawPayload(ctx context.Context, id string) (*models.RawPayload, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `SELECT `+payloadColumns+` FROM raw_payloads WHERE id = ?`, id)
	p, err := scanPayload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("raw payload %s: %w", id, ErrNotFound)
	}
	return p, err
}

// ListRawPayloads returns a user's payloads received at or after since, in
// arrival order. An empty provider matches every provider.
func (db *DB) ListRawPayloads(ctx context.Context, userID, provider string, since time.Time) ([]models.RawPayload, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	var sb strings.Builder
	sb.WriteString(`SELECT ` + payloadColumns + ` FROM raw_payloads WHERE user_id = ? AND received_at >= ?`)
	args := []interface{}{userID, since.UTC()}
	if provider != "" {
		sb.WriteString(` AND provider = ?`)
		args = append(args, provider)
	}
	sb.WriteString(` ORDER BY received_at, id`)

	rows, err := db.conn.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw payloads: %w", err)
	}
	defer closeWithLog(rows, "raw payload rows")

	var out []models.RawPayload
	for rows.Next() {
		p, err := scanPayload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPayload(row rowScanner) (*models.RawPayload, error) {
	var (
		p      models.RawPayload
		source string
		body   string
	)
	err := row.Scan(&p.ID, &p.Provider, &p.UserID, &p.ConnectionID, &source, &p.EventType, &p.SignatureValid,
		&body, &p.ReceivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan raw payload: %w", err)
	}
	p.Source = models.PayloadSource(source)
	p.Body = []byte(body)
	p.ReceivedAt = p.ReceivedAt.UTC()
	return &p, nil
}
