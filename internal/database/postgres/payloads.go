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

	"gorm.io/gorm/clause"

	"github.com/tomtom215/vitalsync/internal/models"
)

// InsertRawPayload appends a payload. An existing id is left untouched and
// inserted is false.
func (s *Store) InsertRawPayload(ctx context.Context, p *models.RawPayload) (inserted bool, err error) {
	if p.ID == "" {
		return false, errors.New("raw payload id is required")
	}
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = time.Now().UTC()
	}

	db, cancel := s.conn(ctx)
	defer cancel()

	row := toPayloadRow(p)
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("failed to insert raw payload %s: %w", p.ID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetRawPayload returns the payload with id.
func (s *Store) GetRawPayload(ctx context.Context, id string) (*models.RawPayload, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var row payloadRow
	if err := db.Take(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "raw payload", id)
	}
	p := row.model()
	return &p, nil
}

// ListRawPayloads returns a user's payloads received at or after since, in
// arrival order. An empty provider matches every provider.
func (s *Store) ListRawPayloads(ctx context.Context, userID, provider string, since time.Time) ([]models.RawPayload, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	query := db.Where("user_id = ? AND received_at >= ?", userID, since.UTC())
	if provider != "" {
		query = query.Where("provider = ?", provider)
	}
	var rows []payloadRow
	if err := query.Order("received_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list raw payloads: %w", err)
	}

	out := make([]models.RawPayload, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].model())
	}
	return out, nil
}
