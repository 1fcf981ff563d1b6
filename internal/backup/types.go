// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package backup

import (
	"context"
	"errors"
	"time"
)

// Trigger says what started a backup.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// Status of a backup.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	ErrNotFound       = errors.New("backup not found")
	ErrInProgress     = errors.New("a backup is already running")
	ErrChecksum       = errors.New("backup checksum mismatch")
	ErrNotFileBacked  = errors.New("database is not file backed")
	ErrUnsafeArchive  = errors.New("archive entry escapes destination")
	errMissingArchive = errors.New("backup archive is missing")
)

// Backup describes one archive.
type Backup struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Trigger   Trigger       `json:"trigger"`
	Status    Status        `json:"status"`
	FileName  string        `json:"file_name,omitempty"`
	Size      int64         `json:"size_bytes"`
	DBSize    int64         `json:"db_size_bytes"`
	Checksum  string        `json:"checksum,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`
}

// Source is the database being backed up.
type Source interface {
	Path() string
	Checkpoint(ctx context.Context) error
}

type metadata struct {
	Backups []*Backup `json:"backups"`
}
