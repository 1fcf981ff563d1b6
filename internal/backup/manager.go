// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/tomtom215/vitalsync/internal/config"
	"github.com/tomtom215/vitalsync/internal/logging"
	"github.com/tomtom215/vitalsync/internal/metrics"
)

const metadataFile = "metadata.json"

// Manager creates, lists and prunes backups of one database.
type Manager struct {
	cfg      config.BackupConfig
	src      Source
	schedule cron.Schedule

	mu      sync.RWMutex
	backups []*Backup
	running bool

	now func() time.Time
}

// NewManager creates the backup directory and loads existing metadata.
func NewManager(cfg config.BackupConfig, src Source) (*Manager, error) {
	if src.Path() == "" || src.Path() == ":memory:" {
		return nil, ErrNotFileBacked
	}
	if cfg.KeepCount <= 0 {
		cfg.KeepCount = 7
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "0 0 3 * * *"
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse backup schedule %q: %w", cfg.Schedule, err)
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	m := &Manager{
		cfg:      cfg,
		src:      src,
		schedule: schedule,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if err := m.loadMetadata(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) loadMetadata() error {
	data, err := os.ReadFile(filepath.Join(m.cfg.Dir, metadataFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read backup metadata: %w", err)
	}
	var md metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return fmt.Errorf("decode backup metadata: %w", err)
	}
	m.backups = md.Backups
	return nil
}

// saveMetadataLocked writes metadata atomically. Callers hold mu.
func (m *Manager) saveMetadataLocked() error {
	data, err := json.MarshalIndent(metadata{Backups: m.backups}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode backup metadata: %w", err)
	}
	path := filepath.Join(m.cfg.Dir, metadataFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write backup metadata: %w", err)
	}
	return os.Rename(tmp, path)
}

// Create takes a backup now. Only one backup runs at a time.
func (m *Manager) Create(ctx context.Context, trigger Trigger) (*Backup, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil, ErrInProgress
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	began := time.Now()
	start := m.now()
	b := &Backup{
		ID:        uuid.NewString(),
		CreatedAt: start,
		Trigger:   trigger,
	}
	b.FileName = fmt.Sprintf("vitalsync-%s-%s.tar.gz", start.Format("20060102-150405"), b.ID[:8])

	err := m.snapshot(ctx, b)
	b.Duration = time.Since(began)
	if err != nil {
		b.Status = StatusFailed
		b.Error = err.Error()
		b.FileName = ""
	} else {
		b.Status = StatusCompleted
	}

	m.mu.Lock()
	m.backups = append(m.backups, b)
	saveErr := m.saveMetadataLocked()
	m.mu.Unlock()

	metrics.BackupsTotal.WithLabelValues(string(trigger), string(b.Status)).Inc()
	if err != nil {
		logging.Error().Err(err).Str("backup_id", b.ID).Str("trigger", string(trigger)).Msg("Backup failed")
		return b, err
	}
	metrics.BackupLastSuccess.Set(float64(start.Unix()))
	logging.Info().
		Str("backup_id", b.ID).
		Str("file", b.FileName).
		Int64("size_bytes", b.Size).
		Dur("duration", b.Duration).
		Msg("Backup completed")
	if saveErr != nil {
		return b, saveErr
	}
	return b, nil
}

func (m *Manager) snapshot(ctx context.Context, b *Backup) error {
	if err := m.src.Checkpoint(ctx); err != nil {
		logging.Warn().Err(err).Msg("Checkpoint failed, backup may miss recent writes")
	}

	dbPath := m.src.Path()
	info, err := os.Stat(dbPath)
	if err != nil {
		return fmt.Errorf("stat database: %w", err)
	}
	b.DBSize = info.Size()

	archive := filepath.Join(m.cfg.Dir, b.FileName)
	checksum, err := writeArchive(archive, dbPath)
	if err != nil {
		return err
	}
	b.Checksum = checksum
	if info, err := os.Stat(archive); err == nil {
		b.Size = info.Size()
	}
	return nil
}

// List returns all backups, newest first.
func (m *Manager) List() []Backup {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Backup, 0, len(m.backups))
	for i := len(m.backups) - 1; i >= 0; i-- {
		out = append(out, *m.backups[i])
	}
	return out
}

// Get returns one backup.
func (m *Manager) Get(id string) (*Backup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b := m.findLocked(id); b != nil {
		cp := *b
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *Manager) findLocked(id string) *Backup {
	for _, b := range m.backups {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// Delete removes a backup and its archive.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.findLocked(id)
	if b == nil {
		return ErrNotFound
	}
	if err := m.removeLocked(b); err != nil {
		return err
	}
	return m.saveMetadataLocked()
}

func (m *Manager) removeLocked(b *Backup) error {
	if b.FileName != "" {
		err := os.Remove(filepath.Join(m.cfg.Dir, b.FileName))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove archive: %w", err)
		}
	}
	m.backups = slices.DeleteFunc(m.backups, func(x *Backup) bool { return x.ID == b.ID })
	return nil
}

// Verify recomputes a completed backup's checksum.
func (m *Manager) Verify(id string) error {
	b, err := m.Get(id)
	if err != nil {
		return err
	}
	if b.Status != StatusCompleted {
		return fmt.Errorf("backup %s did not complete", id)
	}
	sum, err := fileChecksum(filepath.Join(m.cfg.Dir, b.FileName))
	if errors.Is(err, os.ErrNotExist) {
		return errMissingArchive
	}
	if err != nil {
		return fmt.Errorf("checksum archive: %w", err)
	}
	if sum != b.Checksum {
		return ErrChecksum
	}
	return nil
}

// Extract verifies a backup and unpacks it into destDir. The database file
// lands at destDir/database/vitalsync.duckdb.
func (m *Manager) Extract(id, destDir string) ([]string, error) {
	if err := m.Verify(id); err != nil {
		return nil, err
	}
	b, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return extractArchive(filepath.Join(m.cfg.Dir, b.FileName), destDir)
}

// Prune applies retention: the newest KeepCount completed backups stay, and
// older ones are removed once past MaxAge. Failed records past MaxAge go
// too. It returns the number removed.
func (m *Manager) Prune() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	completed := 0
	var victims []*Backup
	for i := len(m.backups) - 1; i >= 0; i-- {
		b := m.backups[i]
		expired := m.cfg.MaxAge > 0 && now.Sub(b.CreatedAt) > m.cfg.MaxAge
		if b.Status == StatusCompleted {
			completed++
			if completed <= m.cfg.KeepCount {
				continue
			}
			if m.cfg.MaxAge > 0 && !expired {
				continue
			}
		} else if !expired {
			continue
		}
		victims = append(victims, b)
	}

	var errs []error
	removed := 0
	for _, b := range victims {
		if err := m.removeLocked(b); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		errs = append(errs, m.saveMetadataLocked())
		logging.Info().Int("removed", removed).Msg("Pruned old backups")
	}
	return removed, errors.Join(errs...)
}

// Run takes scheduled backups until ctx is canceled.
func (m *Manager) Run(ctx context.Context) error {
	for {
		next := m.schedule.Next(m.now())
		logging.Debug().Time("next_backup", next).Msg("Backup scheduled")
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if _, err := m.Create(ctx, TriggerScheduled); err != nil {
			if errors.Is(err, ErrInProgress) {
				logging.Debug().Msg("Scheduled backup skipped, another backup is running")
			} else {
				logging.Warn().Err(err).Msg("Scheduled backup did not complete")
			}
			continue
		}
		if _, err := m.Prune(); err != nil {
			logging.Warn().Err(err).Msg("Backup pruning failed")
		}
	}
}
