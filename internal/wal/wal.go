// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package wal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/vitalsync/internal/logging"
	"github.com/tomtom215/vitalsync/internal/metrics"
)

var (
	ErrWALClosed     = errors.New("wal is closed")
	ErrEntryNotFound = errors.New("wal entry not found")
	ErrEmptyTopic    = errors.New("wal entry has no topic")
)

// Key prefixes.
const (
	prefixPending = "pending:"
	prefixDead    = "dead:"
)

// Entry is one event waiting to be published.
type Entry struct {
	ID            string            `json:"id"`
	Topic         string            `json:"topic"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	Attempts      int               `json:"attempts"`
	LastAttemptAt time.Time         `json:"last_attempt_at,omitempty"`
	LastError     string            `json:"last_error,omitempty"`
}

// Options configures Open.
type Options struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	// Compression enables Snappy block compression.
	Compression bool
	// EntryTTL expires entries that were never confirmed. Zero keeps them.
	EntryTTL time.Duration
	// GCRatio is the value log discard ratio for RunGC.
	GCRatio float64
}

// Stats summarizes the WAL.
type Stats struct {
	Pending       int64
	DeadLettered  int64
	TotalWrites   int64
	TotalConfirms int64
	TotalRetries  int64
}

// BadgerWAL is a WAL on BadgerDB.
type BadgerWAL struct {
	db   *badger.DB
	opts Options

	totalWrites   atomic.Int64
	totalConfirms atomic.Int64
	totalRetries  atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the WAL.
func Open(opts Options) (*BadgerWAL, error) {
	if !opts.InMemory && opts.Path == "" {
		return nil, errors.New("wal path is required")
	}
	if opts.GCRatio <= 0 || opts.GCRatio >= 1 {
		opts.GCRatio = 0.5
	}

	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.SyncWrites = opts.SyncWrites
	bopts.Logger = nil
	if opts.Compression {
		bopts.Compression = options.Snappy
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	w := &BadgerWAL{db: db, opts: opts}
	logging.Info().
		Str("path", opts.Path).
		Bool("in_memory", opts.InMemory).
		Bool("sync_writes", opts.SyncWrites).
		Msg("WAL opened")
	return w, nil
}

func (w *BadgerWAL) checkOpen() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWALClosed
	}
	return nil
}

// Write persists entry under a new ID and returns it.
func (w *BadgerWAL) Write(_ context.Context, entry *Entry) (string, error) {
	if err := w.checkOpen(); err != nil {
		return "", err
	}
	if entry.Topic == "" {
		return "", ErrEmptyTopic
	}

	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now().UTC()
	entry.Attempts = 0

	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}
	err = w.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(prefixPending+entry.ID), data)
		if w.opts.EntryTTL > 0 {
			e = e.WithTTL(w.opts.EntryTTL)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return "", fmt.Errorf("write to BadgerDB: %w", err)
	}

	w.totalWrites.Add(1)
	metrics.WALWrites.Inc()
	return entry.ID, nil
}

// Confirm removes a published entry.
func (w *BadgerWAL) Confirm(_ context.Context, id string) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	key := []byte(prefixPending + id)
	err := w.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrEntryNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("confirm %s: %w", id, err)
	}
	w.totalConfirms.Add(1)
	return nil
}

// Pending returns up to limit unconfirmed entries. A limit of zero returns
// all of them.
func (w *BadgerWAL) Pending(ctx context.Context, limit int) ([]*Entry, error) {
	return w.list(ctx, prefixPending, limit)
}

// DeadLetters returns up to limit dead-lettered entries.
func (w *BadgerWAL) DeadLetters(ctx context.Context, limit int) ([]*Entry, error) {
	return w.list(ctx, prefixDead, limit)
}

func (w *BadgerWAL) list(ctx context.Context, prefix string, limit int) ([]*Entry, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}

	var entries []*Entry
	err := w.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var entry Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("WAL failed to unmarshal entry")
				continue
			}
			entries = append(entries, &entry)
			if limit > 0 && len(entries) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate %s entries: %w", prefix, err)
	}
	return entries, nil
}

// RecordFailure counts a failed publish and returns the new attempt count.
func (w *BadgerWAL) RecordFailure(_ context.Context, id string, cause error) (int, error) {
	if err := w.checkOpen(); err != nil {
		return 0, err
	}

	key := []byte(prefixPending + id)
	var attempts int
	err := w.db.Update(func(txn *badger.Txn) error {
		entry, item, err := getEntry(txn, key)
		if err != nil {
			return err
		}
		entry.Attempts++
		entry.LastAttemptAt = time.Now().UTC()
		if cause != nil {
			entry.LastError = cause.Error()
		}
		attempts = entry.Attempts

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		e := badger.NewEntry(key, data)
		if exp := item.ExpiresAt(); exp > 0 {
			e = e.WithTTL(time.Until(time.Unix(int64(exp), 0)))
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return 0, fmt.Errorf("record failure for %s: %w", id, err)
	}

	w.totalRetries.Add(1)
	metrics.WALRetries.Inc()
	return attempts, nil
}

// DeadLetter moves a pending entry out of the retry set.
func (w *BadgerWAL) DeadLetter(_ context.Context, id string) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	pendingKey := []byte(prefixPending + id)
	err := w.db.Update(func(txn *badger.Txn) error {
		entry, _, err := getEntry(txn, pendingKey)
		if err != nil {
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		e := badger.NewEntry([]byte(prefixDead+id), data)
		if w.opts.EntryTTL > 0 {
			e = e.WithTTL(w.opts.EntryTTL)
		}
		if err := txn.SetEntry(e); err != nil {
			return err
		}
		return txn.Delete(pendingKey)
	})
	if err != nil {
		return fmt.Errorf("dead-letter %s: %w", id, err)
	}
	metrics.WALDeadLettered.Inc()
	return nil
}

func getEntry(txn *badger.Txn, key []byte) (*Entry, *badger.Item, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get entry: %w", err)
	}
	var entry Entry
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	}); err != nil {
		return nil, nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return &entry, item, nil
}

// Stats counts entries by prefix and reports lifetime counters.
func (w *BadgerWAL) Stats() Stats {
	if w.checkOpen() != nil {
		return Stats{}
	}
	s := Stats{
		TotalWrites:   w.totalWrites.Load(),
		TotalConfirms: w.totalConfirms.Load(),
		TotalRetries:  w.totalRetries.Load(),
	}
	_ = w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		s.Pending = countPrefix(it, prefixPending)
		s.DeadLettered = countPrefix(it, prefixDead)
		return nil
	})
	metrics.WALPending.Set(float64(s.Pending))
	return s
}

func countPrefix(it *badger.Iterator, prefix string) int64 {
	var n int64
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		n++
	}
	return n
}

// RunGC reclaims value log space until BadgerDB reports nothing to rewrite.
// It is a no-op for an in-memory WAL.
func (w *BadgerWAL) RunGC() error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if w.opts.InMemory {
		return nil
	}
	for {
		err := w.db.RunValueLogGC(w.opts.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Close closes the database. It is safe to call more than once.
func (w *BadgerWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Msg("WAL closed")
	return nil
}
