// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

// Package backup snapshots the embedded DuckDB file.
//
// A backup checkpoints the database, then streams the file into a gzipped
// tar archive while hashing it with SHA-256. Archive metadata lives in
// metadata.json next to the archives:
//
//	/data/backups/
//	├── metadata.json
//	├── vitalsync-20260301-030000-1a2b3c4d.tar.gz
//	└── vitalsync-20260302-030000-5e6f7a8b.tar.gz
//
// Run creates backups on a six-field cron schedule and prunes afterwards:
// the newest KeepCount archives are always kept and anything older than
// MaxAge beyond them is deleted. Restoring is an offline operation; Extract
// unpacks an archive into a directory after checking its checksum.
package backup
