// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

/*
Package analytics derives statistics from normalized metric series.

The pure functions operate on an ordered slice of Reading values for one
metric:

  - Summarize: count, mean, median, population standard deviation, min, max
  - TimeInRange: percent below, within and above a band
  - EstimateA1C and GMI: glucose indices from a mean in mg/dL
  - DetectEvents: sustained hypo and hyper excursions
  - Correlate: Pearson's r over the days two metrics share

Every function is unit aware. Values are expressed in the unit of the first
reading, and readings that cannot be converted to it are skipped.

Service reads series from the store and memoizes results in a cache.LRU
keyed per user. The events subscriber calls InvalidateUser whenever new
metrics for a user are stored, so cached results never outlive the data they
were computed from by more than one event delivery.
*/
package analytics
