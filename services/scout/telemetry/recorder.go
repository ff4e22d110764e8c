// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianScout/services/scout/datatypes"
)

// =============================================================================
// Recorder
// =============================================================================

// tierCounters tracks outcomes for one resolution tier.
type tierCounters struct {
	served int64
	failed int64
}

// kindCounters tracks outcomes for one query kind.
type kindCounters struct {
	success int64
	failure int64
}

// Recorder counts which tier answered each resolve and how each query
// kind fared, for the lifetime of the process.
//
// # Description
//
// The resolver records exactly one success per resolve (the tier that
// produced the returned bundle) plus a failure for each tier that was
// tried and could not answer. Because of that, the per-tier served
// counts always sum to the number of resolves.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The counter maps are fixed
// at construction; only the int64 fields behind them change, and those
// change atomically.
type Recorder struct {
	tiers map[datatypes.Tier]*tierCounters
	kinds map[datatypes.Kind]*kindCounters
}

// NewRecorder returns a Recorder with every counter at zero.
//
// Counters reset only when the process restarts; there is no reset
// method.
func NewRecorder() *Recorder {
	r := &Recorder{
		tiers: make(map[datatypes.Tier]*tierCounters, 3),
		kinds: make(map[datatypes.Kind]*kindCounters, 4),
	}
	for _, t := range datatypes.Tiers() {
		r.tiers[t] = &tierCounters{}
	}
	for _, k := range datatypes.Kinds() {
		r.kinds[k] = &kindCounters{}
	}
	return r
}

// Record counts one tier outcome for the given query.
//
// Description:
//
//	A success means the tier produced the bundle the caller received; a
//	failure means the tier was consulted and could not answer. A cache
//	miss is not recorded at all; only a live attempt that exhausted its
//	retries, or a tier error, counts as a failure.
//
// Inputs:
//
//	query - The resolved query. A nil query only skips the kind counters.
//	tier - The tier that produced the outcome.
//	success - Whether the tier answered.
//
// Thread Safety: Safe for concurrent use.
func (r *Recorder) Record(query *datatypes.Query, tier datatypes.Tier, success bool) {
	if tc, ok := r.tiers[tier]; ok {
		if success {
			atomic.AddInt64(&tc.served, 1)
		} else {
			atomic.AddInt64(&tc.failed, 1)
		}
	}
	if query == nil {
		return
	}
	if kc, ok := r.kinds[query.Kind]; ok {
		if success {
			atomic.AddInt64(&kc.success, 1)
		} else {
			atomic.AddInt64(&kc.failure, 1)
		}
	}
}

// TotalResolves returns the number of resolves served so far.
func (r *Recorder) TotalResolves() int64 {
	var total int64
	for _, tc := range r.tiers {
		total += atomic.LoadInt64(&tc.served)
	}
	return total
}

// =============================================================================
// Summary
// =============================================================================

// TierSummary is the read-side view of one tier's counters.
type TierSummary struct {
	// Served is how many resolves this tier answered.
	Served int64 `json:"served"`

	// Failed is how many times this tier was consulted and could not
	// answer.
	Failed int64 `json:"failed"`

	// SharePercent is Served as a percentage of all resolves.
	SharePercent float64 `json:"share_percent"`
}

// KindSummary is the read-side view of one query kind's counters.
type KindSummary struct {
	Success int64 `json:"success"`
	Failure int64 `json:"failure"`

	// SuccessPercent is Success as a percentage of all recorded
	// outcomes for this kind.
	SuccessPercent float64 `json:"success_percent"`
}

// Summary is a point-in-time snapshot of the recorder.
type Summary struct {
	TotalResolves int64                  `json:"total_resolves"`
	Tiers         map[string]TierSummary `json:"tiers"`
	Kinds         map[string]KindSummary `json:"kinds"`
	GeneratedAt   time.Time              `json:"generated_at"`
}

// Summary snapshots the counters and derives the percentages.
//
// Description:
//
//	Percentages are computed here, on read, never stored. The snapshot
//	is a copy; holding it does not pin the recorder, and later Records
//	do not change it.
//
// Outputs:
//
//	Summary - Counts and percentages at the moment of the call.
//
// Thread Safety: Safe for concurrent use.
func (r *Recorder) Summary() Summary {
	s := Summary{
		Tiers:       make(map[string]TierSummary, len(r.tiers)),
		Kinds:       make(map[string]KindSummary, len(r.kinds)),
		GeneratedAt: time.Now().UTC(),
	}

	for tier, tc := range r.tiers {
		served := atomic.LoadInt64(&tc.served)
		s.TotalResolves += served
		s.Tiers[tier.String()] = TierSummary{
			Served: served,
			Failed: atomic.LoadInt64(&tc.failed),
		}
	}
	if s.TotalResolves > 0 {
		for name, ts := range s.Tiers {
			ts.SharePercent = percent(ts.Served, s.TotalResolves)
			s.Tiers[name] = ts
		}
	}

	for kind, kc := range r.kinds {
		success := atomic.LoadInt64(&kc.success)
		failure := atomic.LoadInt64(&kc.failure)
		ks := KindSummary{Success: success, Failure: failure}
		if outcomes := success + failure; outcomes > 0 {
			ks.SuccessPercent = percent(success, outcomes)
		}
		s.Kinds[kind.String()] = ks
	}

	return s
}

// percent returns part/whole as a percentage. Callers guard whole > 0.
func percent(part, whole int64) float64 {
	return float64(part) / float64(whole) * 100
}
