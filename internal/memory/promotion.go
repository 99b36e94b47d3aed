// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/strata-dev/strata/internal/store"
	strataerr "github.com/strata-dev/strata/pkg/errors"
)

// PromotionPolicy holds the tunable eligibility thresholds for tier
// promotion.
type PromotionPolicy struct {
	// Interact to Insights: at least this many accesses with a mean
	// interval between them below the maximum.
	InteractMinAccess       int64
	InteractMaxMeanInterval time.Duration

	// Insights to Assets: at least this many accesses and older than
	// the minimum age.
	InsightsMinAccess int64
	InsightsMinAge    time.Duration
}

// DefaultPromotionPolicy returns the standard thresholds.
func DefaultPromotionPolicy() PromotionPolicy {
	return PromotionPolicy{
		InteractMinAccess:       5,
		InteractMaxMeanInterval: 2 * time.Hour,
		InsightsMinAccess:       10,
		InsightsMinAge:          7 * 24 * time.Hour,
	}
}

// PromotionEngine advances records through the tiers. Promotion only
// moves forward; records in Assets stay there.
//
// A cycle is not atomic across a tier: each eligible record moves
// independently, and a failure is logged and skipped. Eligibility is
// re-evaluated from persisted state, so an interrupted cycle simply
// finishes the remaining records on the next run.
type PromotionEngine struct {
	store   store.LayerStore
	indexes map[store.Layer]store.VectorIndex
	policy  PromotionPolicy
	logger  *slog.Logger

	// tierMu serializes cycles per source tier.
	tierMu map[store.Layer]*sync.Mutex

	now func() time.Time
}

// NewPromotionEngine creates an engine over the shared store and
// per-tier indexes. A nil logger falls back to slog.Default().
func NewPromotionEngine(st store.LayerStore, indexes map[store.Layer]store.VectorIndex, policy PromotionPolicy, logger *slog.Logger) *PromotionEngine {
	if logger == nil {
		logger = slog.Default()
	}
	mu := make(map[store.Layer]*sync.Mutex, len(store.Layers()))
	for _, l := range store.Layers() {
		mu[l] = &sync.Mutex{}
	}
	return &PromotionEngine{
		store:   st,
		indexes: indexes,
		policy:  policy,
		logger:  logger,
		tierMu:  mu,
		now:     time.Now,
	}
}

// Eligible reports whether the record qualifies for promotion to the
// next tier at the given instant. Records that were never accessed are
// never eligible.
func (e *PromotionEngine) Eligible(rec *store.Record, now time.Time) bool {
	switch rec.Layer {
	case store.LayerInteract:
		if rec.AccessCount < e.policy.InteractMinAccess {
			return false
		}
		return meanAccessInterval(rec) < e.policy.InteractMaxMeanInterval
	case store.LayerInsights:
		return rec.AccessCount >= e.policy.InsightsMinAccess &&
			now.Sub(rec.CreatedAt) > e.policy.InsightsMinAge
	default:
		return false
	}
}

// meanAccessInterval estimates the average time between accesses as the
// record's active span divided by its access count.
func meanAccessInterval(rec *store.Record) time.Duration {
	if rec.AccessCount <= 0 {
		return time.Duration(1<<63 - 1)
	}
	return rec.LastAccess.Sub(rec.CreatedAt) / time.Duration(rec.AccessCount)
}

// RunCycle evaluates every promotable tier once and moves the eligible
// records. Insights is processed before Interact so a record advances
// at most one tier per cycle.
func (e *PromotionEngine) RunCycle(ctx context.Context) (store.PromotionResult, error) {
	var res store.PromotionResult

	moved, err := e.promoteTier(ctx, store.LayerInsights)
	res.InsightsToAssets = moved
	if err != nil {
		return res, err
	}

	moved, err = e.promoteTier(ctx, store.LayerInteract)
	res.InteractToInsights = moved
	return res, err
}

// promoteTier runs one promotion pass over a single source tier,
// returning how many records moved. Cycles for the same tier never
// overlap.
func (e *PromotionEngine) promoteTier(ctx context.Context, layer store.Layer) (int, error) {
	next, ok := layer.Next()
	if !ok {
		return 0, nil
	}

	e.tierMu[layer].Lock()
	defer e.tierMu[layer].Unlock()

	// Snapshot the eligible set first so moves do not mutate the tier
	// under its own iterator.
	now := e.now()
	var eligible []*store.Record
	for rec, err := range e.store.Iterate(ctx, layer) {
		if err != nil {
			return 0, strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "scanning tier for promotion",
				strataerr.FieldLayer(string(layer)))
		}
		if e.Eligible(rec, now) {
			eligible = append(eligible, rec)
		}
	}

	moved := 0
	for _, rec := range eligible {
		if err := e.move(ctx, rec, next); err != nil {
			e.logger.Warn("record promotion skipped",
				"record_id", rec.ID,
				"from", string(rec.Layer),
				"to", string(next),
				"error", err)
			continue
		}
		moved++
	}
	return moved, nil
}

// move re-homes one record into the destination tier: destination
// store and index first, then removal from the source. A crash in
// between leaves a duplicate, which startup reconciliation resolves in
// favor of the destination. The access pattern is carried over intact
// so eligibility for the following promotion keeps accruing.
func (e *PromotionEngine) move(ctx context.Context, rec *store.Record, next store.Layer) error {
	dst := rec.Clone()
	dst.Layer = next

	if err := e.store.Insert(ctx, dst); err != nil {
		return strataerr.Wrap(err, strataerr.CodePromotionMoveFailure, "inserting into destination tier")
	}
	if idx, ok := e.indexes[next]; ok {
		if err := idx.Add(dst.ID, dst.Embedding); err != nil {
			return strataerr.Wrap(err, strataerr.CodePromotionMoveFailure, "indexing in destination tier")
		}
	}

	if _, err := e.store.Delete(ctx, rec.Layer, rec.ID); err != nil {
		return strataerr.Wrap(err, strataerr.CodePromotionMoveFailure, "removing from source tier")
	}
	if idx, ok := e.indexes[rec.Layer]; ok {
		idx.Remove(rec.ID)
	}
	return nil
}

// Scheduler drives periodic promotion cycles in the background.
type Scheduler struct {
	engine   *PromotionEngine
	interval time.Duration
	logger   *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stop      chan struct{}
	done      chan struct{}
}

// NewScheduler creates a stopped scheduler running one cycle per
// interval. A nil logger falls back to slog.Default().
func NewScheduler(engine *PromotionEngine, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. Calling Start again is a no-op.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.started = true
		go s.run()
	})
}

// Stop halts the loop and waits for an in-flight cycle to finish.
// Stopping a scheduler that never started is a no-op.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	if s.started {
		<-s.done
	}
}

func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			res, err := s.engine.RunCycle(context.Background())
			if err != nil {
				s.logger.Warn("promotion cycle failed", "error", err)
				continue
			}
			if res.InteractToInsights > 0 || res.InsightsToAssets > 0 {
				s.logger.Info("promotion cycle complete",
					"interact_to_insights", res.InteractToInsights,
					"insights_to_assets", res.InsightsToAssets)
			}
		}
	}
}
