// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-dev/strata/internal/memory"
	"github.com/strata-dev/strata/internal/store"
	strataerr "github.com/strata-dev/strata/pkg/errors"
)

// frequentRecord builds an Interact record whose access pattern gives a
// mean interval well under two hours.
func frequentRecord(t *testing.T, deps testDeps, id string, accessCount int64) *store.Record {
	t.Helper()
	now := time.Now().UTC()
	rec := testRecord(t, deps.embedder, id, "frequently read "+id, store.LayerInteract)
	rec.CreatedAt = now.Add(-time.Hour)
	rec.LastAccess = now
	rec.AccessCount = accessCount
	return rec
}

func TestPromotionBelowAccessThresholdNeverMoves(t *testing.T) {
	deps := newTestDeps(t)
	vs := newTestVectorStore(t, deps)
	ctx := context.Background()

	require.NoError(t, vs.Insert(ctx, frequentRecord(t, deps, "cold", 4)))

	res, err := vs.RunPromotionCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.InteractToInsights)

	_, err = deps.store.Get(ctx, store.LayerInteract, "cold")
	assert.NoError(t, err)
}

func TestPromotionAtThresholdAlwaysMoves(t *testing.T) {
	deps := newTestDeps(t)
	vs := newTestVectorStore(t, deps)
	ctx := context.Background()

	rec := frequentRecord(t, deps, "hot", 5)
	require.NoError(t, vs.Insert(ctx, rec))

	res, err := vs.RunPromotionCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.InteractToInsights)
	assert.Zero(t, res.InsightsToAssets)

	// Gone from the source tier, present in the destination.
	_, err = deps.store.Get(ctx, store.LayerInteract, "hot")
	assert.True(t, strataerr.IsNotFound(err))

	moved, err := deps.store.Get(ctx, store.LayerInsights, "hot")
	require.NoError(t, err)
	assert.Equal(t, store.LayerInsights, moved.Layer)
}

func TestPromotionRequiresTightInterval(t *testing.T) {
	deps := newTestDeps(t)
	vs := newTestVectorStore(t, deps)
	ctx := context.Background()

	// Five accesses spread over three weeks: mean interval far above
	// two hours.
	now := time.Now().UTC()
	rec := testRecord(t, deps.embedder, "sparse", "rarely read", store.LayerInteract)
	rec.CreatedAt = now.Add(-21 * 24 * time.Hour)
	rec.LastAccess = now
	rec.AccessCount = 5
	require.NoError(t, vs.Insert(ctx, rec))

	res, err := vs.RunPromotionCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.InteractToInsights)
}

func TestPromotionPreservesAccessPattern(t *testing.T) {
	deps := newTestDeps(t)
	vs := newTestVectorStore(t, deps)
	ctx := context.Background()

	rec := frequentRecord(t, deps, "hot", 7)
	require.NoError(t, vs.Insert(ctx, rec))

	_, err := vs.RunPromotionCycle(ctx)
	require.NoError(t, err)

	moved, err := deps.store.Get(ctx, store.LayerInsights, "hot")
	require.NoError(t, err)
	assert.Equal(t, int64(7), moved.AccessCount)
	assert.Equal(t, rec.CreatedAt.Format(time.RFC3339Nano), moved.CreatedAt.Format(time.RFC3339Nano))
	assert.Equal(t, rec.Text, moved.Text)
	assert.Equal(t, rec.Embedding, moved.Embedding)
}

func TestPromotionInsightsToAssets(t *testing.T) {
	deps := newTestDeps(t)
	vs := newTestVectorStore(t, deps)
	ctx := context.Background()

	now := time.Now().UTC()
	aged := testRecord(t, deps.embedder, "aged", "eight days of service", store.LayerInsights)
	aged.CreatedAt = now.Add(-8 * 24 * time.Hour)
	aged.LastAccess = now
	aged.AccessCount = 10
	require.NoError(t, vs.Insert(ctx, aged))

	young := testRecord(t, deps.embedder, "young", "well read but new", store.LayerInsights)
	young.CreatedAt = now.Add(-time.Hour)
	young.LastAccess = now
	young.AccessCount = 50
	require.NoError(t, vs.Insert(ctx, young))

	res, err := vs.RunPromotionCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.InsightsToAssets)

	_, err = deps.store.Get(ctx, store.LayerAssets, "aged")
	assert.NoError(t, err)
	_, err = deps.store.Get(ctx, store.LayerInsights, "young")
	assert.NoError(t, err)
}

func TestPromotionAssetsTerminal(t *testing.T) {
	deps := newTestDeps(t)
	vs := newTestVectorStore(t, deps)
	ctx := context.Background()

	now := time.Now().UTC()
	rec := testRecord(t, deps.embedder, "settled", "permanent asset", store.LayerAssets)
	rec.CreatedAt = now.Add(-365 * 24 * time.Hour)
	rec.LastAccess = now
	rec.AccessCount = 9999
	require.NoError(t, vs.Insert(ctx, rec))

	res, err := vs.RunPromotionCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.InteractToInsights)
	assert.Zero(t, res.InsightsToAssets)

	_, err = deps.store.Get(ctx, store.LayerAssets, "settled")
	assert.NoError(t, err)
}

func TestPromotionSingleHopPerCycle(t *testing.T) {
	deps := newTestDeps(t)
	vs := newTestVectorStore(t, deps)
	ctx := context.Background()

	// Satisfies both rules at once; one cycle moves it one tier only.
	now := time.Now().UTC()
	rec := testRecord(t, deps.embedder, "eager", "qualified twice over", store.LayerInteract)
	rec.CreatedAt = now.Add(-8 * 24 * time.Hour)
	rec.LastAccess = now
	rec.AccessCount = 5000
	require.NoError(t, vs.Insert(ctx, rec))

	res, err := vs.RunPromotionCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.InteractToInsights)
	assert.Zero(t, res.InsightsToAssets)

	_, err = deps.store.Get(ctx, store.LayerInsights, "eager")
	assert.NoError(t, err)

	// The next cycle takes it the rest of the way.
	res, err = vs.RunPromotionCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.InsightsToAssets)
}

func TestPromotionMovedRecordIsSearchableInDestination(t *testing.T) {
	deps := newTestDeps(t)
	vs := newTestVectorStore(t, deps)
	ctx := context.Background()

	rec := frequentRecord(t, deps, "hot", 6)
	require.NoError(t, vs.Insert(ctx, rec))

	_, err := vs.RunPromotionCycle(ctx)
	require.NoError(t, err)

	got, err := vs.Search(ctx, rec.Embedding, store.LayerInteract, 1)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = vs.Search(ctx, rec.Embedding, store.LayerInsights, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hot", got[0].ID)
}

func TestPromotionViaAccessUpdates(t *testing.T) {
	deps := newTestDeps(t)
	vs := newTestVectorStore(t, deps)
	ctx := context.Background()

	rec := testRecord(t, deps.embedder, "organic", "earned its promotion", store.LayerInteract)
	rec.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, vs.Insert(ctx, rec))

	// Five quick reads push it over the threshold organically.
	for i := 0; i < 5; i++ {
		_, err := vs.Get(ctx, store.LayerInteract, "organic")
		require.NoError(t, err)
	}

	res, err := vs.RunPromotionCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.InteractToInsights)
}

func TestPromotionEligible(t *testing.T) {
	deps := newTestDeps(t)
	engine := memory.NewPromotionEngine(deps.store, nil, memory.DefaultPromotionPolicy(), nil)
	now := time.Now().UTC()

	tests := []struct {
		name string
		rec  store.Record
		want bool
	}{
		{
			name: "interact never accessed",
			rec:  store.Record{Layer: store.LayerInteract, CreatedAt: now.Add(-time.Hour)},
			want: false,
		},
		{
			name: "interact frequent",
			rec:  store.Record{Layer: store.LayerInteract, CreatedAt: now.Add(-time.Hour), LastAccess: now, AccessCount: 5},
			want: true,
		},
		{
			name: "interact four accesses",
			rec:  store.Record{Layer: store.LayerInteract, CreatedAt: now.Add(-time.Hour), LastAccess: now, AccessCount: 4},
			want: false,
		},
		{
			name: "insights old and read",
			rec:  store.Record{Layer: store.LayerInsights, CreatedAt: now.Add(-8 * 24 * time.Hour), LastAccess: now, AccessCount: 10},
			want: true,
		},
		{
			name: "insights too young",
			rec:  store.Record{Layer: store.LayerInsights, CreatedAt: now.Add(-24 * time.Hour), LastAccess: now, AccessCount: 10},
			want: false,
		},
		{
			name: "assets terminal",
			rec:  store.Record{Layer: store.LayerAssets, CreatedAt: now.Add(-30 * 24 * time.Hour), LastAccess: now, AccessCount: 100},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.Eligible(&tt.rec, now))
		})
	}
}

func TestSchedulerRunsCycles(t *testing.T) {
	deps := newTestDeps(t)
	vs := newTestVectorStore(t, deps)
	ctx := context.Background()

	require.NoError(t, vs.Insert(ctx, frequentRecord(t, deps, "hot", 6)))

	sched := memory.NewScheduler(vs.Promoter(), 10*time.Millisecond, nil)
	sched.Start()
	defer sched.Stop()

	require.Eventually(t, func() bool {
		_, err := deps.store.Get(ctx, store.LayerInsights, "hot")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	deps := newTestDeps(t)
	vs := newTestVectorStore(t, deps)

	sched := memory.NewScheduler(vs.Promoter(), time.Hour, nil)
	sched.Start()
	sched.Stop()
	sched.Stop()
}
