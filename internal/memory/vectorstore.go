// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

// Package memory composes the tiered store: persistent per-tier record
// storage, one vector index per tier, the embedding cache and provider,
// and the promotion engine, behind a single concurrency-limited facade.
package memory

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/strata-dev/strata/internal/index"
	"github.com/strata-dev/strata/internal/store"
	strataerr "github.com/strata-dev/strata/pkg/errors"
)

// Options wires a VectorStore together. Store, Cache, and Embedder are
// required; everything else has working defaults.
type Options struct {
	Store    store.LayerStore
	Cache    store.EmbeddingCache
	Embedder store.Embedder
	Logger   *slog.Logger

	// Index tunables; Dimensions is taken from the Embedder.
	MaxConnections int
	EfConstruction int
	EfSearch       int
	MaxElements    int

	// TierCapacity caps the vector count per tier; 0 or absent means
	// unlimited.
	TierCapacity map[store.Layer]int64

	Policy PromotionPolicy

	// MaxInFlight bounds concurrent insert/search operations. Defaults
	// to GOMAXPROCS.
	MaxInFlight int
}

// VectorStore is the facade callers interact with. Safe for concurrent
// use; heavy operations (insert, search) share a weighted semaphore
// sized to the available parallelism, so excess callers wait rather
// than fail.
type VectorStore struct {
	store    store.LayerStore
	indexes  map[store.Layer]store.VectorIndex
	cache    store.EmbeddingCache
	embedder store.Embedder
	promoter *PromotionEngine
	logger   *slog.Logger

	sem      *semaphore.Weighted
	dims     int
	capacity map[store.Layer]int64
	now      func() time.Time
}

// New builds the facade, loads one index per tier from the persisted
// records, and reconciles any duplicate ids left by an interrupted
// promotion in favor of the most advanced tier.
func New(ctx context.Context, opts Options) (*VectorStore, error) {
	if opts.Store == nil {
		return nil, strataerr.New(strataerr.CodeInternalFailure, "memory: nil layer store")
	}
	if opts.Cache == nil {
		return nil, strataerr.New(strataerr.CodeInternalFailure, "memory: nil embedding cache")
	}
	if opts.Embedder == nil {
		return nil, strataerr.New(strataerr.CodeInternalFailure, "memory: nil embedder")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = runtime.GOMAXPROCS(0)
	}

	dims := opts.Embedder.Dimensions()
	indexes := make(map[store.Layer]store.VectorIndex, len(store.Layers()))
	for _, l := range store.Layers() {
		indexes[l] = index.New(index.Config{
			Dimensions:     dims,
			MaxConnections: opts.MaxConnections,
			EfConstruction: opts.EfConstruction,
			EfSearch:       opts.EfSearch,
			MaxElements:    opts.MaxElements,
		})
	}

	s := &VectorStore{
		store:    opts.Store,
		indexes:  indexes,
		cache:    opts.Cache,
		embedder: opts.Embedder,
		promoter: NewPromotionEngine(opts.Store, indexes, opts.Policy, opts.Logger),
		logger:   opts.Logger,
		sem:      semaphore.NewWeighted(int64(opts.MaxInFlight)),
		dims:     dims,
		capacity: opts.TierCapacity,
		now:      time.Now,
	}

	if err := s.loadAndReconcile(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// loadAndReconcile walks the tiers from most to least advanced,
// indexing every record and deleting copies of ids already seen in a
// more advanced tier.
func (s *VectorStore) loadAndReconcile(ctx context.Context) error {
	layers := store.Layers()
	seen := make(map[string]struct{})

	for i := len(layers) - 1; i >= 0; i-- {
		layer := layers[i]
		for rec, err := range s.store.Iterate(ctx, layer) {
			if err != nil {
				return strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "loading tier at startup",
					strataerr.FieldLayer(string(layer)))
			}
			if _, dup := seen[rec.ID]; dup {
				s.logger.Warn("removing duplicate record from less advanced tier",
					"record_id", rec.ID, "layer", string(layer))
				if _, err := s.store.Delete(ctx, layer, rec.ID); err != nil {
					return strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "reconciling duplicate record",
						strataerr.FieldRecordID(rec.ID))
				}
				continue
			}
			seen[rec.ID] = struct{}{}
			if err := s.indexes[layer].Add(rec.ID, rec.Embedding); err != nil {
				return strataerr.Wrap(err, strataerr.CodeIndexRebuildFailure, "indexing record at startup",
					strataerr.FieldRecordID(rec.ID))
			}
		}
	}
	return nil
}

// Dimensions returns the embedding width this store enforces.
func (s *VectorStore) Dimensions() int { return s.dims }

// Insert validates and persists one record and adds its vector to the
// tier index. Missing id, timestamps, and layer get defaults (a new
// uuid, now, Interact).
func (s *VectorStore) Insert(ctx context.Context, rec *store.Record) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return strataerr.Wrap(err, strataerr.CodeInternalFailure, "acquiring insert permit")
	}
	defer s.sem.Release(1)

	s.applyDefaults(rec)
	if err := rec.Validate(s.dims); err != nil {
		return err
	}
	if err := s.checkCapacity(ctx, rec.Layer, 1); err != nil {
		return err
	}

	if err := s.store.Insert(ctx, rec); err != nil {
		return err
	}
	if err := s.indexes[rec.Layer].Add(rec.ID, rec.Embedding); err != nil {
		// Roll back so the record is not persisted but unsearchable.
		if _, delErr := s.store.Delete(ctx, rec.Layer, rec.ID); delErr != nil {
			s.logger.Error("rollback after index failure did not complete",
				"record_id", rec.ID, "error", delErr)
		}
		return err
	}
	return nil
}

// InsertBatch persists a batch with per-record outcomes. Validation
// failures fail only their own record; a batch that would push the tier
// past its capacity is refused wholesale before any write.
func (s *VectorStore) InsertBatch(ctx context.Context, recs []*store.Record) (store.BatchInsertResult, error) {
	start := time.Now()
	var res store.BatchInsertResult

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return res, strataerr.Wrap(err, strataerr.CodeInternalFailure, "acquiring insert permit")
	}
	defer s.sem.Release(1)

	perLayer := make(map[store.Layer]int)
	for _, rec := range recs {
		s.applyDefaults(rec)
		perLayer[rec.Layer]++
	}
	for layer, n := range perLayer {
		if err := s.checkCapacity(ctx, layer, n); err != nil {
			return res, err
		}
	}

	for _, rec := range recs {
		if err := s.insertOne(ctx, rec); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, store.BatchError{RecordID: rec.ID, Err: err})
			continue
		}
		res.Inserted++
	}

	res.TotalTime = time.Since(start)
	return res, nil
}

// InsertText embeds the record's text through the provider (cache in
// front) and inserts the result. The embedding field is overwritten.
func (s *VectorStore) InsertText(ctx context.Context, rec *store.Record) error {
	if rec.Text == "" {
		return strataerr.New(strataerr.CodeStoreRecordInvalid, "empty record text")
	}
	vector, err := s.embedQuery(ctx, rec.Text)
	if err != nil {
		return err
	}
	rec.Embedding = vector
	return s.Insert(ctx, rec)
}

// insertOne is the unguarded single-record path shared by InsertBatch.
func (s *VectorStore) insertOne(ctx context.Context, rec *store.Record) error {
	if err := rec.Validate(s.dims); err != nil {
		return err
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return err
	}
	return s.indexes[rec.Layer].Add(rec.ID, rec.Embedding)
}

func (s *VectorStore) applyDefaults(rec *store.Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Layer == "" {
		rec.Layer = store.LayerInteract
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
}

// checkCapacity refuses an addition that would push a tier past its
// configured maximum.
func (s *VectorStore) checkCapacity(ctx context.Context, layer store.Layer, adding int) error {
	limit, ok := s.capacity[layer]
	if !ok || limit <= 0 {
		return nil
	}
	count, err := s.store.Count(ctx, layer)
	if err != nil {
		return err
	}
	if count+int64(adding) > limit {
		return strataerr.New(strataerr.CodeStoreCapacityExceeded, "tier capacity exceeded",
			strataerr.FieldLayer(string(layer)),
			strataerr.Field("capacity", limit),
			strataerr.Field("current", count),
			strataerr.Field("adding", adding))
	}
	return nil
}

// scored pairs a hydrated record with its query similarity.
type scored struct {
	rec *store.Record
	sim float32
}

// Search returns up to k records from one tier ordered by descending
// similarity to the query vector. Returned records count as reads:
// their access pattern is bumped.
func (s *VectorStore) Search(ctx context.Context, query []float32, layer store.Layer, k int) ([]*store.Record, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, strataerr.Wrap(err, strataerr.CodeInternalFailure, "acquiring search permit")
	}
	defer s.sem.Release(1)

	hits, err := s.searchLayer(ctx, query, layer, k)
	if err != nil {
		return nil, err
	}

	out := make([]*store.Record, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	return out, nil
}

// searchLayer performs one tier search and hydrates the matches.
// Caller holds a semaphore permit.
func (s *VectorStore) searchLayer(ctx context.Context, query []float32, layer store.Layer, k int) ([]scored, error) {
	if !layer.Valid() {
		return nil, strataerr.New(strataerr.CodeStoreLayerInvalid, "invalid layer",
			strataerr.FieldLayer(string(layer)))
	}
	idx, ok := s.indexes[layer]
	if !ok {
		return nil, strataerr.New(strataerr.CodeIndexNotBuilt, "no index for tier",
			strataerr.FieldLayer(string(layer)))
	}

	matches, err := idx.Search(query, k)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	hits := make([]scored, 0, len(matches))
	for _, m := range matches {
		rec, err := s.store.Get(ctx, layer, m.ID)
		if err != nil {
			if strataerr.IsNotFound(err) {
				// Deleted since the index was read; drop the hit.
				continue
			}
			return nil, err
		}
		if err := s.store.UpdateAccess(ctx, layer, rec.ID, now); err != nil && !strataerr.IsNotFound(err) {
			return nil, err
		}
		rec.AccessCount++
		rec.LastAccess = now
		hits = append(hits, scored{rec: rec, sim: m.Score})
	}
	return hits, nil
}

// SearchText embeds the query through the provider (with the cache in
// front) and searches the given tiers, merging results by similarity.
// An empty layer list searches every tier. Provider failures propagate;
// no placeholder vectors are fabricated.
func (s *VectorStore) SearchText(ctx context.Context, text string, layers []store.Layer, k int) ([]*store.Record, error) {
	if text == "" {
		return nil, strataerr.New(strataerr.CodeStoreRecordInvalid, "empty query text")
	}
	if len(layers) == 0 {
		layers = store.Layers()
	}

	vector, err := s.embedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, strataerr.Wrap(err, strataerr.CodeInternalFailure, "acquiring search permit")
	}
	defer s.sem.Release(1)

	var all []scored
	for _, layer := range layers {
		hits, err := s.searchLayer(ctx, vector, layer, k)
		if err != nil {
			return nil, err
		}
		all = append(all, hits...)
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].sim > all[j].sim })
	if len(all) > k {
		all = all[:k]
	}

	out := make([]*store.Record, len(all))
	for i, h := range all {
		out[i] = h.rec
	}
	return out, nil
}

// embedQuery returns the embedding for text, consulting the cache
// before the provider.
func (s *VectorStore) embedQuery(ctx context.Context, text string) ([]float32, error) {
	model := s.embedder.Model()
	if v, ok := s.cache.Get(text, model); ok {
		return v, nil
	}

	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, strataerr.Wrap(err, strataerr.CodeEmbedProviderFailure, "embedding query text")
	}
	if len(vectors) != 1 {
		return nil, strataerr.Errorf(strataerr.CodeEmbedProviderFailure,
			"provider returned %d vectors for one input", len(vectors))
	}
	if len(vectors[0]) != s.dims {
		return nil, strataerr.New(strataerr.CodeEmbedDimensionMismatch, "provider returned wrong width",
			strataerr.FieldDimensions(s.dims, len(vectors[0])))
	}

	s.cache.Put(text, model, vectors[0])
	return vectors[0], nil
}

// Get fetches one record by id. A successful get counts as a read and
// bumps the access pattern.
func (s *VectorStore) Get(ctx context.Context, layer store.Layer, id string) (*store.Record, error) {
	rec, err := s.store.Get(ctx, layer, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.store.UpdateAccess(ctx, layer, id, now); err != nil && !strataerr.IsNotFound(err) {
		return nil, err
	}
	rec.AccessCount++
	rec.LastAccess = now
	return rec, nil
}

// UpdateScore rewrites a record's relevance score in place.
func (s *VectorStore) UpdateScore(ctx context.Context, layer store.Layer, id string, score float64) error {
	rec, err := s.store.Get(ctx, layer, id)
	if err != nil {
		return err
	}
	rec.Score = score
	return s.store.Update(ctx, rec)
}

// UpdateContent replaces a record's text and embedding, re-validating
// and re-indexing. Access tracking is untouched: content updates are
// writes, not reads.
func (s *VectorStore) UpdateContent(ctx context.Context, layer store.Layer, id, text string, embedding []float32) error {
	rec, err := s.store.Get(ctx, layer, id)
	if err != nil {
		return err
	}
	rec.Text = text
	rec.Embedding = embedding
	if err := rec.Validate(s.dims); err != nil {
		return err
	}
	if err := s.store.Update(ctx, rec); err != nil {
		return err
	}
	return s.indexes[layer].Add(id, embedding)
}

// Delete removes a record from its tier's store and index, reporting
// whether it existed.
func (s *VectorStore) Delete(ctx context.Context, id string, layer store.Layer) (bool, error) {
	existed, err := s.store.Delete(ctx, layer, id)
	if err != nil {
		return false, err
	}
	if idx, ok := s.indexes[layer]; ok {
		idx.Remove(id)
	}
	return existed, nil
}

// DeleteExpired removes every record in the tier whose last access is
// before cutoff, keeping the index in step, and returns how many went.
func (s *VectorStore) DeleteExpired(ctx context.Context, layer store.Layer, cutoff time.Time) (int64, error) {
	var expired []string
	for rec, err := range s.store.Iterate(ctx, layer) {
		if err != nil {
			return 0, strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "scanning tier for expiry",
				strataerr.FieldLayer(string(layer)))
		}
		if !rec.LastAccess.IsZero() && rec.LastAccess.Before(cutoff) {
			expired = append(expired, rec.ID)
		}
	}

	var removed int64
	for _, id := range expired {
		existed, err := s.Delete(ctx, id, layer)
		if err != nil {
			s.logger.Warn("expired record removal failed", "record_id", id, "error", err)
			continue
		}
		if existed {
			removed++
		}
	}
	return removed, nil
}

// RunPromotionCycle executes one promotion pass over all tiers.
func (s *VectorStore) RunPromotionCycle(ctx context.Context) (store.PromotionResult, error) {
	return s.promoter.RunCycle(ctx)
}

// Promoter exposes the engine for scheduling.
func (s *VectorStore) Promoter() *PromotionEngine { return s.promoter }

// CacheStats reports embedding cache occupancy and hit rate.
func (s *VectorStore) CacheStats() store.CacheStats { return s.cache.Stats() }

// IndexStats reports per-tier index statistics.
func (s *VectorStore) IndexStats() map[store.Layer]store.IndexStats {
	out := make(map[store.Layer]store.IndexStats, len(s.indexes))
	for layer, idx := range s.indexes {
		out[layer] = idx.Stats()
	}
	return out
}

// Stats summarises every tier of the persistent store.
func (s *VectorStore) Stats(ctx context.Context) (map[store.Layer]store.LayerStats, error) {
	out := make(map[store.Layer]store.LayerStats, len(store.Layers()))
	for _, layer := range store.Layers() {
		st, err := s.store.Stats(ctx, layer)
		if err != nil {
			return nil, err
		}
		out[layer] = st
	}
	return out, nil
}

// SizeOnDisk reports the bytes used by the backing store files.
func (s *VectorStore) SizeOnDisk() (int64, error) { return s.store.SizeOnDisk() }

// Close releases the underlying store.
func (s *VectorStore) Close() error { return s.store.Close() }
