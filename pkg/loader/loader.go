// Package loader materializes complete, launchable update records from
// either the embedded manifest or a network-fetched one, with per-asset
// failure isolation and partial-progress bookkeeping.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"otafs/pkg/db"
	"otafs/pkg/fetcher"
	"otafs/pkg/log"
	"otafs/pkg/models"
)

// DefaultConcurrency bounds the per-load asset fan-out.
const DefaultConcurrency = 4

// AssetFailure records one asset that could not be materialized.
type AssetFailure struct {
	Key    string
	Launch bool
	Err    error
}

// Outcome reports what a load did. A non-nil Outcome with FailedAssets is
// still an overall success as long as the launch asset materialized; the
// update simply stays non-READY and the missing assets are retried on the
// next load attempt.
type Outcome struct {
	Update *models.Update

	// Replayed means the update was already READY and no asset I/O ran.
	Replayed bool

	// Vetoed means the caller's manifest hook declined the update before
	// any asset I/O; no row was created.
	Vetoed bool

	// Fetched counts assets that were copied or downloaded this load, as
	// opposed to reused from the content store.
	Fetched int

	// Downloaded counts assets that came over the network.
	Downloaded int

	FailedAssets []AssetFailure
}

// Complete reports whether every asset of the manifest is now present.
func (o *Outcome) Complete() bool {
	return !o.Vetoed && len(o.FailedAssets) == 0
}

// engine is the machinery shared by the embedded and remote variants.
type engine struct {
	store       *db.Store
	fetcher     *fetcher.Fetcher
	concurrency int

	// inFlightMu guards inFlight; each entry serializes loads of one
	// update so different updates can load concurrently.
	inFlightMu sync.Mutex
	inFlight   map[string]*sync.Mutex
}

func newEngine(store *db.Store, assetFetcher *fetcher.Fetcher, concurrency int) engine {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return engine{
		store:       store,
		fetcher:     assetFetcher,
		concurrency: concurrency,
		inFlight:    make(map[string]*sync.Mutex),
	}
}

// processManifest runs the shared load algorithm: replay protection, row
// creation before any asset I/O, bounded scatter-gather over all assets,
// and the serialized final status transition.
func (e *engine) processManifest(ctx context.Context, m *models.Manifest, initialStatus models.UpdateStatus) (*Outcome, error) {
	unlock := e.lockUpdate(m)
	defer unlock()

	// Idempotent replay protection: a READY update needs no asset I/O.
	existing, err := e.store.GetUpdate(m.UpdateID, m.ScopeKey)
	if err == nil && existing.Status == models.UpdateStatusReady {
		log.Debug().Str("update_id", m.UpdateID.String()).Msg("Update already ready, skipping load")
		return &Outcome{Update: existing, Replayed: true}, nil
	}
	if err != nil && !errors.Is(err, db.ErrUpdateNotFound) {
		return nil, err
	}

	// The row is created before any asset I/O so a crash mid-download
	// leaves a recoverable record.
	record := m.Update(initialStatus)
	if existing != nil {
		record = existing
	} else if err := e.store.InsertUpdate(record); err != nil {
		return nil, err
	}

	outcome := e.fetchAllAssets(ctx, m, record)
	outcome.Update = record

	if outcome.Complete() {
		if err := e.store.SetUpdateStatus(record.ID, record.ScopeKey, models.UpdateStatusReady); err != nil {
			return nil, err
		}
		record.Status = models.UpdateStatusReady
		log.Info().Str("update_id", record.ID.String()).Int("fetched", outcome.Fetched).
			Msg("Update ready")
		return outcome, nil
	}

	// Partial failure: the row keeps its current status (PENDING for
	// remote loads, EMBEDDED for embedded ones) and successful assets
	// keep their join rows for the next attempt.
	log.Warn().Str("update_id", record.ID.String()).
		Int("failed_assets", len(outcome.FailedAssets)).
		Str("status", record.Status.String()).
		Msg("Update load incomplete")

	for _, failure := range outcome.FailedAssets {
		if failure.Launch {
			return outcome, fmt.Errorf("%w: %w", ErrLaunchAssetFailed, failure.Err)
		}
	}
	if len(outcome.FailedAssets) == len(m.Assets) {
		return outcome, ErrAllAssetsFailed
	}
	return outcome, nil
}

// fetchAllAssets fans out one bounded task per asset and serializes the
// mark-done bookkeeping through a per-update coordinator.
func (e *engine) fetchAllAssets(ctx context.Context, m *models.Manifest, record *models.Update) *Outcome {
	coord := &coordinator{
		engine:    e,
		update:    record,
		remaining: len(m.Assets),
		outcome:   &Outcome{},
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.concurrency)

	for i := range m.Assets {
		wg.Add(1)
		go func(asset *models.Asset) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := e.ensureIsolated(ctx, asset)
			coord.assetDone(asset, result, err)
		}(&m.Assets[i])
	}

	wg.Wait()
	return coord.outcome
}

// ensureIsolated calls the fetcher and converts a panic in one asset task
// into a per-asset failure so siblings are never cancelled.
func (e *engine) ensureIsolated(ctx context.Context, asset *models.Asset) (result fetcher.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("asset task panicked: %v", r)
		}
	}()
	return e.fetcher.EnsureAsset(ctx, asset)
}

// lockUpdate serializes loads of one update id within one scope.
func (e *engine) lockUpdate(m *models.Manifest) func() {
	key := m.UpdateID.String() + "\x00" + m.ScopeKey

	e.inFlightMu.Lock()
	lock, exists := e.inFlight[key]
	if !exists {
		lock = &sync.Mutex{}
		e.inFlight[key] = lock
	}
	e.inFlightMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// coordinator owns the "mark asset done, check if all done" critical
// section for one in-flight update. All sibling asset tasks funnel their
// completions through it so the join-row writes and the final bookkeeping
// never race.
type coordinator struct {
	engine *engine
	update *models.Update

	mu        sync.Mutex
	remaining int
	outcome   *Outcome
}

func (c *coordinator) assetDone(asset *models.Asset, result fetcher.Result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remaining--
	defer func() {
		if c.remaining == 0 {
			log.Debug().Str("update_id", c.update.ID.String()).Msg("All asset tasks completed")
		}
	}()

	if err != nil {
		// Per-asset failures are swallowed into missing-asset bookkeeping;
		// the batch continues.
		log.Warn().Err(err).Str("asset_key", asset.Key).Str("update_id", c.update.ID.String()).
			Msg("Asset failed")
		c.outcome.FailedAssets = append(c.outcome.FailedAssets, AssetFailure{Key: asset.Key, Launch: asset.IsLaunchAsset, Err: err})
		return
	}

	if result.Materialized() {
		c.outcome.Fetched++
	}
	if result.NewlyFetched() {
		c.outcome.Downloaded++
	}

	if joinErr := c.engine.store.AddUpdateAsset(c.update.ID, c.update.ScopeKey, asset.ID, asset.IsLaunchAsset); joinErr != nil {
		log.Error().Err(joinErr).Str("asset_key", asset.Key).Msg("Failed to persist asset join")
		c.outcome.FailedAssets = append(c.outcome.FailedAssets, AssetFailure{Key: asset.Key, Launch: asset.IsLaunchAsset, Err: joinErr})
	}
}
