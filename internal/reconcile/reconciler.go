// Package reconcile removes clip files no detection references and raw
// audio that outlived its window.
package reconcile

import (
	"context"
	"time"

	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/datastore"
	"github.com/tphakala/pendant-go/internal/errors"
	"github.com/tphakala/pendant-go/internal/logger"
	"github.com/tphakala/pendant-go/internal/storage"
)

// Result summarizes one reconciliation pass.
type Result struct {
	Scanned    int // clip objects listed
	Removed    int // orphan clips deleted
	Kept       int // orphan clips younger than the minimum age
	NearMiss   int // orphans that became referenced before deletion
	RawRemoved int // stale raw audio objects deleted
	Errors     int
	Capped     bool // the deletion cap stopped the pass early
}

// Reconciler compares stored objects with database references.
type Reconciler struct {
	blobs        storage.Store
	detections   datastore.DetectionRepository
	windows      datastore.WindowRepository
	minAge       time.Duration
	maxDeletions int
	now          func() time.Time
	log          logger.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock replaces the clock used for the minimum age check.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a Reconciler.
func New(blobs storage.Store, db *datastore.Store, settings *conf.ReconcileSettings, log logger.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		blobs:        blobs,
		detections:   db.Detections,
		windows:      db.Windows,
		minAge:       settings.MinAge,
		maxDeletions: settings.MaxDeletions,
		now:          time.Now,
		log:          log.Module("reconcile"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile deletes the user's unreferenced clips and stale raw audio older
// than reconcile.minage. Objects are judged only by database references,
// never by name.
func (r *Reconciler) Reconcile(ctx context.Context, userID string) (Result, error) {
	return r.reconcile(ctx, userID, r.minAge)
}

// ReconcileAll is Reconcile without the minimum age. The caller must hold
// the user's run lock so no clip is awaiting its detection row.
func (r *Reconciler) ReconcileAll(ctx context.Context, userID string) (Result, error) {
	return r.reconcile(ctx, userID, 0)
}

func (r *Reconciler) reconcile(ctx context.Context, userID string, minAge time.Duration) (Result, error) {
	var res Result
	log := r.log.With(logger.String("user_id", userID))

	objects, err := r.blobs.List(ctx, storage.ClipPrefix(userID))
	if err != nil {
		return res, err
	}
	referenced, err := r.detections.ClipPaths(ctx, userID)
	if err != nil {
		return res, err
	}
	res.Scanned = len(objects)
	cutoff := r.now().Add(-minAge)

	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, ok := referenced[obj.Key]; ok {
			continue
		}
		if obj.ModTime.After(cutoff) {
			res.Kept++
			continue
		}
		if r.capReached(res) {
			res.Capped = true
			break
		}

		// A dedup pass may have inserted a reference since the snapshot.
		still, err := r.detections.ExistsByClipPath(ctx, obj.Key)
		if err != nil {
			res.Errors++
			log.Warn("reference check failed, keeping clip", logger.String("clip", obj.Key), logger.Error(err))
			continue
		}
		if still {
			res.NearMiss++
			log.Warn("near-miss: orphan candidate became referenced, not deleting", logger.String("clip", obj.Key))
			continue
		}
		if err := r.blobs.Delete(ctx, obj.Key); err != nil {
			res.Errors++
			log.Warn("failed to remove orphan clip", logger.String("clip", obj.Key), logger.Error(err))
			continue
		}
		res.Removed++
		log.Debug("orphan clip removed", logger.String("clip", obj.Key))
	}

	if !res.Capped {
		if err := r.removeStaleRaw(ctx, log, userID, cutoff, &res); err != nil {
			return res, err
		}
	}

	log.Info("reconciliation finished",
		logger.Int("scanned", res.Scanned),
		logger.Int("removed", res.Removed),
		logger.Int("kept", res.Kept),
		logger.Int("near_miss", res.NearMiss),
		logger.Int("raw_removed", res.RawRemoved),
		logger.Int("errors", res.Errors))
	return res, nil
}

// removeStaleRaw deletes raw audio whose window is fully processed or gone.
func (r *Reconciler) removeStaleRaw(ctx context.Context, log logger.Logger, userID string, cutoff time.Time, res *Result) error {
	objects, err := r.blobs.List(ctx, storage.RawPrefix(userID))
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return err
		}
		if obj.ModTime.After(cutoff) {
			continue
		}
		if r.capReached(*res) {
			res.Capped = true
			return nil
		}

		w, err := r.windows.GetByStoragePath(ctx, userID, obj.Key)
		switch {
		case errors.Is(err, datastore.ErrWindowNotFound):
		case err != nil:
			res.Errors++
			log.Warn("window lookup failed, keeping raw audio", logger.String("path", obj.Key), logger.Error(err))
			continue
		case !w.FullyProcessed:
			continue
		}

		if err := r.blobs.Delete(ctx, obj.Key); err != nil {
			res.Errors++
			log.Warn("failed to remove raw audio", logger.String("path", obj.Key), logger.Error(err))
			continue
		}
		res.RawRemoved++
		log.Debug("stale raw audio removed", logger.String("path", obj.Key))
	}
	return nil
}

func (r *Reconciler) capReached(res Result) bool {
	return r.maxDeletions > 0 && res.Removed+res.RawRemoved >= r.maxDeletions
}
