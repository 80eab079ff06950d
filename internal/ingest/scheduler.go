// Package ingest runs the chunked fetch, classify and resolve loop for a
// user's audio and exposes the scheduled, incremental and reprocess runs.
package ingest

import (
	"context"
	"time"

	"github.com/tphakala/pendant-go/internal/classifier"
	"github.com/tphakala/pendant-go/internal/clips"
	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/datastore"
	"github.com/tphakala/pendant-go/internal/datastore/entities"
	"github.com/tphakala/pendant-go/internal/dedup"
	"github.com/tphakala/pendant-go/internal/errors"
	"github.com/tphakala/pendant-go/internal/ledger"
	"github.com/tphakala/pendant-go/internal/logger"
	"github.com/tphakala/pendant-go/internal/observability/metrics"
	"github.com/tphakala/pendant-go/internal/pendant"
	"github.com/tphakala/pendant-go/internal/storage"
	"github.com/tphakala/pendant-go/internal/timewindow"
)

// cleanupTimeout bounds raw audio removal after the run context is gone.
const cleanupTimeout = 30 * time.Second

// AudioSource downloads raw audio for a credential and UTC range.
type AudioSource interface {
	Fetch(ctx context.Context, credential string, startUTC, endUTC time.Time, rec pendant.APICallRecorder) ([]byte, error)
}

// EventClassifier labels audio events in WAV audio.
type EventClassifier interface {
	Classify(ctx context.Context, audio []byte, sampleRate int, rec classifier.APICallRecorder) ([]classifier.Event, error)
}

// DetectionPublisher receives every persisted detection.
type DetectionPublisher interface {
	PublishDetection(ctx context.Context, d *entities.Detection) error
}

// RangeRequest is one ProcessRange call.
type RangeRequest struct {
	UserID     string
	Credential string
	StartUTC   time.Time
	EndUTC     time.Time

	// Incremental advances the user's watermark after each chunk.
	Incremental bool
}

// chunkResult is the terminal state of a chunk, ordered by severity.
type chunkResult int

const (
	chunkSkipped   chunkResult = iota // already fully processed
	chunkEmpty                        // no audio, recorded as processed
	chunkResolved                     // fetched and every candidate resolved
	chunkPending                      // no audio yet, left for a later run
	chunkTransient                    // upstream failure worth retrying
	chunkFailed
)

// advancesWatermark reports whether the chunk is final for this range.
func (r chunkResult) advancesWatermark() bool {
	return r <= chunkResolved
}

func (r chunkResult) label() string {
	switch r {
	case chunkSkipped:
		return metrics.ChunkSkipped
	case chunkEmpty, chunkPending:
		return metrics.ChunkNotFound
	case chunkTransient:
		return metrics.ChunkTransient
	case chunkFailed:
		return metrics.ChunkFailed
	default:
		return metrics.ChunkProcessed
	}
}

// SchedulerDeps are the collaborators of a Scheduler. Metrics, Publisher
// and Now are optional.
type SchedulerDeps struct {
	Source     AudioSource
	Classifier EventClassifier
	Filter     *classifier.Filter
	Extractor  *clips.Extractor
	Dedup      *dedup.Engine
	Blobs      storage.Store
	Store      *datastore.Store
	Settings   *conf.IngestSettings
	Metrics    *metrics.IngestMetrics
	Publisher  DetectionPublisher
	Now        func() time.Time
	Log        logger.Logger
}

// Scheduler processes UTC ranges chunk by chunk. Chunks of one range run
// sequentially in chronological order.
type Scheduler struct {
	source     AudioSource
	classifier EventClassifier
	filter     *classifier.Filter
	extractor  *clips.Extractor
	dedup      *dedup.Engine
	blobs      storage.Store
	windows    datastore.WindowRepository
	users      datastore.UserStateRepository
	settings   conf.IngestSettings
	metrics    *metrics.IngestMetrics
	publisher  DetectionPublisher
	now        func() time.Time
	log        logger.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(d SchedulerDeps) *Scheduler {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		source:     d.Source,
		classifier: d.Classifier,
		filter:     d.Filter,
		extractor:  d.Extractor,
		dedup:      d.Dedup,
		blobs:      d.Blobs,
		windows:    d.Store.Windows,
		users:      d.Store.Users,
		settings:   *d.Settings,
		metrics:    d.Metrics,
		publisher:  d.Publisher,
		now:        now,
		log:        d.Log.Module("ingest"),
	}
}

// ProcessRange plans [StartUTC,EndUTC) into chunks and processes them in
// order. It returns the number of persisted detections. Failed chunks are
// recorded in the ledger and the loop continues unless StopOnError is set.
// Configuration errors and cancellation end the range immediately.
func (s *Scheduler) ProcessRange(ctx context.Context, req RangeRequest, l *ledger.Ledger) (int, error) {
	plan, err := timewindow.Plan(req.StartUTC, req.EndUTC, s.settings.ChunkSize)
	if err != nil {
		return 0, err
	}

	log := s.log.With(
		logger.String("user_id", req.UserID),
		logger.String("run_id", l.ID()))
	log.Info("processing range",
		logger.Time("start", req.StartUTC),
		logger.Time("end", req.EndUTC),
		logger.Int("chunks", len(plan)),
		logger.Bool("incremental", req.Incremental))

	persisted := 0
	advancing := req.Incremental
	for i, w := range plan {
		if err := ctx.Err(); err != nil {
			return persisted, err
		}

		chunkLog := log.With(
			logger.Int("chunk", i),
			logger.Time("chunk_start", w.Start),
			logger.Time("chunk_end", w.End))
		n, result, err := s.processChunk(ctx, req, w, l, chunkLog)
		persisted += n
		if s.metrics != nil {
			s.metrics.RecordChunk(result.label())
		}

		if err != nil {
			if ctx.Err() != nil {
				return persisted, ctx.Err()
			}
			if errors.IsConfiguration(err) {
				chunkLog.Error("aborting run on configuration error", logger.Error(err))
				return persisted, err
			}
			chunkLog.Error("chunk failed", logger.Error(err))
			if s.settings.StopOnError {
				return persisted, err
			}
		}

		if advancing {
			advancing = s.advanceWatermark(ctx, req.UserID, w, result, l, chunkLog)
		}
	}

	log.Info("range processed", logger.Int("persisted", persisted))
	return persisted, nil
}

// advanceWatermark moves the watermark to the end of a final chunk and
// reports whether later chunks may still advance it.
func (s *Scheduler) advanceWatermark(ctx context.Context, userID string, w timewindow.Window, result chunkResult, l *ledger.Ledger, log logger.Logger) bool {
	if !result.advancesWatermark() {
		log.Debug("watermark held at unfinished chunk")
		return false
	}
	if err := s.users.AdvanceWatermark(ctx, userID, w.End); err != nil {
		log.Error("failed to advance watermark", logger.Error(err))
		l.Record(ledger.StepWatermark, ledger.StatusError, map[string]any{
			"end":   w.End,
			"error": err.Error(),
		})
		return false
	}
	return true
}

// processChunk skips a fully covered chunk and otherwise processes each
// part not yet covered by a processed window.
func (s *Scheduler) processChunk(ctx context.Context, req RangeRequest, w timewindow.Window, l *ledger.Ledger, log logger.Logger) (int, chunkResult, error) {
	processed, err := s.windows.IsRangeProcessed(ctx, req.UserID, w.Start, w.End)
	if err != nil {
		return 0, chunkFailed, s.fail(l, log, ledger.StepChunkDone, w, err)
	}

	parts := []timewindow.Window{w}
	if processed {
		existing, err := s.windows.ListByUser(ctx, req.UserID, w.Start, w.End)
		if err != nil {
			return 0, chunkFailed, s.fail(l, log, ledger.StepChunkDone, w, err)
		}
		parts = uncovered(w, existing)
		meta := windowMeta(w)
		meta["remaining_parts"] = len(parts)
		l.Record(ledger.StepSkipProcessed, ledger.StatusInfo, meta)
		if len(parts) == 0 {
			log.Debug("chunk already processed")
			return 0, chunkSkipped, nil
		}
		log.Debug("chunk partially processed", logger.Int("remaining_parts", len(parts)))
	}

	total := 0
	result := chunkSkipped
	for _, part := range parts {
		n, r, err := s.processWindow(ctx, req, part, l, log)
		total += n
		result = max(result, r)
		if err != nil {
			return total, result, err
		}
	}
	return total, result, nil
}

// processWindow fetches, analyzes and resolves one window.
func (s *Scheduler) processWindow(ctx context.Context, req RangeRequest, w timewindow.Window, l *ledger.Ledger, log logger.Logger) (int, chunkResult, error) {
	fetchStart := w.Start.Add(-s.settings.FetchOverlap)

	begin := time.Now()
	raw, err := s.source.Fetch(ctx, req.Credential, fetchStart, w.End, l)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return 0, chunkFailed, ctx.Err()
	case pendant.IsNotFound(err):
		return s.handleNotFound(ctx, req.UserID, w, l, log)
	case pendant.IsTransient(err):
		log.Warn("transient fetch failure, chunk left for a later run", logger.Error(err))
		meta := windowMeta(w)
		meta["error"] = err.Error()
		l.Record(ledger.StepFetchTransient, ledger.StatusWarn, meta)
		return 0, chunkTransient, nil
	default:
		return 0, chunkFailed, s.fail(l, log, ledger.StepFetchError, w, err)
	}

	if s.metrics != nil {
		s.metrics.ObserveFetch(time.Since(begin), len(raw))
	}
	meta := windowMeta(w)
	meta["fetch_start"] = fetchStart
	meta["bytes"] = len(raw)
	l.Record(ledger.StepFetched, ledger.StatusOK, meta)

	window, err := s.windows.GetOrCreate(ctx, req.UserID, w.Start, w.End, l.ID())
	if err != nil {
		return 0, chunkFailed, s.fail(l, log, ledger.StepChunkDone, w, err)
	}

	rawKey := storage.RawAudioKey(req.UserID, fetchStart, w.End)
	persisted, err := s.analyze(ctx, req.UserID, window, fetchStart, rawKey, raw, l, log)
	s.removeRaw(ctx, rawKey, l, log)
	if err != nil {
		return persisted, chunkFailed, err
	}

	if err := s.windows.MarkProcessed(ctx, window.ID); err != nil {
		return persisted, chunkFailed, s.fail(l, log, ledger.StepChunkDone, w, err)
	}
	meta = windowMeta(w)
	meta["persisted"] = persisted
	l.Record(ledger.StepChunkDone, ledger.StatusOK, meta)
	log.Info("chunk processed", logger.Int("persisted", persisted))
	return persisted, chunkResolved, nil
}

// handleNotFound records a settled empty window as processed and leaves a
// recent one for a later run.
func (s *Scheduler) handleNotFound(ctx context.Context, userID string, w timewindow.Window, l *ledger.Ledger, log logger.Logger) (int, chunkResult, error) {
	settled := s.now().Sub(w.End) > s.settings.SettleDelay
	meta := windowMeta(w)
	meta["settled"] = settled
	l.Record(ledger.StepFetchNotFound, ledger.StatusInfo, meta)
	log.Info("no audio for chunk", logger.Bool("settled", settled))

	if !settled {
		return 0, chunkPending, nil
	}
	window, err := s.windows.GetOrCreate(ctx, userID, w.Start, w.End, l.ID())
	if err != nil {
		return 0, chunkFailed, s.fail(l, log, ledger.StepChunkDone, w, err)
	}
	if err := s.windows.MarkProcessed(ctx, window.ID); err != nil {
		return 0, chunkFailed, s.fail(l, log, ledger.StepChunkDone, w, err)
	}
	return 0, chunkEmpty, nil
}

// analyze stores the raw audio, classifies it and resolves every candidate.
func (s *Scheduler) analyze(ctx context.Context, userID string, window *entities.AudioWindow, fetchStart time.Time, rawKey string, raw []byte, l *ledger.Ledger, log logger.Logger) (int, error) {
	w := timewindow.Window{Start: window.StartUTC, End: window.EndUTC}

	if err := s.blobs.Write(ctx, rawKey, raw); err != nil {
		return 0, s.fail(l, log, ledger.StepChunkDone, w, err)
	}
	if err := s.windows.MarkDownloaded(ctx, window.ID, rawKey); err != nil {
		return 0, s.fail(l, log, ledger.StepChunkDone, w, err)
	}

	info, err := clips.Probe(raw)
	if err != nil {
		return 0, s.fail(l, log, ledger.StepClassify, w, err)
	}

	begin := time.Now()
	events, err := s.classifier.Classify(ctx, raw, info.SampleRate, l)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, s.fail(l, log, ledger.StepClassify, w, err)
	}
	if s.metrics != nil {
		s.metrics.ObserveClassify(time.Since(begin))
	}

	candidates := s.filter.Apply(events)
	meta := windowMeta(w)
	meta[ledger.MetaCandidates] = len(candidates)
	meta["events"] = len(events)
	l.Record(ledger.StepClassify, ledger.StatusOK, meta)
	log.Debug("audio classified",
		logger.Int("events", len(events)),
		logger.Int("candidates", len(candidates)),
		logger.Duration("audio", info.Duration()))
	if len(candidates) == 0 {
		return 0, nil
	}

	extracted, err := s.extractor.Extract(ctx, userID, raw, fetchStart, candidates)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, s.fail(l, log, ledger.StepExtract, w, err)
	}

	persisted := 0
	for i := range extracted {
		c := &extracted[i]
		if c.Err != nil {
			if errors.Is(c.Err, clips.ErrOutsideAudio) {
				log.Warn("candidate outside fetched audio, dropped",
					logger.String("class", c.Event.ClassName),
					logger.Float64("offset_seconds", c.Event.OffsetSeconds))
				l.Record(ledger.StepExtract, ledger.StatusWarn, map[string]any{
					"class":          c.Event.ClassName,
					"offset_seconds": c.Event.OffsetSeconds,
				})
				continue
			}
			return persisted, s.fail(l, log, ledger.StepExtract, w, c.Err)
		}

		outcome, err := s.dedup.Resolve(ctx, dedup.Candidate{
			UserID:      userID,
			Timestamp:   c.Timestamp,
			ClassID:     c.Event.ClassID,
			ClassName:   c.Event.ClassName,
			Probability: c.Event.Probability,
			ClipPath:    c.Path,
		}, l)
		if err != nil {
			if ctx.Err() != nil {
				return persisted, ctx.Err()
			}
			return persisted, s.fail(l, log, ledger.StepDedupError, w, err)
		}
		if s.metrics != nil {
			s.metrics.RecordCandidate(outcome.Kind.String(), string(outcome.Reason))
		}
		if outcome.Kind == dedup.Persisted {
			persisted++
			s.publish(ctx, outcome.Detection, log)
		}
	}
	return persisted, nil
}

// removeRaw deletes the chunk's raw audio, also after a failure or
// cancellation.
func (s *Scheduler) removeRaw(ctx context.Context, key string, l *ledger.Ledger, log logger.Logger) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := s.blobs.Delete(cleanupCtx, key); err != nil {
		log.Warn("failed to delete raw audio, left for reconciliation",
			logger.String("key", key),
			logger.Error(err))
		l.Record(ledger.StepRawCleanup, ledger.StatusWarn, map[string]any{
			"key":   key,
			"error": err.Error(),
		})
	}
}

// publish forwards a new detection. Delivery failures never fail the chunk.
func (s *Scheduler) publish(ctx context.Context, d *entities.Detection, log logger.Logger) {
	if s.publisher == nil || d == nil {
		return
	}
	if err := s.publisher.PublishDetection(ctx, d); err != nil {
		log.Warn("failed to publish detection",
			logger.Int64("detection_id", int64(d.ID)),
			logger.Error(err))
	}
}

// fail records err as the chunk's error step and returns it.
func (s *Scheduler) fail(l *ledger.Ledger, log logger.Logger, step string, w timewindow.Window, err error) error {
	meta := windowMeta(w)
	meta["error"] = err.Error()
	l.Record(step, ledger.StatusError, meta)
	log.Debug("chunk step failed", logger.String("step", step), logger.Error(err))
	return err
}

func windowMeta(w timewindow.Window) map[string]any {
	return map[string]any{
		"start": w.Start,
		"end":   w.End,
	}
}
