// Package dedup decides whether a classified candidate becomes a new
// detection or is skipped as a duplicate, and releases clips of skipped
// candidates without ever deleting a referenced clip.
package dedup

import (
	"context"
	"maps"
	"time"

	"github.com/tphakala/pendant-go/internal/datastore"
	"github.com/tphakala/pendant-go/internal/datastore/entities"
	"github.com/tphakala/pendant-go/internal/errors"
	"github.com/tphakala/pendant-go/internal/ledger"
	"github.com/tphakala/pendant-go/internal/logger"
	"github.com/tphakala/pendant-go/internal/storage"
)

// Kind is the resolution of a candidate.
type Kind int

const (
	Persisted Kind = iota
	SkippedDuplicate
	SkippedMissingFile
)

func (k Kind) String() string {
	switch k {
	case Persisted:
		return "persisted"
	case SkippedDuplicate:
		return "skipped-duplicate"
	case SkippedMissingFile:
		return "skipped-missing-file"
	default:
		return "unknown"
	}
}

// Reason qualifies a SkippedDuplicate outcome.
type Reason string

const (
	ReasonTimeWindow Reason = "time-window"
	ReasonPath       Reason = "path"
	ReasonRace       Reason = "race"
)

// ErrMissingClip is the invariant violation behind SkippedMissingFile.
var ErrMissingClip = errors.NewStd("clip file missing at insert time")

// Candidate is one filtered classifier event with its extracted clip.
type Candidate struct {
	UserID      string
	Timestamp   time.Time
	ClassID     int
	ClassName   string
	Probability float64
	ClipPath    string
}

// Outcome is the result of Resolve.
type Outcome struct {
	Kind      Kind
	Reason    Reason              // set for SkippedDuplicate
	Detection *entities.Detection // the inserted row for Persisted
	Existing  *entities.Detection // the matching row for a time-window duplicate
}

// Engine resolves candidates against the detections table.
type Engine struct {
	detections datastore.DetectionRepository
	blobs      storage.Store
	window     time.Duration
	log        logger.Logger
}

// NewEngine creates an Engine treating same-class detections within window
// of each other as duplicates.
func NewEngine(detections datastore.DetectionRepository, blobs storage.Store, window time.Duration, log logger.Logger) *Engine {
	return &Engine{
		detections: detections,
		blobs:      blobs,
		window:     window,
		log:        log.Module("dedup"),
	}
}

// Resolve runs the ordered checks for c and records one ledger step. The
// returned error is set only for store failures; duplicates and missing
// files are outcomes.
func (e *Engine) Resolve(ctx context.Context, c Candidate, l *ledger.Ledger) (Outcome, error) {
	log := e.log.With(
		logger.String("user_id", c.UserID),
		logger.String("class", c.ClassName),
		logger.Time("timestamp", c.Timestamp),
		logger.String("clip", c.ClipPath))

	exists, err := e.blobs.Exists(ctx, c.ClipPath)
	if err != nil {
		return Outcome{}, err
	}
	if !exists {
		e.missingFile(log, c, l, "pre-insert")
		return Outcome{Kind: SkippedMissingFile}, nil
	}

	existing, err := e.detections.FindNear(ctx, c.UserID, c.ClassID, c.Timestamp, e.window)
	switch {
	case err == nil:
		meta := map[string]any{
			"existing_id":        existing.ID,
			"existing_timestamp": existing.TimestampUTC,
		}
		if existing.ClipStoragePath == c.ClipPath {
			// The clip already belongs to the existing detection.
			log.Debug("duplicate skipped", logger.String("reason", string(ReasonTimeWindow)))
			record(l, ledger.StepDupTimeWindow, ledger.StatusInfo, c, meta)
		} else {
			e.skip(ctx, log, c, l, ReasonTimeWindow, meta)
		}
		return Outcome{Kind: SkippedDuplicate, Reason: ReasonTimeWindow, Existing: existing}, nil
	case !errors.Is(err, datastore.ErrDetectionNotFound):
		return Outcome{}, err
	}

	referenced, err := e.detections.ExistsByClipPath(ctx, c.ClipPath)
	if err != nil {
		return Outcome{}, err
	}
	if referenced {
		e.skip(ctx, log, c, l, ReasonPath, nil)
		return Outcome{Kind: SkippedDuplicate, Reason: ReasonPath}, nil
	}

	d := &entities.Detection{
		UserID:          c.UserID,
		TimestampUTC:    c.Timestamp,
		ClassID:         c.ClassID,
		ClassName:       c.ClassName,
		Probability:     c.Probability,
		ClipStoragePath: c.ClipPath,
	}
	if l != nil {
		d.RunID = l.ID()
	}
	if err := e.detections.Create(ctx, d); err != nil {
		if errors.Is(err, datastore.ErrDuplicateKey) {
			e.skip(ctx, log, c, l, ReasonRace, nil)
			return Outcome{Kind: SkippedDuplicate, Reason: ReasonRace}, nil
		}
		return Outcome{}, err
	}

	// The clip may have been removed between the check and the insert.
	exists, err = e.blobs.Exists(ctx, c.ClipPath)
	if err != nil {
		return Outcome{}, err
	}
	if !exists {
		if err := e.detections.Delete(ctx, d.ID); err != nil && !errors.Is(err, datastore.ErrDetectionNotFound) {
			return Outcome{}, err
		}
		e.missingFile(log, c, l, "post-insert")
		return Outcome{Kind: SkippedMissingFile}, nil
	}

	log.Info("detection persisted", logger.Int64("detection_id", int64(d.ID)), logger.Float64("probability", c.Probability))
	record(l, ledger.StepPersisted, ledger.StatusOK, c, map[string]any{"detection_id": d.ID})
	return Outcome{Kind: Persisted, Detection: d}, nil
}

func (e *Engine) missingFile(log logger.Logger, c Candidate, l *ledger.Ledger, stage string) {
	err := errors.New(ErrMissingClip).
		Component("dedup").
		Category(errors.CategoryFileIO).
		Context("user_id", c.UserID).
		Context("clip", c.ClipPath).
		Context("stage", stage).
		Build()
	log.Error("missing-file", logger.String("stage", stage), logger.Error(err))
	record(l, ledger.StepMissingFile, ledger.StatusError, c, map[string]any{"stage": stage})
}

func (e *Engine) skip(ctx context.Context, log logger.Logger, c Candidate, l *ledger.Ledger, reason Reason, meta map[string]any) {
	log.Debug("duplicate skipped", logger.String("reason", string(reason)))
	step := map[Reason]string{
		ReasonTimeWindow: ledger.StepDupTimeWindow,
		ReasonPath:       ledger.StepDupPath,
		ReasonRace:       ledger.StepDupRace,
	}[reason]
	record(l, step, ledger.StatusInfo, c, meta)
	e.releaseClip(ctx, log, c, l, reason)
}

// releaseClip deletes the clip of a skipped candidate unless a detection
// references it at the moment of deletion.
func (e *Engine) releaseClip(ctx context.Context, log logger.Logger, c Candidate, l *ledger.Ledger, reason Reason) {
	referenced, err := e.detections.ExistsByClipPath(ctx, c.ClipPath)
	if err != nil {
		log.Warn("clip reference check failed, keeping clip", logger.Error(err))
		return
	}
	if referenced {
		if reason == ReasonPath {
			return
		}
		log.Warn("near-miss: skipped candidate's clip is referenced, not deleting",
			logger.String("reason", string(reason)))
		record(l, ledger.StepNearMiss, ledger.StatusWarn, c, map[string]any{"reason": string(reason)})
		return
	}
	if err := e.blobs.Delete(ctx, c.ClipPath); err != nil {
		log.Warn("failed to delete duplicate clip", logger.Error(err))
	}
}

func record(l *ledger.Ledger, step, status string, c Candidate, meta map[string]any) {
	if l == nil {
		return
	}
	entry := map[string]any{
		"class":     c.ClassName,
		"timestamp": c.Timestamp,
		"clip":      c.ClipPath,
	}
	maps.Copy(entry, meta)
	l.Record(step, status, entry)
}
