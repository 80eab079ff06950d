package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/pendant-go/internal/classifier"
	"github.com/tphakala/pendant-go/internal/clips"
	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/datastore"
	"github.com/tphakala/pendant-go/internal/datastore/entities"
	"github.com/tphakala/pendant-go/internal/dedup"
	"github.com/tphakala/pendant-go/internal/ledger"
	"github.com/tphakala/pendant-go/internal/logger"
	"github.com/tphakala/pendant-go/internal/observability/metrics"
	"github.com/tphakala/pendant-go/internal/pendant"
	"github.com/tphakala/pendant-go/internal/reconcile"
	"github.com/tphakala/pendant-go/internal/runlock"
	"github.com/tphakala/pendant-go/internal/storage"
	"github.com/tphakala/pendant-go/internal/testutil"
	"github.com/tphakala/pendant-go/internal/timewindow"
)

// maxFakeAudio caps synthetic downloads so multi-hour chunks stay small.
const maxFakeAudio = 90 * time.Second

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fetchCall struct {
	credential string
	start, end time.Time
}

// fakeSource serves synthetic WAV audio. respond, when set, may return an
// error for a range instead.
type fakeSource struct {
	t *testing.T

	mu      sync.Mutex
	calls   []fetchCall
	respond func(start, end time.Time) error
}

func (s *fakeSource) Fetch(_ context.Context, credential string, start, end time.Time, rec pendant.APICallRecorder) ([]byte, error) {
	s.mu.Lock()
	s.calls = append(s.calls, fetchCall{credential: credential, start: start, end: end})
	respond := s.respond
	s.mu.Unlock()

	if respond != nil {
		if err := respond(start, end); err != nil {
			if rec != nil {
				rec.RecordAPICall("fake://pendant", 404, 1, 0)
			}
			return nil, err
		}
	}
	data := testutil.WAV(s.t, min(end.Sub(start), maxFakeAudio))
	if rec != nil {
		rec.RecordAPICall("fake://pendant", 200, 1, int64(len(data)))
	}
	return data, nil
}

func (s *fakeSource) setResponder(fn func(start, end time.Time) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.respond = fn
}

func (s *fakeSource) Calls() []fetchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fetchCall(nil), s.calls...)
}

func (s *fakeSource) last() (fetchCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return fetchCall{}, false
	}
	return s.calls[len(s.calls)-1], true
}

// fakeEvent is a classifier event at an absolute instant.
type fakeEvent struct {
	at          time.Time
	classID     int
	className   string
	probability float64
}

// fakeClassifier reports every configured event that falls inside the audio
// of the most recent fetch. The first failures calls return err.
type fakeClassifier struct {
	source *fakeSource

	mu       sync.Mutex
	events   []fakeEvent
	err      error
	failures int
	calls    int
}

func (c *fakeClassifier) Classify(_ context.Context, audio []byte, sampleRate int, _ classifier.APICallRecorder) ([]classifier.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failures {
		return nil, c.err
	}

	fetch, ok := c.source.last()
	if !ok {
		return nil, nil
	}
	info, err := clips.Probe(audio)
	if err != nil {
		return nil, err
	}
	if info.SampleRate != sampleRate {
		return nil, fmt.Errorf("sample rate %d does not match audio rate %d", sampleRate, info.SampleRate)
	}

	var out []classifier.Event
	for _, ev := range c.events {
		offset := ev.at.Sub(fetch.start)
		if offset < 0 || offset >= fetch.end.Sub(fetch.start) || offset >= info.Duration() {
			continue
		}
		out = append(out, classifier.Event{
			OffsetSeconds: offset.Seconds(),
			ClassID:       ev.classID,
			ClassName:     ev.className,
			Probability:   ev.probability,
		})
	}
	return out, nil
}

func (c *fakeClassifier) addEvents(events ...fakeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
}

func (c *fakeClassifier) failFirst(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = n
	c.err = err
}

type fakePublisher struct {
	mu         sync.Mutex
	detections []*entities.Detection
}

func (p *fakePublisher) PublishDetection(_ context.Context, d *entities.Detection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detections = append(p.detections, d)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.detections)
}

type fakeNotifier struct {
	mu   sync.Mutex
	runs []*entities.ProcessingRun
}

func (n *fakeNotifier) NotifyRun(_ context.Context, run *entities.ProcessingRun) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = append(n.runs, run)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.runs)
}

type testEnv struct {
	settings   *conf.Settings
	clock      *testClock
	resolver   *timewindow.Resolver
	store      *datastore.Store
	blobs      *storage.LocalStore
	source     *fakeSource
	classifier *fakeClassifier
	publisher  *fakePublisher
	notifier   *fakeNotifier
	locker     runlock.Locker
	registry   *prometheus.Registry
	metrics    *metrics.IngestMetrics
	scheduler  *Scheduler
	service    *Service
}

func testSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Pendant.APIKey = "test-key"
	s.Classifier.Threshold = 0.5
	s.Ingest = conf.IngestSettings{
		ChunkSize:       2 * time.Hour,
		FetchOverlap:    30 * time.Second,
		DedupWindow:     10 * time.Second,
		ClipPadding:     time.Second,
		SettleDelay:     time.Hour,
		UserParallelism: 2,
	}
	s.Scheduler = conf.SchedulerSettings{Hour: 2}
	return s
}

// newTestEnv wires a Service over SQLite, local storage and fakes. The
// clock starts at now.
func newTestEnv(t *testing.T, now time.Time, configure ...func(*conf.Settings)) *testEnv {
	t.Helper()
	settings := testSettings()
	for _, fn := range configure {
		fn(settings)
	}

	env := &testEnv{
		settings:  settings,
		clock:     newTestClock(now),
		store:     testutil.NewStore(t),
		blobs:     testutil.NewBlobStore(t),
		publisher: &fakePublisher{},
		notifier:  &fakeNotifier{},
		locker:    runlock.NewMemoryLocker(),
	}
	env.resolver = timewindow.NewResolver(timewindow.WithClock(env.clock.Now))
	env.source = &fakeSource{t: t}
	env.classifier = &fakeClassifier{source: env.source}

	var err error
	env.registry = prometheus.NewRegistry()
	env.metrics, err = metrics.NewIngestMetrics(env.registry)
	require.NoError(t, err)

	log := logger.NewNopLogger()
	env.scheduler = NewScheduler(SchedulerDeps{
		Source:     env.source,
		Classifier: env.classifier,
		Filter:     classifier.NewFilter(&settings.Classifier),
		Extractor:  clips.NewExtractor(env.blobs, settings.Ingest.ClipPadding, log),
		Dedup:      dedup.NewEngine(env.store.Detections, env.blobs, settings.Ingest.DedupWindow, log),
		Blobs:      env.blobs,
		Store:      env.store,
		Settings:   &settings.Ingest,
		Metrics:    env.metrics,
		Publisher:  env.publisher,
		Now:        env.resolver.Now,
		Log:        log,
	})
	env.service = NewService(ServiceDeps{
		Settings:   settings,
		Store:      env.store,
		Blobs:      env.blobs,
		Resolver:   env.resolver,
		Scheduler:  env.scheduler,
		Reconciler: reconcile.New(env.blobs, env.store, &settings.Reconcile, log),
		Locker:     env.locker,
		Notifier:   env.notifier,
		Metrics:    env.metrics,
		Log:        log,
	})
	return env
}

func (e *testEnv) addUser(t *testing.T, userID, tz string) {
	t.Helper()
	require.NoError(t, e.service.AddUser(t.Context(), userID, tz))
}

// processRange runs ProcessRange inside its own ledger run.
func (e *testEnv) processRange(t *testing.T, userID string, start, end time.Time) *entities.ProcessingRun {
	t.Helper()
	run, err := ledger.Run(t.Context(), e.store.Runs, ledger.Params{
		UserID:       userID,
		CalendarDate: timewindow.DateOf(start).String(),
		Trigger:      entities.TriggerManualToday,
	}, func(l *ledger.Ledger) error {
		_, err := e.scheduler.ProcessRange(t.Context(), RangeRequest{
			UserID:     userID,
			Credential: "test-key",
			StartUTC:   start,
			EndUTC:     end,
		}, l)
		return err
	})
	require.NoError(t, err)
	return run
}

func (e *testEnv) detections(t *testing.T, userID string, start, end time.Time) []entities.Detection {
	t.Helper()
	d, err := e.store.Detections.ListInRange(t.Context(), userID, start, end)
	require.NoError(t, err)
	return d
}

func (e *testEnv) objects(t *testing.T, prefix string) []storage.Object {
	t.Helper()
	objs, err := e.blobs.List(t.Context(), prefix)
	require.NoError(t, err)
	return objs
}

func countSteps(run *entities.ProcessingRun, step string) int {
	n := 0
	for _, e := range run.StepLog {
		if e.Step == step {
			n++
		}
	}
	return n
}

func countStatus(run *entities.ProcessingRun, step, status string) int {
	n := 0
	for _, e := range run.StepLog {
		if e.Step == step && e.Status == status {
			n++
		}
	}
	return n
}

// counterValue returns the value of the series of counter name whose label
// has the given value.
func (e *testEnv) counterValue(t *testing.T, name, label, value string) float64 {
	t.Helper()
	families, err := e.registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
