package feedsync

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/CarparkFinder/internal/broker/messages"
	"github.com/BearBump/CarparkFinder/internal/feederr"
	"github.com/BearBump/CarparkFinder/internal/integrations/feed"
	"github.com/BearBump/CarparkFinder/internal/models"
	"github.com/BearBump/CarparkFinder/internal/services/reconcile"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type Repository interface {
	ListCarParks(ctx context.Context) ([]*models.CarPark, error)
	InsertCarParks(ctx context.Context, cps []*models.CarPark) error
	// UpdateCarParks writes the information-owned columns only.
	UpdateCarParks(ctx context.Context, cps []*models.CarPark) error
	UpdateCarParkLots(ctx context.Context, cps []*models.CarPark) error

	ListRateSchedules(ctx context.Context) ([]*models.RateSchedule, error)
	InsertRateSchedules(ctx context.Context, rs []*models.RateSchedule) error
	UpdateRateSchedules(ctx context.Context, rs []*models.RateSchedule) error

	LatestRequest(ctx context.Context, rt models.ResourceType) (*models.RequestLogEntry, error)
	InsertRequest(ctx context.Context, e *models.RequestLogEntry) error
}

type Producer interface {
	PublishFeedSynced(ctx context.Context, topic string, m messages.FeedSynced) error
}

const DefaultInsertChunkSize = 500

type Syncer struct {
	repo     Repository
	feed     feed.Client
	producer Producer
	topic    string

	mapper   *reconcile.Mapper
	throttle *Throttle
	metrics  *Metrics
	now      func() time.Time

	disabled     bool
	interval     time.Duration
	chunkSize    int
	publishTries uint

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalCycles         atomic.Int64
	totalThrottled      atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
	lastSyncMu          sync.Mutex
	lastSync            map[models.ResourceType]time.Time
}

// New builds a Syncer. producer may be nil, in which case no events are published.
func New(repo Repository, client feed.Client, producer Producer, topic string) *Syncer {
	now := func() time.Time { return time.Now().UTC() }
	if topic == "" {
		topic = messages.TopicFeedSynced
	}
	return &Syncer{
		repo: repo, feed: client, producer: producer, topic: topic,
		mapper:            reconcile.New(),
		throttle:          NewThrottle(DefaultThrottleConfig(), now),
		now:               now,
		interval:          30 * time.Second,
		chunkSize:         DefaultInsertChunkSize,
		publishTries:      5,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: now().UnixNano(),
		lastSync:          make(map[models.ResourceType]time.Time, 2),
	}
}

func (s *Syncer) WithSettings(interval time.Duration, chunkSize int, publishTries uint) *Syncer {
	if interval > 0 {
		s.interval = interval
	}
	if chunkSize > 0 {
		s.chunkSize = chunkSize
	}
	if publishTries > 0 {
		s.publishTries = publishTries
	}
	return s
}

func (s *Syncer) WithThrottle(cfg ThrottleConfig) *Syncer {
	s.throttle = NewThrottle(cfg, s.now)
	return s
}

func (s *Syncer) WithDisabled(disabled bool) *Syncer {
	s.disabled = disabled
	return s
}

func (s *Syncer) WithMetrics(m *Metrics) *Syncer {
	s.metrics = m
	return s
}

// WithClock replaces the clock used by the throttle, the mapper and the request log.
func (s *Syncer) WithClock(now func() time.Time) *Syncer {
	s.now = now
	s.throttle.now = now
	s.mapper.Now = now
	return s
}

func (s *Syncer) WithIDs(newID func() uuid.UUID) *Syncer {
	s.mapper.NewID = newID
	return s
}

func (s *Syncer) Disabled() bool { return s.disabled }

// Trigger forces an immediate sync attempt (best-effort, non-blocking). The
// throttle still applies.
func (s *Syncer) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time            `json:"startedAt"`
	Disabled       bool                 `json:"disabled"`
	LastCycleAt    *time.Time           `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time           `json:"lastTriggerAt,omitempty"`
	LastSyncedAt   map[string]time.Time `json:"lastSyncedAt,omitempty"`
	TotalCycles    int64                `json:"totalCycles"`
	TotalThrottled int64                `json:"totalThrottled"`
	TotalErrors    int64                `json:"totalErrors"`
	LastError      string               `json:"lastError,omitempty"`
}

func (s *Syncer) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, s.startedAtUnixNano).UTC(),
		Disabled:       s.disabled,
		TotalCycles:    s.totalCycles.Load(),
		TotalThrottled: s.totalThrottled.Load(),
		TotalErrors:    s.totalErrors.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastSyncMu.Lock()
	if len(s.lastSync) > 0 {
		st.LastSyncedAt = make(map[string]time.Time, len(s.lastSync))
		for rt, at := range s.lastSync {
			st.LastSyncedAt[string(rt)] = at
		}
	}
	s.lastSyncMu.Unlock()
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Syncer) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Syncer) runOnce(ctx context.Context) {
	s.lastCycleUnixNano.Store(time.Now().UTC().UnixNano())
	if err := s.CheckAndMakeRequests(ctx); err != nil {
		slog.Error("feed sync", "error", err.Error())
	}
}

// CheckAndMakeRequests runs the availability and information cycles
// concurrently and waits for both. A failure in one cycle does not cancel the
// other; their errors are joined.
func (s *Syncer) CheckAndMakeRequests(ctx context.Context) error {
	if s.disabled {
		slog.Debug("feed sync disabled")
		return nil
	}

	var (
		wg                sync.WaitGroup
		availErr, infoErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		availErr = s.cycle(ctx, models.ResourceAvailability, s.syncAvailability)
	}()
	go func() {
		defer wg.Done()
		infoErr = s.cycle(ctx, models.ResourceInformation, s.syncInformation)
	}()
	wg.Wait()

	return stderrors.Join(availErr, infoErr)
}

// SyncResource runs a single cycle for rt, honouring the throttle.
func (s *Syncer) SyncResource(ctx context.Context, rt models.ResourceType) error {
	if s.disabled {
		return nil
	}
	switch rt {
	case models.ResourceAvailability:
		return s.cycle(ctx, rt, s.syncAvailability)
	case models.ResourceInformation:
		return s.cycle(ctx, rt, s.syncInformation)
	default:
		return errors.Errorf("unknown resource type %q", rt)
	}
}

type cycleFunc func(ctx context.Context) (messages.FeedSynced, error)

func (s *Syncer) cycle(ctx context.Context, rt models.ResourceType, run cycleFunc) error {
	last, err := s.repo.LatestRequest(ctx, rt)
	if err != nil {
		return s.fail(rt, feederr.Persistence("latest request", err))
	}
	if !s.throttle.CanFetch(rt, last) {
		s.totalThrottled.Add(1)
		s.metrics.cycle(rt, "throttled")
		slog.Debug("feed cycle throttled", "resource", rt, "next_at", s.throttle.NextAllowedAt(rt, last))
		return nil
	}

	started := time.Now()
	ev, err := run(ctx)
	if err != nil {
		return s.fail(rt, err)
	}

	entry := &models.RequestLogEntry{ID: uuid.New(), ResourceType: rt, RequestedAt: s.now()}
	if err := s.repo.InsertRequest(ctx, entry); err != nil {
		return s.fail(rt, feederr.Persistence("insert request log", err))
	}

	s.totalCycles.Add(1)
	s.lastSyncMu.Lock()
	s.lastSync[rt] = entry.RequestedAt
	s.lastSyncMu.Unlock()

	ev.CycleID = entry.ID.String()
	ev.ResourceType = string(rt)
	ev.RequestedAt = entry.RequestedAt

	s.metrics.cycle(rt, "ok")
	s.metrics.completed(rt, time.Since(started).Seconds(), ev.Fetched, map[string]int{
		"carpark_updated": ev.UpdatedCarParks,
		"carpark_created": ev.NewCarParks,
		"rate_updated":    ev.UpdatedRates,
		"rate_created":    ev.NewRates,
	})
	slog.Info("feed cycle done",
		"resource", rt,
		"fetched", ev.Fetched,
		"updated_carparks", ev.UpdatedCarParks,
		"new_carparks", ev.NewCarParks,
		"updated_rates", ev.UpdatedRates,
		"new_rates", ev.NewRates,
	)

	if err := s.publish(ctx, ev); err != nil {
		slog.Warn("publish feed synced", "resource", rt, "error", err.Error())
	}
	return nil
}

func (s *Syncer) fail(rt models.ResourceType, err error) error {
	s.totalErrors.Add(1)
	s.metrics.cycle(rt, "error")
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
	slog.Error("feed cycle failed", "resource", rt, "kind", feederr.KindOf(err), "error", err.Error())
	return err
}

func (s *Syncer) syncAvailability(ctx context.Context) (messages.FeedSynced, error) {
	var (
		ev       messages.FeedSynced
		upstream []models.UpstreamAvailabilityRecord
		existing []*models.CarPark
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		upstream, err = s.feed.FetchAvailability(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		existing, err = s.repo.ListCarParks(gctx)
		if err != nil {
			return feederr.Persistence("list carparks", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return ev, err
	}
	ev.Fetched = len(upstream)

	updated := s.mapper.Availability(upstream, existing)
	if len(updated) > 0 {
		if err := s.repo.UpdateCarParkLots(ctx, updated); err != nil {
			return ev, feederr.Persistence("update carpark lots", err)
		}
	}
	ev.UpdatedCarParks = len(updated)
	return ev, nil
}

func (s *Syncer) syncInformation(ctx context.Context) (messages.FeedSynced, error) {
	var (
		ev       messages.FeedSynced
		upstream []models.UpstreamInformationRecord
		carParks []*models.CarPark
		rates    []*models.RateSchedule
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		upstream, err = s.feed.FetchInformation(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		carParks, err = s.repo.ListCarParks(gctx)
		if err != nil {
			return feederr.Persistence("list carparks", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		rates, err = s.repo.ListRateSchedules(gctx)
		if err != nil {
			return feederr.Persistence("list rate schedules", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return ev, err
	}
	ev.Fetched = len(upstream)

	res := s.mapper.Information(upstream, carParks, rates)

	if len(res.UpdatedCarParks) > 0 {
		if err := s.repo.UpdateCarParks(ctx, res.UpdatedCarParks); err != nil {
			return ev, feederr.Persistence("update carparks", err)
		}
	}
	for _, chunk := range chunks(res.NewCarParks, s.chunkSize) {
		if err := s.repo.InsertCarParks(ctx, chunk); err != nil {
			return ev, feederr.Persistence("insert carparks", err)
		}
	}
	if len(res.UpdatedRates) > 0 {
		if err := s.repo.UpdateRateSchedules(ctx, res.UpdatedRates); err != nil {
			return ev, feederr.Persistence("update rate schedules", err)
		}
	}
	for _, chunk := range chunks(res.NewRates, s.chunkSize) {
		if err := s.repo.InsertRateSchedules(ctx, chunk); err != nil {
			return ev, feederr.Persistence("insert rate schedules", err)
		}
	}

	ev.UpdatedCarParks = len(res.UpdatedCarParks)
	ev.NewCarParks = len(res.NewCarParks)
	ev.UpdatedRates = len(res.UpdatedRates)
	ev.NewRates = len(res.NewRates)
	return ev, nil
}

func (s *Syncer) publish(ctx context.Context, ev messages.FeedSynced) error {
	if s.producer == nil {
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 150 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	// Kafka may not be reachable right after the stack starts.
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.producer.PublishFeedSynced(ctx, s.topic, ev)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(s.publishTries))
	return err
}

func chunks[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(items)
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
