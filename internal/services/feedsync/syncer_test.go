package feedsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/CarparkFinder/internal/broker/messages"
	"github.com/BearBump/CarparkFinder/internal/feederr"
	"github.com/BearBump/CarparkFinder/internal/models"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu sync.Mutex

	carParks []*models.CarPark
	rates    []*models.RateSchedule
	log      []*models.RequestLogEntry

	insertCarParkSizes []int
	insertRateSizes    []int
	updateCarParkCalls int

	listErr      error
	insertCarErr error
	insertReqErr error

	// snapshots holds every ListCarParks caller until all of them have read;
	// afterInfoWrite makes lot writes wait for the information write.
	snapshots      *sync.WaitGroup
	afterInfoWrite chan struct{}
}

func (r *memRepo) ListCarParks(ctx context.Context) ([]*models.CarPark, error) {
	r.mu.Lock()
	if r.listErr != nil {
		r.mu.Unlock()
		return nil, r.listErr
	}
	out := append([]*models.CarPark{}, r.carParks...)
	r.mu.Unlock()
	if r.snapshots != nil {
		r.snapshots.Done()
		r.snapshots.Wait()
	}
	return out, nil
}

func (r *memRepo) InsertCarParks(ctx context.Context, cps []*models.CarPark) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertCarErr != nil {
		return r.insertCarErr
	}
	r.insertCarParkSizes = append(r.insertCarParkSizes, len(cps))
	r.carParks = append(r.carParks, cps...)
	return nil
}

func (r *memRepo) UpdateCarParks(ctx context.Context, cps []*models.CarPark) error {
	r.mu.Lock()
	r.updateCarParkCalls++
	for _, u := range cps {
		r.patch(u.ID, func(cp *models.CarPark) {
			cp.VehicleCategory = u.VehicleCategory
			cp.ParkingSystem = u.ParkingSystem
			cp.Capacity = u.Capacity
			cp.Location = u.Location
			cp.UpdatedAt = laterOf(cp.UpdatedAt, u.UpdatedAt)
		})
	}
	r.mu.Unlock()
	if r.afterInfoWrite != nil {
		close(r.afterInfoWrite)
	}
	return nil
}

func (r *memRepo) UpdateCarParkLots(ctx context.Context, cps []*models.CarPark) error {
	if r.afterInfoWrite != nil {
		<-r.afterInfoWrite
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCarParkCalls++
	for _, u := range cps {
		r.patch(u.ID, func(cp *models.CarPark) {
			cp.LotsAvailable = u.LotsAvailable
			cp.UpdatedAt = laterOf(cp.UpdatedAt, u.UpdatedAt)
		})
	}
	return nil
}

// patch replaces the stored row with an edited copy; callers hold r.mu.
func (r *memRepo) patch(id uuid.UUID, edit func(cp *models.CarPark)) {
	for i, cp := range r.carParks {
		if cp.ID == id {
			c := *cp
			edit(&c)
			r.carParks[i] = &c
		}
	}
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func (r *memRepo) carPark(code string) *models.CarPark {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cp := range r.carParks {
		if cp.Code == code {
			return cp
		}
	}
	return nil
}

func (r *memRepo) ListRateSchedules(ctx context.Context) ([]*models.RateSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.RateSchedule{}, r.rates...), nil
}

func (r *memRepo) InsertRateSchedules(ctx context.Context, rs []*models.RateSchedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertRateSizes = append(r.insertRateSizes, len(rs))
	r.rates = append(r.rates, rs...)
	return nil
}

func (r *memRepo) UpdateRateSchedules(ctx context.Context, rs []*models.RateSchedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range rs {
		for i, cur := range r.rates {
			if cur.ID == u.ID {
				r.rates[i] = u
			}
		}
	}
	return nil
}

func (r *memRepo) LatestRequest(ctx context.Context, rt models.ResourceType) (*models.RequestLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last *models.RequestLogEntry
	for _, e := range r.log {
		if e.ResourceType == rt && (last == nil || e.RequestedAt.After(last.RequestedAt)) {
			last = e
		}
	}
	return last, nil
}

func (r *memRepo) InsertRequest(ctx context.Context, e *models.RequestLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertReqErr != nil {
		return r.insertReqErr
	}
	r.log = append(r.log, e)
	return nil
}

func (r *memRepo) logFor(rt models.ResourceType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.log {
		if e.ResourceType == rt {
			n++
		}
	}
	return n
}

type stubFeed struct {
	mu sync.Mutex

	avail    []models.UpstreamAvailabilityRecord
	info     []models.UpstreamInformationRecord
	availErr error
	infoErr  error

	availCalls int
	infoCalls  int
}

func (f *stubFeed) FetchAvailability(ctx context.Context) ([]models.UpstreamAvailabilityRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.availCalls++
	return f.avail, f.availErr
}

func (f *stubFeed) FetchInformation(ctx context.Context) ([]models.UpstreamInformationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoCalls++
	return f.info, f.infoErr
}

type recProducer struct {
	mu     sync.Mutex
	events []messages.FeedSynced
	topics []string
	err    error
	calls  int
}

func (p *recProducer) PublishFeedSynced(ctx context.Context, topic string, m messages.FeedSynced) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.events = append(p.events, m)
	return nil
}

func infoRecord(code string) models.UpstreamInformationRecord {
	r := decimal.RequireFromString("1.20")
	return models.UpstreamInformationRecord{
		Code:            code,
		Name:            "Carpark " + code,
		VehicleCategory: models.VehicleCategoryCar,
		ParkingSystem:   models.ParkingSystemElectronic,
		Capacity:        100,
		StartTime:       models.NewTimeOfDay(7, 0),
		EndTime:         models.NewTimeOfDay(17, 0),
		Weekday:         models.DayRate{Rate: r, MinMinutes: 30},
		Saturday:        models.DayRate{Rate: r, MinMinutes: 30},
		SundayHoliday:   models.DayRate{Rate: r, MinMinutes: 30},
		Coordinates:     "100,200",
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestSyncer(repo *memRepo, f *stubFeed, p Producer) (*Syncer, *clock) {
	c := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s := New(repo, f, p, "").WithClock(c.Now).WithSettings(0, 0, 1)
	return s, c
}

func TestSyncer_DisabledIsNoop(t *testing.T) {
	repo := &memRepo{}
	f := &stubFeed{}
	s, _ := newTestSyncer(repo, f, nil)
	s.WithDisabled(true)

	require.NoError(t, s.CheckAndMakeRequests(context.Background()))
	require.NoError(t, s.SyncResource(context.Background(), models.ResourceAvailability))
	require.Zero(t, f.availCalls)
	require.Zero(t, f.infoCalls)
	require.Empty(t, repo.log)
	require.True(t, s.Stats().Disabled)
}

func TestSyncer_FirstRunThenThrottled(t *testing.T) {
	repo := &memRepo{}
	f := &stubFeed{
		info:  []models.UpstreamInformationRecord{infoRecord("A1"), infoRecord("B2")},
		avail: []models.UpstreamAvailabilityRecord{{CarParkNo: "A1", LotsAvailable: 42, LotType: "C"}},
	}
	s, c := newTestSyncer(repo, f, nil)
	ctx := context.Background()

	require.NoError(t, s.CheckAndMakeRequests(ctx))
	require.Equal(t, 1, f.availCalls)
	require.Equal(t, 1, f.infoCalls)
	require.Len(t, repo.carParks, 2)
	require.Len(t, repo.rates, 2)
	require.Equal(t, 1, repo.logFor(models.ResourceAvailability))
	require.Equal(t, 1, repo.logFor(models.ResourceInformation))

	c.Advance(time.Minute)
	require.NoError(t, s.CheckAndMakeRequests(ctx))
	require.Equal(t, 1, f.availCalls)
	require.Equal(t, 1, f.infoCalls)
	require.Equal(t, int64(2), s.Stats().TotalThrottled)

	// availability cooldown passes, information does not
	c.Advance(5 * time.Minute)
	require.NoError(t, s.CheckAndMakeRequests(ctx))
	require.Equal(t, 2, f.availCalls)
	require.Equal(t, 1, f.infoCalls)
	require.Equal(t, 2, repo.logFor(models.ResourceAvailability))

	var a1 *models.CarPark
	for _, cp := range repo.carParks {
		if cp.Code == "A1" {
			a1 = cp
		}
	}
	require.NotNil(t, a1)
	require.Equal(t, 42, a1.LotsAvailable)
}

func TestSyncer_ConcurrentCyclesKeepEachOthersFields(t *testing.T) {
	id := uuid.New()
	created := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	repo := &memRepo{
		carParks: []*models.CarPark{{
			ID: id, Code: "A1", Name: "Carpark A1",
			VehicleCategory: models.VehicleCategoryCar, ParkingSystem: models.ParkingSystemElectronic,
			Capacity: 100, LotsAvailable: 10, Location: &models.Location{X: 100, Y: 200},
			CreatedAt: created, UpdatedAt: created,
		}},
		snapshots:      &sync.WaitGroup{},
		afterInfoWrite: make(chan struct{}),
	}
	repo.snapshots.Add(2)

	rec := infoRecord("A1")
	rec.Capacity = 150
	f := &stubFeed{
		info:  []models.UpstreamInformationRecord{rec},
		avail: []models.UpstreamAvailabilityRecord{{CarParkNo: "A1", LotsAvailable: 42, LotType: "C"}},
	}
	s, c := newTestSyncer(repo, f, nil)

	// both cycles read the same snapshot, then availability writes last
	require.NoError(t, s.CheckAndMakeRequests(context.Background()))
	cp := repo.carPark("A1")
	require.Equal(t, 150, cp.Capacity)
	require.Equal(t, 42, cp.LotsAvailable)
	require.Equal(t, 1, repo.logFor(models.ResourceInformation))

	// the information cycle is throttled now, so nothing would repair a lost write
	repo.snapshots, repo.afterInfoWrite = nil, nil
	c.Advance(6 * time.Minute)
	f.avail[0].LotsAvailable = 7
	require.NoError(t, s.CheckAndMakeRequests(context.Background()))
	require.Equal(t, 1, f.infoCalls)
	cp = repo.carPark("A1")
	require.Equal(t, 150, cp.Capacity)
	require.Equal(t, 7, cp.LotsAvailable)
}

func TestSyncer_CyclesAreIndependent(t *testing.T) {
	repo := &memRepo{}
	f := &stubFeed{
		availErr: feederr.Request("fetch availability", errors.New("503")),
		info:     []models.UpstreamInformationRecord{infoRecord("A1")},
	}
	s, _ := newTestSyncer(repo, f, nil)

	err := s.CheckAndMakeRequests(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, feederr.ErrRequest)
	require.NotErrorIs(t, err, feederr.ErrPersistence)

	require.Equal(t, 0, repo.logFor(models.ResourceAvailability))
	require.Equal(t, 1, repo.logFor(models.ResourceInformation))
	require.Len(t, repo.carParks, 1)

	st := s.Stats()
	require.Equal(t, int64(1), st.TotalErrors)
	require.Equal(t, int64(1), st.TotalCycles)
	require.NotEmpty(t, st.LastError)
	require.Contains(t, st.LastSyncedAt, "information")
}

func TestSyncer_BothFailuresJoined(t *testing.T) {
	repo := &memRepo{}
	f := &stubFeed{
		availErr: feederr.Auth("acquire token", errors.New("denied")),
		infoErr:  feederr.Validation("decode information", errors.New("bad shape")),
	}
	s, _ := newTestSyncer(repo, f, nil)

	err := s.CheckAndMakeRequests(context.Background())
	require.ErrorIs(t, err, feederr.ErrAuth)
	require.ErrorIs(t, err, feederr.ErrValidation)
	require.Empty(t, repo.log)
}

func TestSyncer_PersistenceFailureSkipsLog(t *testing.T) {
	repo := &memRepo{insertCarErr: errors.New("conn reset")}
	f := &stubFeed{info: []models.UpstreamInformationRecord{infoRecord("A1")}}
	s, _ := newTestSyncer(repo, f, nil)

	err := s.SyncResource(context.Background(), models.ResourceInformation)
	require.ErrorIs(t, err, feederr.ErrPersistence)
	require.Equal(t, feederr.KindPersistence, feederr.KindOf(err))
	require.Equal(t, 0, repo.logFor(models.ResourceInformation))
}

func TestSyncer_SnapshotFailureIsPersistence(t *testing.T) {
	repo := &memRepo{listErr: errors.New("timeout")}
	f := &stubFeed{}
	s, _ := newTestSyncer(repo, f, nil)

	err := s.SyncResource(context.Background(), models.ResourceAvailability)
	require.ErrorIs(t, err, feederr.ErrPersistence)
	require.Empty(t, repo.log)
}

func TestSyncer_InsertRequestFailure(t *testing.T) {
	repo := &memRepo{insertReqErr: errors.New("disk full")}
	s, _ := newTestSyncer(repo, &stubFeed{}, nil)

	err := s.SyncResource(context.Background(), models.ResourceAvailability)
	require.ErrorIs(t, err, feederr.ErrPersistence)
}

func TestSyncer_LogsEvenWithoutDeltas(t *testing.T) {
	repo := &memRepo{}
	f := &stubFeed{avail: []models.UpstreamAvailabilityRecord{{CarParkNo: "UNKNOWN", LotsAvailable: 1, LotType: "C"}}}
	s, _ := newTestSyncer(repo, f, nil)

	require.NoError(t, s.SyncResource(context.Background(), models.ResourceAvailability))
	require.Equal(t, 1, repo.logFor(models.ResourceAvailability))
	require.Zero(t, repo.updateCarParkCalls)
}

func TestSyncer_InsertsAreChunked(t *testing.T) {
	repo := &memRepo{}
	recs := make([]models.UpstreamInformationRecord, 0, 1201)
	for i := 0; i < 1201; i++ {
		recs = append(recs, infoRecord(fmt.Sprintf("C%04d", i)))
	}
	f := &stubFeed{info: recs}
	s, _ := newTestSyncer(repo, f, nil)

	require.NoError(t, s.SyncResource(context.Background(), models.ResourceInformation))
	require.Equal(t, []int{500, 500, 201}, repo.insertCarParkSizes)
	require.Equal(t, []int{500, 500, 201}, repo.insertRateSizes)
}

func TestSyncer_PublishesFeedSynced(t *testing.T) {
	repo := &memRepo{}
	f := &stubFeed{info: []models.UpstreamInformationRecord{infoRecord("A1")}}
	p := &recProducer{}
	s, c := newTestSyncer(repo, f, p)

	require.NoError(t, s.SyncResource(context.Background(), models.ResourceInformation))
	require.Len(t, p.events, 1)
	ev := p.events[0]
	require.Equal(t, messages.TopicFeedSynced, p.topics[0])
	require.Equal(t, "information", ev.ResourceType)
	require.Equal(t, 1, ev.Fetched)
	require.Equal(t, 1, ev.NewCarParks)
	require.Equal(t, 1, ev.NewRates)
	require.True(t, ev.RequestedAt.Equal(c.Now()))
	_, err := uuid.Parse(ev.CycleID)
	require.NoError(t, err)
}

func TestSyncer_PublishFailureIsBestEffort(t *testing.T) {
	repo := &memRepo{}
	p := &recProducer{err: errors.New("no brokers")}
	s, _ := newTestSyncer(repo, &stubFeed{}, p)
	s.WithSettings(0, 0, 2)

	require.NoError(t, s.SyncResource(context.Background(), models.ResourceAvailability))
	require.Equal(t, 2, p.calls)
	require.Equal(t, 1, repo.logFor(models.ResourceAvailability))
}

func TestSyncer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	repo := &memRepo{}
	f := &stubFeed{info: []models.UpstreamInformationRecord{infoRecord("A1")}}
	s, _ := newTestSyncer(repo, f, nil)
	s.WithMetrics(NewMetrics(reg))

	require.NoError(t, s.CheckAndMakeRequests(context.Background()))
	require.NoError(t, s.CheckAndMakeRequests(context.Background()))

	require.Equal(t, float64(1), testutil.ToFloat64(s.metrics.cycles.WithLabelValues("information", "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(s.metrics.cycles.WithLabelValues("information", "throttled")))
	require.Equal(t, float64(1), testutil.ToFloat64(s.metrics.deltas.WithLabelValues("information", "carpark_created")))
}

func TestSyncer_UnknownResource(t *testing.T) {
	s, _ := newTestSyncer(&memRepo{}, &stubFeed{}, nil)
	require.Error(t, s.SyncResource(context.Background(), models.ResourceType("weather")))
}

func TestSyncer_Run_StopsOnContextCancel(t *testing.T) {
	repo := &memRepo{}
	f := &stubFeed{}
	s, _ := newTestSyncer(repo, f, nil)
	s.WithSettings(5*time.Millisecond, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.GreaterOrEqual(t, f.availCalls, 1)
	require.NotNil(t, s.Stats().LastCycleAt)
}

func TestSyncer_TriggerNonBlocking(t *testing.T) {
	s, _ := newTestSyncer(&memRepo{}, &stubFeed{}, nil)
	s.Trigger()
	s.Trigger()
	require.NotNil(t, s.Stats().LastTriggerAt)
}

func TestChunks(t *testing.T) {
	require.Nil(t, chunks([]int{}, 3))
	require.Equal(t, [][]int{{1, 2}, {3}}, chunks([]int{1, 2, 3}, 2))
	require.Equal(t, [][]int{{1, 2, 3}}, chunks([]int{1, 2, 3}, 0))
}
