package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gdlbo/packageradar-sub000/internal/broker/messages"
	"github.com/gdlbo/packageradar-sub000/internal/integrations/radarapi"
	"github.com/gdlbo/packageradar-sub000/internal/models"
	"github.com/gdlbo/packageradar-sub000/internal/retry"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	recs    map[string]*models.TrackingRecord
	profile *models.Profile

	loadAllErr    error
	replaceAllErr error
	upsertErr     error

	replaceCalls int
	upsertIDs    []string
	deletedIDs   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{recs: map[string]*models.TrackingRecord{}}
}

func (f *fakeStore) LoadAll(context.Context) ([]*models.TrackingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadAllErr != nil {
		return nil, f.loadAllErr
	}
	out := make([]*models.TrackingRecord, 0, len(f.recs))
	for _, r := range f.recs {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (f *fakeStore) LoadByID(_ context.Context, id string) (*models.TrackingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[id]
	if !ok {
		return nil, nil
	}
	return r.Clone(), nil
}

func (f *fakeStore) LoadProfile(context.Context) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profile, nil
}

func (f *fakeStore) ReplaceAll(_ context.Context, records []*models.TrackingRecord, profile *models.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaceCalls++
	if f.replaceAllErr != nil {
		return f.replaceAllErr
	}
	f.recs = map[string]*models.TrackingRecord{}
	for _, r := range records {
		f.recs[r.ID] = r.Clone()
	}
	f.profile = profile
	return nil
}

func (f *fakeStore) Upsert(_ context.Context, r *models.TrackingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upsertIDs = append(f.upsertIDs, r.ID)
	f.recs[r.ID] = r.Clone()
	return nil
}

func (f *fakeStore) DeleteByID(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedIDs = append(f.deletedIDs, id)
	delete(f.recs, id)
	return nil
}

type fakeAPI struct {
	mu sync.Mutex

	list      radarapi.TrackingList
	listErr   error
	listCalls int

	detected  []radarapi.DetectedCourier
	detectErr error

	added  *models.TrackingRecord
	addErr error

	updateErr error
	updates   [][]radarapi.TrackingUpdate

	refreshedIDs []string
}

func (f *fakeAPI) GetTrackingList(context.Context) (radarapi.TrackingList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return radarapi.TrackingList{}, f.listErr
	}
	return f.list, nil
}

func (f *fakeAPI) AddTracking(context.Context, string, string, string) (*models.TrackingRecord, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	return f.added, nil
}

func (f *fakeAPI) UpdateTrackingList(_ context.Context, updates []radarapi.TrackingUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, updates)
	return f.updateErr
}

func (f *fakeAPI) RefreshTracking(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshedIDs = append(f.refreshedIDs, id)
	return nil
}

func (f *fakeAPI) Detect(context.Context, string) ([]radarapi.DetectedCourier, error) {
	if f.detectErr != nil {
		return nil, f.detectErr
	}
	return f.detected, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []messages.ParcelNotification
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, n messages.ParcelNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

func noRetry() retry.Options {
	return retry.Options{
		Times:        1,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Factor:       1,
	}
}

func freshRec(id string, nextCheck time.Time) *models.TrackingRecord {
	r := rec(id, models.Checkpoint{ID: "c-" + id, Time: "2025-03-01 10:00:00", StatusName: "In transit"})
	r.NextCheck = ts(nextCheck)
	return r
}

func TestRefresh_EmptyLocalFetchesAndPersists(t *testing.T) {
	st := newFakeStore()
	api := &fakeAPI{list: radarapi.TrackingList{
		Trackings: []*models.TrackingRecord{freshRec("1", time.Now().Add(time.Hour))},
		Profile:   &models.Profile{Email: "u@example.com"},
	}}
	nt := &fakeNotifier{}
	svc := New(st, api, nt).WithRetry(noRetry())

	snap := svc.Refresh(context.Background(), false)

	require.Equal(t, StateSuccess, snap.State)
	require.Len(t, snap.Items, 1)
	require.Equal(t, 1, api.listCalls)
	require.Equal(t, 1, st.replaceCalls)
	require.NotNil(t, st.profile)
}

func TestRefresh_FreshLocalSkipsNetwork(t *testing.T) {
	now := time.Now()
	st := newFakeStore()
	st.profile = &models.Profile{Email: "u@example.com"}
	st.recs["1"] = freshRec("1", now.Add(time.Hour))
	api := &fakeAPI{}
	svc := New(st, api, nil).WithRetry(noRetry()).WithClock(func() time.Time { return now })

	snap := svc.Refresh(context.Background(), false)

	require.Equal(t, StateSuccess, snap.State)
	require.Len(t, snap.Items, 1)
	require.Zero(t, api.listCalls)
}

func TestRefresh_ForceBypassesFreshness(t *testing.T) {
	now := time.Now()
	st := newFakeStore()
	st.profile = &models.Profile{}
	st.recs["1"] = freshRec("1", now.Add(time.Hour))
	api := &fakeAPI{list: radarapi.TrackingList{
		Trackings: []*models.TrackingRecord{freshRec("1", now.Add(2 * time.Hour))},
	}}
	svc := New(st, api, nil).WithRetry(noRetry()).WithClock(func() time.Time { return now })

	svc.Refresh(context.Background(), true)
	require.Equal(t, 1, api.listCalls)
}

func TestRefresh_StaleRecordTriggersFetch(t *testing.T) {
	now := time.Now()
	st := newFakeStore()
	st.profile = &models.Profile{}
	st.recs["1"] = freshRec("1", now.Add(-time.Minute))
	api := &fakeAPI{list: radarapi.TrackingList{
		Trackings: []*models.TrackingRecord{freshRec("1", now.Add(time.Hour))},
	}}
	svc := New(st, api, nil).WithRetry(noRetry()).WithClock(func() time.Time { return now })

	snap := svc.Refresh(context.Background(), false)
	require.Equal(t, StateSuccess, snap.State)
	require.Equal(t, 1, api.listCalls)
}

func TestRefresh_FetchFailEmptyListGivesError(t *testing.T) {
	st := newFakeStore()
	api := &fakeAPI{listErr: &radarapi.TransportError{Method: "getTrackingList", Err: errors.New("boom")}}
	svc := New(st, api, nil).WithRetry(noRetry())

	snap := svc.Refresh(context.Background(), false)
	require.Equal(t, StateError, snap.State)
	require.NotEmpty(t, snap.Message)
	require.Empty(t, snap.Items)
}

func TestRefresh_FetchFailKeepsStaleList(t *testing.T) {
	now := time.Now()
	st := newFakeStore()
	st.profile = &models.Profile{}
	st.recs["1"] = freshRec("1", now.Add(-time.Minute))
	api := &fakeAPI{listErr: &radarapi.TransportError{Method: "getTrackingList", Err: errors.New("boom")}}
	svc := New(st, api, nil).WithRetry(noRetry()).WithClock(func() time.Time { return now })

	// Прогреваем in-memory список успешным циклом без сети.
	st.recs["1"].NextCheck = ts(now.Add(time.Hour))
	svc.Refresh(context.Background(), false)
	st.recs["1"].NextCheck = ts(now.Add(-time.Minute))

	snap := svc.Refresh(context.Background(), false)
	require.Equal(t, StateSuccess, snap.State)
	require.Len(t, snap.Items, 1)
	require.NotEmpty(t, svc.Stats().LastError)
}

func TestRefresh_IdempotentReplace(t *testing.T) {
	st := newFakeStore()
	list := radarapi.TrackingList{
		Trackings: []*models.TrackingRecord{freshRec("1", time.Now().Add(time.Hour))},
		Profile:   &models.Profile{},
	}
	api := &fakeAPI{list: list}
	nt := &fakeNotifier{}
	svc := New(st, api, nt).WithRetry(noRetry())

	snap1 := svc.Refresh(context.Background(), true)
	snap2 := svc.Refresh(context.Background(), true)

	require.Equal(t, len(snap1.Items), len(snap2.Items))
	require.Len(t, st.recs, 1)
	// Второй цикл не видит изменений, повторных уведомлений нет.
	require.Len(t, nt.sent, 1)
}

func TestRefresh_NotifiesOncePerChange(t *testing.T) {
	st := newFakeStore()
	st.profile = &models.Profile{}
	st.recs["1"] = rec("1", models.Checkpoint{ID: "a", Time: "2025-03-01 10:00:00", StatusName: "Accepted"})
	st.recs["1"].NextCheck = ts(time.Now().Add(-time.Minute))

	updated := rec("1",
		models.Checkpoint{ID: "a", Time: "2025-03-01 10:00:00", StatusName: "Accepted"},
		models.Checkpoint{ID: "b", Time: "2025-03-02 10:00:00", StatusName: "Delivered"},
	)
	updated.Title = "Box"
	fresh := freshRec("2", time.Now().Add(time.Hour))
	fresh.Title = "New one"
	api := &fakeAPI{list: radarapi.TrackingList{Trackings: []*models.TrackingRecord{updated, fresh}}}
	nt := &fakeNotifier{}
	svc := New(st, api, nt).WithRetry(noRetry())

	svc.Refresh(context.Background(), false)

	require.Len(t, nt.sent, 2)
	byID := map[string]messages.ParcelNotification{}
	for _, n := range nt.sent {
		byID[n.ParcelID] = n
	}
	require.True(t, byID["2"].IsNew)
	require.False(t, byID["1"].IsNew)
	require.Equal(t, "Box", byID["1"].Title)
	require.Equal(t, "Delivered", byID["1"].Status)
	require.EqualValues(t, 2, svc.Stats().TotalNotifications)
}

func TestRefresh_NotifierFailureDoesNotBreakSync(t *testing.T) {
	st := newFakeStore()
	api := &fakeAPI{list: radarapi.TrackingList{
		Trackings: []*models.TrackingRecord{freshRec("1", time.Now().Add(time.Hour))},
	}}
	nt := &fakeNotifier{err: errors.New("kafka down")}
	svc := New(st, api, nt).WithRetry(noRetry())

	snap := svc.Refresh(context.Background(), false)
	require.Equal(t, StateSuccess, snap.State)
	require.EqualValues(t, 0, svc.Stats().TotalNotifications)
}

func TestAddTracking_NoCourier(t *testing.T) {
	st := newFakeStore()
	api := &fakeAPI{}
	svc := New(st, api, nil).WithRetry(noRetry())

	_, err := svc.AddTracking(context.Background(), "Box", "RB123456789CN")
	require.ErrorIs(t, err, ErrNoCourierDetected)
	require.Empty(t, st.recs)
	require.Equal(t, StateError, svc.Snapshot().State)
}

func TestAddTracking_InsertsPlaceholder(t *testing.T) {
	st := newFakeStore()
	added := rec("9")
	added.TrackingNumber = "RB123456789CN"
	api := &fakeAPI{
		detected: []radarapi.DetectedCourier{{
			Courier:        models.Courier{Slug: "cainiao", Name: "Cainiao"},
			TrackingNumber: "RB123456789CN",
		}},
		added: added,
	}
	svc := New(st, api, nil).WithRetry(noRetry())

	rec, err := svc.AddTracking(context.Background(), "Box", "RB123456789CN")
	require.NoError(t, err)
	require.True(t, rec.IsNew)
	require.Equal(t, models.TriYes, rec.Unread)
	require.Contains(t, st.recs, "9")

	snap := svc.Snapshot()
	require.Equal(t, StateSuccess, snap.State)
	require.Len(t, snap.Items, 1)
}

func TestAddTracking_APIErrorLeavesStoreUntouched(t *testing.T) {
	st := newFakeStore()
	api := &fakeAPI{
		detected: []radarapi.DetectedCourier{{Courier: models.Courier{Slug: "ups"}, TrackingNumber: "1Z999"}},
		addErr:   &radarapi.APIError{Method: "addTracking", Message: "limit reached"},
	}
	svc := New(st, api, nil).WithRetry(noRetry())

	_, err := svc.AddTracking(context.Background(), "", "1Z999")
	require.Error(t, err)
	require.True(t, radarapi.IsAPIError(err))
	require.Empty(t, st.recs)
}

func TestArchiveParcel_OptimisticThenConfirm(t *testing.T) {
	now := time.Now()
	st := newFakeStore()
	st.profile = &models.Profile{}
	st.recs["1"] = freshRec("1", now.Add(time.Hour))
	st.recs["2"] = freshRec("2", now.Add(time.Hour))
	api := &fakeAPI{}
	svc := New(st, api, nil).WithRetry(noRetry()).WithClock(func() time.Time { return now })
	svc.Refresh(context.Background(), false)

	require.NoError(t, svc.ArchiveParcel(context.Background(), "1"))

	snap := svc.Snapshot()
	require.Len(t, snap.Items, 1)
	require.Equal(t, "2", snap.Items[0].ID)
	require.Equal(t, models.TriYes, st.recs["1"].Archived)
	require.Len(t, api.updates, 1)
	require.Equal(t, "1", api.updates[0][0].ID)
	require.NotNil(t, api.updates[0][0].IsArchived)
	require.True(t, *api.updates[0][0].IsArchived)
}

func TestArchiveParcel_FailureTriggersResync(t *testing.T) {
	now := time.Now()
	st := newFakeStore()
	st.profile = &models.Profile{}
	st.recs["1"] = freshRec("1", now.Add(time.Hour))
	api := &fakeAPI{
		updateErr: &radarapi.TransportError{Method: "updateTrackingList", Err: errors.New("boom")},
		list: radarapi.TrackingList{
			Trackings: []*models.TrackingRecord{freshRec("1", now.Add(time.Hour))},
		},
	}
	svc := New(st, api, nil).WithRetry(noRetry()).WithClock(func() time.Time { return now })
	svc.Refresh(context.Background(), false)

	err := svc.ArchiveParcel(context.Background(), "1")
	require.Error(t, err)
	// Форсированный resync вернул запись в ленту.
	require.Equal(t, 1, api.listCalls)
	require.Len(t, svc.Snapshot().Items, 1)
}

func TestMarkRead_ServerFailureKeepsState(t *testing.T) {
	now := time.Now()
	st := newFakeStore()
	st.profile = &models.Profile{}
	unread := freshRec("1", now.Add(time.Hour))
	unread.Unread = models.TriYes
	st.recs["1"] = unread
	api := &fakeAPI{updateErr: &radarapi.TransportError{Method: "updateTrackingList", Err: errors.New("boom")}}
	svc := New(st, api, nil).WithRetry(noRetry()).WithClock(func() time.Time { return now })
	svc.Refresh(context.Background(), false)

	svc.MarkRead(context.Background(), "1")

	snap := svc.Snapshot()
	require.True(t, snap.Items[0].IsUnread())
	require.Equal(t, StateSuccess, snap.State)
}

func TestMarkRead_FlipsUnread(t *testing.T) {
	now := time.Now()
	st := newFakeStore()
	st.profile = &models.Profile{}
	unread := freshRec("1", now.Add(time.Hour))
	unread.Unread = models.TriYes
	st.recs["1"] = unread
	api := &fakeAPI{}
	svc := New(st, api, nil).WithRetry(noRetry()).WithClock(func() time.Time { return now })
	svc.Refresh(context.Background(), false)

	svc.MarkRead(context.Background(), "1")
	require.False(t, svc.Snapshot().Items[0].IsUnread())
}

func TestReadAll_AllOrNothing(t *testing.T) {
	now := time.Now()
	st := newFakeStore()
	st.profile = &models.Profile{}
	for _, id := range []string{"1", "2"} {
		r := freshRec(id, now.Add(time.Hour))
		r.Unread = models.TriYes
		st.recs[id] = r
	}
	api := &fakeAPI{updateErr: &radarapi.TransportError{Method: "updateTrackingList", Err: errors.New("boom")}}
	svc := New(st, api, nil).WithRetry(noRetry()).WithClock(func() time.Time { return now })
	svc.Refresh(context.Background(), false)

	require.Error(t, svc.ReadAll(context.Background()))
	for _, r := range svc.Snapshot().Items {
		require.True(t, r.IsUnread())
	}

	api.updateErr = nil
	require.NoError(t, svc.ReadAll(context.Background()))
	for _, r := range svc.Snapshot().Items {
		require.False(t, r.IsUnread())
	}
	// Один батчевый вызов на все записи, не по вызову на запись.
	last := api.updates[len(api.updates)-1]
	require.Len(t, last, 2)
}

func TestReadAll_NothingUnreadSkipsServer(t *testing.T) {
	svc := New(newFakeStore(), &fakeAPI{}, nil).WithRetry(noRetry())
	api := svc.api.(*fakeAPI)

	require.NoError(t, svc.ReadAll(context.Background()))
	require.Empty(t, api.updates)
}

func TestRenameParcel(t *testing.T) {
	now := time.Now()
	st := newFakeStore()
	st.profile = &models.Profile{}
	st.recs["1"] = freshRec("1", now.Add(time.Hour))
	api := &fakeAPI{}
	svc := New(st, api, nil).WithRetry(noRetry()).WithClock(func() time.Time { return now })
	svc.Refresh(context.Background(), false)

	require.NoError(t, svc.RenameParcel(context.Background(), "1", "Sneakers"))
	require.Equal(t, "Sneakers", svc.Snapshot().Items[0].Title)
	require.Equal(t, "Sneakers", st.recs["1"].Title)
}

func TestDeleteParcel(t *testing.T) {
	now := time.Now()
	st := newFakeStore()
	st.profile = &models.Profile{}
	st.recs["1"] = freshRec("1", now.Add(time.Hour))
	svc := New(st, &fakeAPI{}, nil).WithRetry(noRetry()).WithClock(func() time.Time { return now })
	svc.Refresh(context.Background(), false)

	require.NoError(t, svc.DeleteParcel(context.Background(), "1"))
	require.Empty(t, svc.Snapshot().Items)
	require.Equal(t, []string{"1"}, st.deletedIDs)
}

func TestPlaceholderDemotedAfterMaxAttempts(t *testing.T) {
	st := newFakeStore()
	svc := New(st, &fakeAPI{}, nil).WithRetry(noRetry()).WithPlaceholderRefresh(time.Hour, 2)

	ph := rec("5")
	ph.IsNew = true
	st.recs["5"] = ph.Clone()

	// Две попытки — ещё плейсхолдер, третья разжалует.
	svc.maybeScheduleRefetch(context.Background(), []*models.TrackingRecord{ph})
	require.True(t, ph.IsNew)
	svc.maybeScheduleRefetch(context.Background(), []*models.TrackingRecord{ph})
	require.True(t, ph.IsNew)
	svc.maybeScheduleRefetch(context.Background(), []*models.TrackingRecord{ph})
	require.False(t, ph.IsNew)
	require.False(t, st.recs["5"].IsNew)
}

func TestPlaceholderRefetchRunsOnce(t *testing.T) {
	now := time.Now()
	st := newFakeStore()
	st.profile = &models.Profile{}
	api := &fakeAPI{list: radarapi.TrackingList{
		Trackings: []*models.TrackingRecord{freshRec("5", now.Add(time.Hour))},
	}}
	svc := New(st, api, nil).
		WithRetry(noRetry()).
		WithPlaceholderRefresh(20*time.Millisecond, 3).
		WithClock(func() time.Time { return now })

	ph := rec("5")
	ph.IsNew = true
	svc.maybeScheduleRefetch(context.Background(), []*models.TrackingRecord{ph})
	svc.maybeScheduleRefetch(context.Background(), []*models.TrackingRecord{ph})

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.listCalls == 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	api.mu.Lock()
	defer api.mu.Unlock()
	require.Equal(t, 1, api.listCalls)
	// Плейсхолдер получил точечный refreshTracking перед общим re-sync.
	require.Equal(t, []string{"5"}, api.refreshedIDs)
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string][]byte{}} }

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.data[key]
	return b, ok, nil
}

func (f *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeCache) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func TestWarmFromCache_RoundTrip(t *testing.T) {
	fc := newFakeCache()
	st := newFakeStore()
	api := &fakeAPI{list: radarapi.TrackingList{
		Trackings: []*models.TrackingRecord{freshRec("1", time.Now().Add(time.Hour))},
	}}
	svc := New(st, api, nil).WithRetry(noRetry()).WithCache(fc, time.Minute)

	svc.Refresh(context.Background(), true)
	require.Contains(t, fc.data, "feed:current")

	// Новый инстанс прогревается из кэша ещё до первой синхронизации.
	svc2 := New(newFakeStore(), &fakeAPI{}, nil).WithCache(fc, time.Minute)
	svc2.WarmFromCache(context.Background())
	require.Len(t, svc2.Snapshot().Items, 1)
	require.Equal(t, "1", svc2.Snapshot().Items[0].ID)
}

func TestWarmFromCache_BadPayloadIgnored(t *testing.T) {
	fc := newFakeCache()
	fc.data["feed:current"] = []byte("{not json")
	svc := New(newFakeStore(), &fakeAPI{}, nil).WithCache(fc, time.Minute)

	svc.WarmFromCache(context.Background())
	require.Empty(t, svc.Snapshot().Items)
}

func TestClearCache_FeedDoesNotSurviveLogout(t *testing.T) {
	fc := newFakeCache()
	st := newFakeStore()
	api := &fakeAPI{list: radarapi.TrackingList{
		Trackings: []*models.TrackingRecord{freshRec("1", time.Now().Add(time.Hour))},
	}}
	svc := New(st, api, nil).WithRetry(noRetry()).WithCache(fc, time.Minute)

	svc.Refresh(context.Background(), true)
	require.Contains(t, fc.data, "feed:current")

	require.NoError(t, svc.ClearCache(context.Background()))
	require.NotContains(t, fc.data, "feed:current")

	snap := svc.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.Empty(t, snap.Items)

	// Свежий инстанс поверх того же кэша не поднимает чужую ленту.
	svc2 := New(newFakeStore(), &fakeAPI{}, nil).WithCache(fc, time.Minute)
	svc2.WarmFromCache(context.Background())
	require.Empty(t, svc2.Snapshot().Items)
}

func TestMarkRead_DoesNotMutateEarlierSnapshots(t *testing.T) {
	now := time.Now()
	st := newFakeStore()
	st.profile = &models.Profile{}
	unread := freshRec("1", now.Add(time.Hour))
	unread.Unread = models.TriYes
	st.recs["1"] = unread
	svc := New(st, &fakeAPI{}, nil).WithRetry(noRetry()).WithClock(func() time.Time { return now })
	svc.Refresh(context.Background(), false)

	before := svc.Snapshot()
	svc.MarkRead(context.Background(), "1")

	require.True(t, before.Items[0].IsUnread())
	require.False(t, svc.Snapshot().Items[0].IsUnread())
}

func TestRenameParcel_DoesNotMutateEarlierSnapshots(t *testing.T) {
	now := time.Now()
	st := newFakeStore()
	st.profile = &models.Profile{}
	r := freshRec("1", now.Add(time.Hour))
	r.Title = "Old"
	st.recs["1"] = r
	svc := New(st, &fakeAPI{}, nil).WithRetry(noRetry()).WithClock(func() time.Time { return now })
	svc.Refresh(context.Background(), false)

	before := svc.Snapshot()
	require.NoError(t, svc.RenameParcel(context.Background(), "1", "New"))

	require.Equal(t, "Old", before.Items[0].Title)
	require.Equal(t, "New", svc.Snapshot().Items[0].Title)
}

func TestReadAll_DoesNotMutateEarlierSnapshots(t *testing.T) {
	now := time.Now()
	st := newFakeStore()
	st.profile = &models.Profile{}
	r := freshRec("1", now.Add(time.Hour))
	r.Unread = models.TriYes
	st.recs["1"] = r
	svc := New(st, &fakeAPI{}, nil).WithRetry(noRetry()).WithClock(func() time.Time { return now })
	svc.Refresh(context.Background(), false)

	before := svc.Snapshot()
	require.NoError(t, svc.ReadAll(context.Background()))

	require.True(t, before.Items[0].IsUnread())
	require.False(t, svc.Snapshot().Items[0].IsUnread())
}

func TestConcurrentRefreshSerialized(t *testing.T) {
	st := newFakeStore()
	api := &fakeAPI{list: radarapi.TrackingList{
		Trackings: []*models.TrackingRecord{freshRec("1", time.Now().Add(time.Hour))},
	}}
	svc := New(st, api, nil).WithRetry(noRetry())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Refresh(context.Background(), true)
		}()
	}
	wg.Wait()

	require.Equal(t, 8, api.listCalls)
	require.Len(t, st.recs, 1)
	require.Equal(t, StateSuccess, svc.Snapshot().State)
}
