package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdlbo/packageradar-sub000/internal/broker/messages"
	"github.com/gdlbo/packageradar-sub000/internal/cache"
	"github.com/gdlbo/packageradar-sub000/internal/integrations/radarapi"
	"github.com/gdlbo/packageradar-sub000/internal/models"
	"github.com/gdlbo/packageradar-sub000/internal/retry"
	"github.com/pkg/errors"
)

// ErrNoCourierDetected — detect не распознал ни одного перевозчика
// по трек-номеру. Кэш при этом не трогаем.
var ErrNoCourierDetected = errors.New("courier not detected")

const feedCacheKey = "feed:current"

type Store interface {
	LoadAll(ctx context.Context) ([]*models.TrackingRecord, error)
	LoadByID(ctx context.Context, id string) (*models.TrackingRecord, error)
	LoadProfile(ctx context.Context) (*models.Profile, error)
	ReplaceAll(ctx context.Context, records []*models.TrackingRecord, profile *models.Profile) error
	Upsert(ctx context.Context, r *models.TrackingRecord) error
	DeleteByID(ctx context.Context, id string) error
}

type API interface {
	GetTrackingList(ctx context.Context) (radarapi.TrackingList, error)
	AddTracking(ctx context.Context, trackingNumber, courierSlug, title string) (*models.TrackingRecord, error)
	UpdateTrackingList(ctx context.Context, updates []radarapi.TrackingUpdate) error
	RefreshTracking(ctx context.Context, id string) error
	Detect(ctx context.Context, trackingNumber string) ([]radarapi.DetectedCourier, error)
}

type Notifier interface {
	Notify(ctx context.Context, n messages.ParcelNotification) error
}

// Service — оркестратор синхронизации: кэш -> оценка свежести -> сеть ->
// сверка -> персист -> уведомления. Плюс оптимистичные мутации
// (архив, rename, mark-read), которые правят кэш сразу и сводятся
// с сервером асинхронно.
type Service struct {
	store    Store
	api      API
	notifier Notifier

	cache    cache.BytesCache
	cacheTTL time.Duration

	retryOpts retry.Options
	now       func() time.Time

	placeholderDelay time.Duration
	placeholderMax   int

	// syncMu сериализует циклы синхронизации: два пересекающихся
	// Refresh не должны гоняться на ReplaceAll.
	syncMu sync.Mutex

	mu               sync.Mutex
	state            State
	message          string
	items            []*models.TrackingRecord
	placeholderTries map[string]int
	refreshPending   bool

	lastSyncUnixNano   atomic.Int64
	totalSyncs         atomic.Int64
	totalNotifications atomic.Int64
	lastErrorMu        sync.Mutex
	lastError          string
}

func New(store Store, api API, notifier Notifier) *Service {
	return &Service{
		store:    store,
		api:      api,
		notifier: notifier,
		retryOpts: retry.Options{
			Retryable: radarapi.IsTransport,
		},
		now:              func() time.Time { return time.Now().UTC() },
		placeholderDelay: 10 * time.Second,
		placeholderMax:   3,
		placeholderTries: map[string]int{},
	}
}

func (s *Service) WithCache(c cache.BytesCache, ttl time.Duration) *Service {
	s.cache = c
	s.cacheTTL = ttl
	return s
}

func (s *Service) WithRetry(opts retry.Options) *Service {
	if opts.Retryable == nil {
		opts.Retryable = radarapi.IsTransport
	}
	s.retryOpts = opts
	return s
}

func (s *Service) WithPlaceholderRefresh(delay time.Duration, maxAttempts int) *Service {
	if delay > 0 {
		s.placeholderDelay = delay
	}
	if maxAttempts > 0 {
		s.placeholderMax = maxAttempts
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Snapshot возвращает текущую проекцию ленты без похода куда-либо.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:   s.state,
		Message: s.message,
		Items:   append([]*models.TrackingRecord(nil), s.items...),
	}
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		State: s.state.String(),
		Items: len(s.items),
	}
	s.mu.Unlock()

	st.TotalSyncs = s.totalSyncs.Load()
	st.TotalNotifications = s.totalNotifications.Load()
	if n := s.lastSyncUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastSyncAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

// WarmFromCache поднимает последний успешный снапшот ленты из byte-кэша,
// чтобы было что показать до первой синхронизации. Best-effort.
func (s *Service) WarmFromCache(ctx context.Context) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	b, ok, err := s.cache.Get(ctx, feedCacheKey)
	if err != nil || !ok {
		return
	}
	var items []*models.TrackingRecord
	if json.Unmarshal(b, &items) != nil {
		return
	}
	s.mu.Lock()
	if len(s.items) == 0 {
		s.items = items
	}
	s.mu.Unlock()
}

// ClearCache забывает локальную проекцию ленты: сбрасывает in-memory
// список и удаляет снапшот из byte-кэша. Вызывается на логауте, иначе
// лента прошлого аккаунта переживёт перезапуск через WarmFromCache.
func (s *Service) ClearCache(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateIdle
	s.message = ""
	s.items = nil
	s.mu.Unlock()

	if s.cache == nil {
		return nil
	}
	return errors.Wrap(s.cache.Del(ctx, feedCacheKey), "clear feed cache")
}

// Refresh — один цикл "get feed": кэш, свежесть, сеть, сверка, персист.
// Ошибки не вылетают наружу паникой, итог всегда выражен состоянием.
func (s *Service) Refresh(ctx context.Context, force bool) Snapshot {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.totalSyncs.Add(1)
	s.lastSyncUnixNano.Store(s.now().UnixNano())

	s.mu.Lock()
	if len(s.items) == 0 {
		s.state = StateLoading
		s.message = ""
	}
	s.mu.Unlock()

	profile, err := s.store.LoadProfile(ctx)
	if err != nil {
		return s.fail(errors.Wrap(err, "load profile"))
	}
	local, err := s.store.LoadAll(ctx)
	if err != nil {
		return s.fail(errors.Wrap(err, "load trackings"))
	}

	active := ActiveOnly(local)
	shouldFetch := force ||
		profile == nil ||
		len(local) == 0 ||
		(len(active) > 0 && NeedsRefresh(active, s.now()))

	if !shouldFetch {
		return s.succeed(ctx, SortForDisplay(active))
	}

	list, err := retry.Do(ctx, s.retryOpts, func(ctx context.Context) (radarapi.TrackingList, error) {
		return s.api.GetTrackingList(ctx)
	})
	if err != nil {
		s.mu.Lock()
		stale := len(s.items) > 0
		s.mu.Unlock()
		if stale {
			// Стейл-лента лучше пустого экрана: живой список не сносим
			// из-за транзиентной сетевой ошибки.
			slog.Warn("feed fetch failed, keeping stale list", "error", err.Error())
			s.noteError(err)
			return s.Snapshot()
		}
		return s.fail(err)
	}

	for _, r := range list.Trackings {
		r.SortCheckpoints()
	}

	ch := Diff(list.Trackings, local)
	s.notifyChanges(ctx, ch)

	if err := s.store.ReplaceAll(ctx, list.Trackings, list.Profile); err != nil {
		return s.fail(errors.Wrap(err, "replace cache"))
	}

	snap := s.succeed(ctx, SortForDisplay(ActiveOnly(list.Trackings)))
	s.maybeScheduleRefetch(ctx, list.Trackings)
	return snap
}

// AddTracking: detect -> addTracking -> оптимистичная вставка плейсхолдера.
// Любой сбой до записи в кэш оставляет кэш нетронутым.
func (s *Service) AddTracking(ctx context.Context, title, number string) (*models.TrackingRecord, error) {
	couriers, err := retry.Do(ctx, s.retryOpts, func(ctx context.Context) ([]radarapi.DetectedCourier, error) {
		return s.api.Detect(ctx, number)
	})
	if err != nil {
		s.setError(err)
		return nil, err
	}
	if len(couriers) == 0 {
		s.setError(ErrNoCourierDetected)
		return nil, ErrNoCourierDetected
	}

	first := couriers[0]
	rec, err := s.api.AddTracking(ctx, first.TrackingNumber, first.Courier.Slug, title)
	if err != nil {
		s.setError(err)
		return nil, err
	}
	if rec == nil {
		err := errors.New("addTracking: empty result")
		s.setError(err)
		return nil, err
	}

	rec.IsNew = true
	rec.Unread = models.TriYes
	if err := s.store.Upsert(ctx, rec); err != nil {
		err = errors.Wrap(err, "persist placeholder")
		s.setError(err)
		return nil, err
	}

	s.mu.Lock()
	s.items = SortForDisplay(append([]*models.TrackingRecord{rec}, s.items...))
	s.state = StateSuccess
	s.message = ""
	s.mu.Unlock()

	s.maybeScheduleRefetch(ctx, []*models.TrackingRecord{rec})
	return rec, nil
}

// ArchiveParcel убирает посылку из активной ленты сразу, сервер догоняем
// следом. При отказе сервера — полный форсированный resync, чтобы
// оптимистичный UI и кэш не разъехались молча.
func (s *Service) ArchiveParcel(ctx context.Context, id string) error {
	s.mu.Lock()
	kept := s.items[:0]
	for _, r := range s.items {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	s.items = kept
	s.mu.Unlock()

	yes := true
	err := s.api.UpdateTrackingList(ctx, []radarapi.TrackingUpdate{{ID: id, IsArchived: &yes}})
	if err != nil {
		slog.Warn("archive failed, resyncing", "parcel_id", id, "error", err.Error())
		s.Refresh(ctx, true)
		return err
	}

	rec, err := s.store.LoadByID(ctx, id)
	if err != nil {
		return errors.Wrap(err, "load archived")
	}
	if rec == nil {
		return nil
	}
	rec.Archived = models.TriYes
	return errors.Wrap(s.store.Upsert(ctx, rec), "persist archived")
}

// MarkRead — best-effort: при отказе сервера логируем и оставляем всё
// как было, откатывать нечего.
func (s *Service) MarkRead(ctx context.Context, id string) {
	yes := true
	err := s.api.UpdateTrackingList(ctx, []radarapi.TrackingUpdate{{ID: id, NoNotify: &yes}})
	if err != nil {
		slog.Warn("mark read failed", "parcel_id", id, "error", err.Error())
		return
	}

	s.mu.Lock()
	for i, r := range s.items {
		if r.ID == id {
			// Копия, а не правка по месту: указатель уже мог уехать
			// наружу в чьём-то Snapshot.
			c := r.Clone()
			c.Unread = models.TriNo
			s.items[i] = c
		}
	}
	s.items = SortForDisplay(s.items)
	s.mu.Unlock()
}

// ReadAll помечает прочитанными все непрочитанные неархивные записи.
// Всё или ничего: локальное состояние меняется только после успешного
// батчевого вызова.
func (s *Service) ReadAll(ctx context.Context) error {
	s.mu.Lock()
	var unread []*models.TrackingRecord
	for _, r := range s.items {
		if r.IsUnread() && !r.IsArchived() {
			unread = append(unread, r)
		}
	}
	s.mu.Unlock()

	if len(unread) == 0 {
		return nil
	}

	yes := true
	updates := make([]radarapi.TrackingUpdate, 0, len(unread))
	for _, r := range unread {
		updates = append(updates, radarapi.TrackingUpdate{ID: r.ID, NoNotify: &yes})
	}
	if err := s.api.UpdateTrackingList(ctx, updates); err != nil {
		return err
	}

	flippedIDs := make(map[string]struct{}, len(unread))
	for _, r := range unread {
		flippedIDs[r.ID] = struct{}{}
	}

	s.mu.Lock()
	var flipped []*models.TrackingRecord
	for i, r := range s.items {
		if _, ok := flippedIDs[r.ID]; !ok {
			continue
		}
		c := r.Clone()
		c.Unread = models.TriNo
		s.items[i] = c
		flipped = append(flipped, c)
	}
	s.mu.Unlock()

	for _, r := range flipped {
		if err := s.store.Upsert(ctx, r); err != nil {
			slog.Error("persist read flag", "parcel_id", r.ID, "error", err.Error())
		}
	}
	return nil
}

// RenameParcel правит заголовок локально и на сервере.
func (s *Service) RenameParcel(ctx context.Context, id, title string) error {
	err := s.api.UpdateTrackingList(ctx, []radarapi.TrackingUpdate{{ID: id, Title: &title}})
	if err != nil {
		return err
	}

	s.mu.Lock()
	for i, r := range s.items {
		if r.ID == id {
			c := r.Clone()
			c.Title = title
			s.items[i] = c
		}
	}
	s.mu.Unlock()

	rec, err := s.store.LoadByID(ctx, id)
	if err != nil {
		return errors.Wrap(err, "load renamed")
	}
	if rec == nil {
		return nil
	}
	rec.Title = title
	return errors.Wrap(s.store.Upsert(ctx, rec), "persist title")
}

// DeleteParcel удаляет запись локально; сервер перестанет её отдавать сам.
func (s *Service) DeleteParcel(ctx context.Context, id string) error {
	s.mu.Lock()
	kept := s.items[:0]
	for _, r := range s.items {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	s.items = kept
	s.mu.Unlock()

	return errors.Wrap(s.store.DeleteByID(ctx, id), "delete tracking")
}

// notifyChanges шлёт ровно одно уведомление на каждую новую/обновлённую
// посылку. Идентичность уведомления — id посылки, так что редоставка
// схлопывается на стороне платформы, а не здесь.
func (s *Service) notifyChanges(ctx context.Context, ch Changes) {
	if s.notifier == nil {
		return
	}
	now := s.now()
	emit := func(r *models.TrackingRecord, isNew bool) {
		n := messages.ParcelNotification{
			ParcelID: r.ID,
			Title:    displayTitle(r),
			IsNew:    isNew,
			At:       now,
		}
		if cp := r.LastCheckpoint(); cp != nil {
			n.Status = checkpointStatus(*cp)
		}
		if err := s.notifier.Notify(ctx, n); err != nil {
			slog.Error("notify", "parcel_id", r.ID, "error", err.Error())
			return
		}
		s.totalNotifications.Add(1)
	}
	for _, r := range ch.Added {
		emit(r, true)
	}
	for _, r := range ch.Updated {
		emit(r, false)
	}
}

// maybeScheduleRefetch планирует форсированный re-sync через
// placeholderDelay, пока в списке висят плейсхолдеры (isNew): бэкенд
// наполняет такие записи асинхронно. Перед re-sync каждому плейсхолдеру
// шлём profile.refreshTracking, чтобы сервер переопросил именно его.
// Попытки ограничены; после placeholderMax плейсхолдер разжалуем
// в обычную запись.
func (s *Service) maybeScheduleRefetch(ctx context.Context, records []*models.TrackingRecord) {
	var give []*models.TrackingRecord
	var pendingIDs []string

	s.mu.Lock()
	for _, r := range records {
		if !r.IsNew {
			delete(s.placeholderTries, r.ID)
			continue
		}
		s.placeholderTries[r.ID]++
		if s.placeholderTries[r.ID] > s.placeholderMax {
			delete(s.placeholderTries, r.ID)
			r.IsNew = false
			give = append(give, r)
			continue
		}
		pendingIDs = append(pendingIDs, r.ID)
	}
	schedule := len(pendingIDs) > 0 && !s.refreshPending
	if schedule {
		s.refreshPending = true
	}
	s.mu.Unlock()

	for _, r := range give {
		slog.Warn("placeholder still empty, giving up", "parcel_id", r.ID)
		if err := s.store.Upsert(ctx, r); err != nil {
			slog.Error("persist placeholder demotion", "parcel_id", r.ID, "error", err.Error())
		}
	}

	if !schedule {
		return
	}
	go func() {
		t := time.NewTimer(s.placeholderDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.refreshPending = false
			s.mu.Unlock()
			return
		case <-t.C:
		}
		s.mu.Lock()
		s.refreshPending = false
		s.mu.Unlock()
		for _, id := range pendingIDs {
			if err := s.api.RefreshTracking(ctx, id); err != nil {
				slog.Warn("refresh tracking", "parcel_id", id, "error", err.Error())
			}
		}
		s.Refresh(ctx, true)
	}()
}

func (s *Service) succeed(ctx context.Context, items []*models.TrackingRecord) Snapshot {
	s.mu.Lock()
	s.state = StateSuccess
	s.message = ""
	s.items = items
	snap := Snapshot{
		State: StateSuccess,
		Items: append([]*models.TrackingRecord(nil), items...),
	}
	s.mu.Unlock()

	if s.cache != nil && s.cacheTTL > 0 {
		if b, err := json.Marshal(items); err == nil {
			_ = s.cache.Set(ctx, feedCacheKey, b, s.cacheTTL)
		}
	}
	return snap
}

func (s *Service) fail(err error) Snapshot {
	s.noteError(err)
	s.mu.Lock()
	s.state = StateError
	s.message = err.Error()
	snap := Snapshot{
		State:   StateError,
		Message: err.Error(),
		Items:   append([]*models.TrackingRecord(nil), s.items...),
	}
	s.mu.Unlock()
	slog.Error("feed refresh", "error", err.Error())
	return snap
}

// setError переводит state machine в Error, не трогая список.
func (s *Service) setError(err error) {
	s.noteError(err)
	s.mu.Lock()
	s.state = StateError
	s.message = err.Error()
	s.mu.Unlock()
}

func (s *Service) noteError(err error) {
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}

func displayTitle(r *models.TrackingRecord) string {
	if r.Title != "" {
		return r.Title
	}
	if r.TrackingNumberCurrent != "" {
		return r.TrackingNumberCurrent
	}
	return r.TrackingNumber
}

func checkpointStatus(cp models.Checkpoint) string {
	if cp.StatusName != "" {
		return cp.StatusName
	}
	return cp.StatusRaw
}
