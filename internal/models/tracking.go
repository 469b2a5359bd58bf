package models

import (
	"sort"
	"time"
)

// CheckpointTimeLayout — формат времени, который отдаёт сервер.
// Таймзона не передаётся, локаль применяет вызывающая сторона.
const CheckpointTimeLayout = "2006-01-02 15:04:05"

// Коды статусов чекпоинтов, по которым считаем посылку доставленной
// или прибывшей в пункт выдачи.
var (
	deliveredStatusCodes = map[int]struct{}{
		40: {},
		45: {},
	}
	arrivedStatusCodes = map[int]struct{}{
		30: {},
		35: {},
	}
)

type Courier struct {
	Name   string  `json:"name"`
	Slug   string  `json:"slug"`
	Rating float64 `json:"rating,omitempty"`
}

type Checkpoint struct {
	ID                 string `json:"id"`
	Time               string `json:"time"`
	StatusCode         int    `json:"statusCode"`
	StatusName         string `json:"statusName,omitempty"`
	StatusRaw          string `json:"statusRaw,omitempty"`
	LocationRaw        string `json:"locationRaw,omitempty"`
	LocationTranslated string `json:"locationTranslated,omitempty"`
}

// When парсит время события. Непарсибельное время трактуем как нулевое,
// чтобы одна битая запись не валила всю пачку.
func (c Checkpoint) When() time.Time {
	t, err := time.Parse(CheckpointTimeLayout, c.Time)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (c Checkpoint) Delivered() bool {
	_, ok := deliveredStatusCodes[c.StatusCode]
	return ok
}

func (c Checkpoint) Arrived() bool {
	_, ok := arrivedStatusCodes[c.StatusCode]
	return ok
}

type TrackingRecord struct {
	ID                    string       `json:"id"`
	TrackingNumber        string       `json:"trackingNumber"`
	TrackingNumberCurrent string       `json:"trackingNumberCurrent,omitempty"`
	Title                 string       `json:"title,omitempty"`
	Courier               *Courier     `json:"courier,omitempty"`
	Archived              TriState     `json:"isArchived,omitempty"`
	Unread                TriState     `json:"isUnread,omitempty"`
	LastCheck             string       `json:"lastCheck,omitempty"`
	NextCheck             string       `json:"nextCheck,omitempty"`
	Checkpoints           []Checkpoint `json:"checkpoints,omitempty"`

	// IsNew — клиентский флаг "только что добавлено, ждём наполнения
	// с бэкенда". На сервер не уходит.
	IsNew bool `json:"-"`
}

func (r *TrackingRecord) IsArchived() bool {
	return r.Archived == TriYes
}

func (r *TrackingRecord) IsUnread() bool {
	return r.Unread == TriYes
}

func (r *TrackingRecord) LastCheckpoint() *Checkpoint {
	if len(r.Checkpoints) == 0 {
		return nil
	}
	return &r.Checkpoints[len(r.Checkpoints)-1]
}

func (r *TrackingRecord) LastCheckpointTime() time.Time {
	if cp := r.LastCheckpoint(); cp != nil {
		return cp.When()
	}
	return time.Time{}
}

// StartedTime — время первого чекпоинта (начало пути посылки).
func (r *TrackingRecord) StartedTime() time.Time {
	if len(r.Checkpoints) == 0 {
		return time.Time{}
	}
	return r.Checkpoints[0].When()
}

// NextCheckTime парсит nextCheck. Второе значение false, если метка
// отсутствует или не парсится — такую запись считаем требующей проверки.
func (r *TrackingRecord) NextCheckTime() (time.Time, bool) {
	if r.NextCheck == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(CheckpointTimeLayout, r.NextCheck)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SortCheckpoints упорядочивает чекпоинты по возрастанию времени события.
// Сортировка стабильная: записи с одинаковым (в том числе нулевым)
// временем сохраняют серверный порядок.
func (r *TrackingRecord) SortCheckpoints() {
	sort.SliceStable(r.Checkpoints, func(i, j int) bool {
		return r.Checkpoints[i].When().Before(r.Checkpoints[j].When())
	})
}

func (r *TrackingRecord) Clone() *TrackingRecord {
	cp := *r
	if r.Courier != nil {
		c := *r.Courier
		cp.Courier = &c
	}
	cp.Checkpoints = append([]Checkpoint(nil), r.Checkpoints...)
	return &cp
}

type Profile struct {
	Email          string `json:"email"`
	EmailConfirmed bool   `json:"emailConfirmed"`
	CountryCode    string `json:"countryCode,omitempty"`
	CountryName    string `json:"countryName,omitempty"`
	NotifyEmail    bool   `json:"notifyEmail"`
	NotifyPush     bool   `json:"notifyPush"`
}
