package feed

import (
	"time"

	"github.com/gdlbo/packageradar-sub000/internal/models"
)

// State — состояние операции "получить ленту".
// Idle -> Loading -> {Success | Error}. Loading показываем только когда
// показывать больше нечего: тихий фоновый рефреш поверх живого списка
// глобальный лоадер не включает.
type State int8

const (
	StateIdle State = iota
	StateLoading
	StateSuccess
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// Snapshot — консистентная проекция ленты для показа.
type Snapshot struct {
	State   State                    `json:"state"`
	Message string                   `json:"message,omitempty"`
	Items   []*models.TrackingRecord `json:"items"`
}

type Stats struct {
	State              string     `json:"state"`
	Items              int        `json:"items"`
	LastSyncAt         *time.Time `json:"lastSyncAt,omitempty"`
	TotalSyncs         int64      `json:"totalSyncs"`
	TotalNotifications int64      `json:"totalNotifications"`
	LastError          string     `json:"lastError,omitempty"`
}
