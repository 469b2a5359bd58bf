package feed

import (
	"time"

	"github.com/gdlbo/packageradar-sub000/internal/models"
)

// NeedsRefresh решает, пора ли идти в сеть, или кэшу ещё можно верить.
// Чистая функция: для одинаковых (records, now) ответ всегда одинаковый.
//
// Правило: обновляться, если хоть у одной неархивной записи nextCheck
// отсутствует, не парсится или уже наступил.
func NeedsRefresh(records []*models.TrackingRecord, now time.Time) bool {
	for _, r := range records {
		if r.IsArchived() {
			continue
		}
		next, ok := r.NextCheckTime()
		if !ok {
			return true
		}
		if !next.After(now) {
			return true
		}
	}
	return false
}
