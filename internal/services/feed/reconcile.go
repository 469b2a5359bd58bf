package feed

import (
	"sort"

	"github.com/gdlbo/packageradar-sub000/internal/models"
)

// Changes — результат сверки серверного снапшота с локальным кэшем.
type Changes struct {
	// Added — появились на сервере, в кэше их не было. Архивные не в счёт.
	Added []*models.TrackingRecord
	// Updated — история чекпоинтов продвинулась: изменилось и количество,
	// и последний чекпоинт. Оба условия сразу, иначе ловим ложные
	// срабатывания на переупорядочивании без новых данных.
	Updated []*models.TrackingRecord
	// Removed — были в кэше, на сервере больше не отдаются.
	Removed []*models.TrackingRecord
}

// Diff сравнивает два снапшота по id. Без I/O, без сайд-эффектов.
func Diff(server, local []*models.TrackingRecord) Changes {
	localByID := make(map[string]*models.TrackingRecord, len(local))
	for _, r := range local {
		localByID[r.ID] = r
	}
	serverIDs := make(map[string]struct{}, len(server))

	var ch Changes
	for _, sr := range server {
		serverIDs[sr.ID] = struct{}{}

		lr, ok := localByID[sr.ID]
		if !ok {
			if !sr.IsArchived() {
				ch.Added = append(ch.Added, sr)
			}
			continue
		}
		if checkpointsAdvanced(sr, lr) {
			ch.Updated = append(ch.Updated, sr)
		}
	}

	for _, lr := range local {
		if _, ok := serverIDs[lr.ID]; !ok {
			ch.Removed = append(ch.Removed, lr)
		}
	}
	return ch
}

func checkpointsAdvanced(server, local *models.TrackingRecord) bool {
	if len(server.Checkpoints) == len(local.Checkpoints) {
		return false
	}
	sl := server.LastCheckpoint()
	ll := local.LastCheckpoint()
	if sl == nil {
		return false
	}
	if ll == nil {
		return true
	}
	return *sl != *ll
}

// SortForDisplay сортирует список для показа и схлопывает дубли по id,
// оставляя первое вхождение. Дубли возможны: оптимистично вставленная
// запись плюс её же серверная копия после resync.
// Порядок: свежедобавленные, затем по времени последнего чекпоинта,
// затем по времени первого. Сортировка стабильная.
func SortForDisplay(items []*models.TrackingRecord) []*models.TrackingRecord {
	out := append([]*models.TrackingRecord(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsNew != b.IsNew {
			return a.IsNew
		}
		at, bt := a.LastCheckpointTime(), b.LastCheckpointTime()
		if !at.Equal(bt) {
			return at.After(bt)
		}
		return a.StartedTime().After(b.StartedTime())
	})

	seen := make(map[string]struct{}, len(out))
	dedup := out[:0]
	for _, r := range out {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		dedup = append(dedup, r)
	}
	return dedup
}

// ActiveOnly отфильтровывает архивные записи.
func ActiveOnly(items []*models.TrackingRecord) []*models.TrackingRecord {
	out := make([]*models.TrackingRecord, 0, len(items))
	for _, r := range items {
		if !r.IsArchived() {
			out = append(out, r)
		}
	}
	return out
}
