package messages

import "time"

// ParcelNotification — событие для локального уведомления. Ключ сообщения —
// parcel_id, поэтому повторная доставка схлопывается на стороне платформы.
type ParcelNotification struct {
	ParcelID string    `json:"parcel_id"`
	Title    string    `json:"title"`
	Status   string    `json:"status"`
	IsNew    bool      `json:"is_new"`
	At       time.Time `json:"at"`
}
