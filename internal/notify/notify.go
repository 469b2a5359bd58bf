package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gdlbo/packageradar-sub000/internal/broker/messages"
	"github.com/pkg/errors"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// KafkaNotifier публикует уведомления в топик; воркер на другом конце
// превращает их в локальные нотификации. Ключ — parcel_id.
type KafkaNotifier struct {
	producer Producer
	topic    string
}

func NewKafkaNotifier(producer Producer, topic string) *KafkaNotifier {
	if topic == "" {
		topic = "parcel.notifications"
	}
	return &KafkaNotifier{producer: producer, topic: topic}
}

func (n *KafkaNotifier) Notify(ctx context.Context, msg messages.ParcelNotification) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}
	return n.producer.Publish(ctx, n.topic, []byte(msg.ParcelID), b)
}

// SlogNotifier — дешёвая реализация без брокера: уведомление уходит в лог.
type SlogNotifier struct{}

func NewSlogNotifier() *SlogNotifier { return &SlogNotifier{} }

func (n *SlogNotifier) Notify(_ context.Context, msg messages.ParcelNotification) error {
	slog.Info("parcel notification",
		"parcel_id", msg.ParcelID,
		"title", msg.Title,
		"status", msg.Status,
		"is_new", msg.IsNew,
	)
	return nil
}
