package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gdlbo/packageradar-sub000/config"
	"github.com/gdlbo/packageradar-sub000/internal/broker/kafka"
	"github.com/gdlbo/packageradar-sub000/internal/broker/messages"
)

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
	Close() error
}

// handleNotification — один шаг воркера: распаковать событие и отдать
// его в системный канал уведомлений (здесь — лог, рендер за рамками).
func handleNotification(value []byte) error {
	var n messages.ParcelNotification
	if err := json.Unmarshal(value, &n); err != nil {
		return err
	}

	kind := "update"
	if n.IsNew {
		kind = "new"
	}
	slog.Info("local notification",
		"parcel_id", n.ParcelID,
		"kind", kind,
		"title", n.Title,
		"status", n.Status,
	)
	return nil
}

func RunRadarNotify(ctx context.Context, cfg *config.Config, consumer kafkaConsumer) error {
	slog.Info("notification worker started")
	return consumer.Consume(ctx, func(_ []byte, value []byte) error {
		if err := handleNotification(value); err != nil {
			// Битое сообщение ретраить бессмысленно, пишем и едем дальше.
			slog.Error("bad notification payload", "error", err.Error())
		}
		return nil
	})
}

func newConsumer(cfg *config.Config) *kafka.Consumer {
	topic := cfg.Kafka.NotificationsTopicName
	if topic == "" {
		topic = "parcel.notifications"
	}
	group := cfg.Radar.KafkaConsumerGroup
	if group == "" {
		group = "radar-notify"
	}
	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	return kafka.NewConsumer(brokers, topic, group)
}
