package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gdlbo/packageradar-sub000/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	consumer := newConsumer(cfg)
	defer func() { _ = consumer.Close() }()

	if err := RunRadarNotify(ctx, cfg, consumer); err != nil && err != context.Canceled {
		panic(err)
	}
}
