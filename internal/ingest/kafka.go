package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"alertdetail/internal/config"
	"alertdetail/internal/metrics"
	"alertdetail/internal/model"
	"alertdetail/internal/normalize"
)

func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.Notification, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			HandleKafkaMessage(ctx, m, cfg.Get(), out, logger)
		}
	}()
}

// HandleKafkaMessage normalizes every notification in one message value.
func HandleKafkaMessage(ctx context.Context, m kafka.Message, cfg *config.Config, out chan<- model.Notification, logger *slog.Logger) int {
	list, err := ParseJSONBytes(m.Value)
	if err != nil {
		metrics.RecordIngest("kafka", "invalid")
		if logger != nil {
			logger.Warn("kafka message not json", "partition", m.Partition, "offset", m.Offset, "err", err)
		}
		return 0
	}
	sent := 0
	for _, fields := range list {
		fields.Source = "kafka"
		n, err := normalize.Normalize(fields, cfg)
		if err != nil {
			metrics.RecordIngest("kafka", "invalid")
			if logger != nil {
				logger.Warn("kafka normalize error", "offset", m.Offset, "err", err)
			}
			continue
		}
		if SendNonBlocking(ctx, out, n, logger) {
			sent++
		} else {
			metrics.RecordIngest("kafka", "dropped")
		}
	}
	return sent
}
