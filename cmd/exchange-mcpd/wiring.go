package main

import (
	"context"
	"time"

	"ExchangeMCP-Chain/internal/config"
	"ExchangeMCP-Chain/internal/events"
	"ExchangeMCP-Chain/internal/exchange"
	"ExchangeMCP-Chain/internal/lock"
	"ExchangeMCP-Chain/internal/observability/alerting"
	"ExchangeMCP-Chain/internal/observability/metrics"
	"ExchangeMCP-Chain/internal/storage/mysql"
	"ExchangeMCP-Chain/pkg/logger"
)

func buildHistory(ctx context.Context, cfg *config.Config) (mysql.OutcomeRepository, error) {
	return mysql.NewOutcomeRepository(ctx, cfg.Storage, cfg.Runtime.DataDir)
}

func buildPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	switch cfg.Driver {
	case "rabbitmq":
		return events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
		})
	default:
		return events.Noop{}, nil
	}
}

func buildSignerLock(ctx context.Context, cfg config.LockConfig) (lock.SignerLock, error) {
	switch cfg.Driver {
	case "redis":
		return lock.NewRedisLock(ctx, lock.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.TTL(),
		})
	default:
		return lock.NewMemoryLock(), nil
	}
}

func buildDispatcher(cfg config.AlertingConfig) (alerting.Dispatcher, error) {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerting")}}
	if cfg.WebhookURL != "" {
		webhook, err := alerting.NewWebhookNotifier(alerting.WebhookConfig{
			URL:              cfg.WebhookURL,
			Timeout:          time.Duration(cfg.TimeoutSeconds) * time.Second,
			FailureThreshold: cfg.FailureThreshold,
		})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, webhook)
	}
	return alerting.NewFanout(notifiers...), nil
}

// observers 的顺序即通知顺序：先落历史，再计数、发布事件和告警。
func observers(history mysql.OutcomeRepository, publisher events.Publisher, registry *metrics.Registry, dispatcher alerting.Dispatcher) []exchange.Observer {
	return []exchange.Observer{
		mysql.NewHistoryObserver(history),
		registry,
		events.NewObserver(publisher),
		alerting.NewObserver(dispatcher),
	}
}
