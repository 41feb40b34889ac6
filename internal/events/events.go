// Package events 把每次工作流的最终结果作为事件投递给下游系统。
package events

import (
	"context"
	"log/slog"
	"time"

	"ExchangeMCP-Chain/internal/exchange"
	"ExchangeMCP-Chain/pkg/logger"
)

// publishTimeout 限制单次事件投递的时长。
const publishTimeout = 5 * time.Second

// Event 是工作流结束后对外发布的消息体。
type Event struct {
	RequestID  string `json:"request_id"`
	Workflow   string `json:"workflow"`
	Success    bool   `json:"success"`
	Stage      string `json:"stage"`
	ErrorCode  string `json:"error_code,omitempty"`
	Reason     string `json:"reason,omitempty"`
	TxHash     string `json:"tx_hash,omitempty"`
	ApprovalTx string `json:"approval_tx,omitempty"`
	Pool       string `json:"pool,omitempty"`
	OccurredAt int64  `json:"occurred_at"`
}

// FromOutcome 将结果转换为事件。
func FromOutcome(outcome exchange.Outcome, at time.Time) Event {
	event := Event{
		RequestID:  outcome.RequestID,
		Workflow:   string(outcome.Kind),
		Success:    outcome.Success,
		Stage:      string(outcome.Stage()),
		TxHash:     outcome.TxHash,
		ApprovalTx: outcome.ApprovalTx(),
		OccurredAt: at.Unix(),
	}
	if !outcome.Success {
		event.ErrorCode = string(outcome.Code)
		event.Reason = outcome.Reason
	}
	if outcome.Pool != nil {
		event.Pool = outcome.Pool.Pool.Hex()
	}
	return event
}

// Publisher 负责把事件投递出去。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Noop 丢弃所有事件，是未配置事件驱动时的默认实现。
type Noop struct{}

// Publish 实现 Publisher。
func (Noop) Publish(context.Context, Event) error { return nil }

// Close 实现 Publisher。
func (Noop) Close() error { return nil }

// Observer 把结果转换为事件并发布。投递失败只记录日志。
type Observer struct {
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewObserver 创建事件观察者。
func NewObserver(publisher Publisher) *Observer {
	if publisher == nil {
		publisher = Noop{}
	}
	return &Observer{publisher: publisher, logger: logger.Named("events"), now: time.Now}
}

// Observe 实现 exchange.Observer。
func (o *Observer) Observe(ctx context.Context, outcome exchange.Outcome) {
	if outcome.Kind == exchange.KindLiquidityState {
		return
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := o.publisher.Publish(publishCtx, FromOutcome(outcome, o.now())); err != nil {
		o.logger.Warn("发布工作流事件失败",
			slog.String("request_id", outcome.RequestID),
			slog.String("workflow", string(outcome.Kind)),
			slog.Any("error", err),
		)
	}
}
