package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	xerrors "ExchangeMCP-Chain/internal/errors"
	"ExchangeMCP-Chain/internal/exchange"
	"ExchangeMCP-Chain/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog     Channel = "log"
	ChannelWebhook Channel = "webhook"
)

// Event 描述一次需要告警的工作流失败。
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	RequestID  string            `json:"request_id"`
	Workflow   string            `json:"workflow"`
	Stage      string            `json:"stage"`
	ApprovalTx string            `json:"approval_tx,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// EventFromOutcome 从失败结果构造告警事件。ok 为 false 表示该结果无需告警。
func EventFromOutcome(outcome exchange.Outcome, at time.Time) (Event, bool) {
	if outcome.Success || !xerrors.ShouldAlert(outcome.Err) {
		return Event{}, false
	}
	event := Event{
		Code:       outcome.Code,
		Message:    outcome.Reason,
		Severity:   xerrors.SeverityOf(outcome.Err),
		RequestID:  outcome.RequestID,
		Workflow:   string(outcome.Kind),
		Stage:      string(outcome.Stage()),
		ApprovalTx: outcome.ApprovalTx(),
		OccurredAt: at,
	}
	if e, ok := xerrors.From(outcome.Err); ok {
		event.Metadata = e.Metadata()
	}
	return event, true
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。同一渠道只保留最后注册的通知器。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Channels 返回已注册的渠道。
func (d *FanoutDispatcher) Channels() []Channel {
	if d == nil {
		return nil
	}
	channels := make([]Channel, 0, len(d.notifiers))
	for ch := range d.notifiers {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	return channels
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 把告警写入结构化日志。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 写一条 error 级别日志。
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	log := logger.L()
	if n != nil && n.Logger != nil {
		log = n.Logger
	}
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("request_id", event.RequestID),
		slog.String("workflow", event.Workflow),
		slog.String("stage", event.Stage),
		slog.String("message", event.Message),
	}
	if event.ApprovalTx != "" {
		attrs = append(attrs, slog.String("approval_tx", event.ApprovalTx))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String("meta."+k, v))
	}
	log.ErrorContext(ctx, "工作流告警", attrs...)
	return nil
}

// notifyTimeout 限制单次告警投递的时长。
const notifyTimeout = 10 * time.Second

// Observer 在结果需要告警时通知 Dispatcher。投递失败只记录日志。
type Observer struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

// NewObserver 创建告警观察者。
func NewObserver(dispatcher Dispatcher) *Observer {
	return &Observer{dispatcher: dispatcher, logger: logger.Named("alerting"), now: time.Now}
}

// Observe 实现 exchange.Observer。
func (o *Observer) Observe(ctx context.Context, outcome exchange.Outcome) {
	if o == nil || o.dispatcher == nil {
		return
	}
	event, ok := EventFromOutcome(outcome, o.now())
	if !ok {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := o.dispatcher.Notify(notifyCtx, event); err != nil {
		o.logger.Warn("发送告警失败",
			slog.String("request_id", outcome.RequestID),
			slog.Any("error", err),
		)
	}
}
