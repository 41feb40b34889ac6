package mysql

import (
	"context"
	"log/slog"
	"time"

	"ExchangeMCP-Chain/internal/exchange"
	"ExchangeMCP-Chain/pkg/logger"
)

// saveTimeout 限制单次写入历史记录的时长。
const saveTimeout = 5 * time.Second

// HistoryObserver 把每次调用的结果写入仓库。写入失败只记录日志。
type HistoryObserver struct {
	repo   OutcomeRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewHistoryObserver 创建历史记录观察者。
func NewHistoryObserver(repo OutcomeRepository) *HistoryObserver {
	return &HistoryObserver{repo: repo, logger: logger.Named("history"), now: time.Now}
}

// Observe 实现 exchange.Observer。
func (h *HistoryObserver) Observe(ctx context.Context, outcome exchange.Outcome) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	record := RecordFromOutcome(outcome, h.now())
	if err := h.repo.Save(saveCtx, record); err != nil {
		h.logger.Warn("写入历史记录失败",
			slog.String("request_id", outcome.RequestID),
			slog.Any("error", err),
		)
	}
}

// RecordFromOutcome 将结果转换为落库结构。
func RecordFromOutcome(outcome exchange.Outcome, at time.Time) OutcomeRecord {
	record := OutcomeRecord{
		RequestID:  outcome.RequestID,
		Workflow:   string(outcome.Kind),
		Success:    outcome.Success,
		Summary:    outcome.Summary,
		TxHash:     outcome.TxHash,
		ApprovalTx: outcome.ApprovalTx(),
		Stage:      string(outcome.Stage()),
		CreatedAt:  at.Unix(),
	}
	if !outcome.Success {
		record.ErrorCode = string(outcome.Code)
		record.Reason = outcome.Reason
	}
	if outcome.Workflow != nil {
		record.DurationMS = outcome.Workflow.Duration().Milliseconds()
	}
	return record
}
