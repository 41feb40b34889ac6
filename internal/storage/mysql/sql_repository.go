package mysql

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"ExchangeMCP-Chain/pkg/logger"
)

const (
	insertOutcomeSQL = `INSERT INTO workflow_outcomes
        (request_id, workflow, success, error_code, summary, reason, tx_hash, approval_tx, stage, duration_ms, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	listOutcomesSQL = `SELECT id, request_id, workflow, success, error_code, summary, reason, tx_hash, approval_tx, stage, duration_ms, created_at
        FROM workflow_outcomes ORDER BY id DESC LIMIT ?`
)

// SQLOutcomeRepository 使用 MySQL 存储工作流结果。
type SQLOutcomeRepository struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLOutcomeRepository 创建连接池并执行内嵌迁移。
func NewSQLOutcomeRepository(ctx context.Context, cfg Config) (*SQLOutcomeRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, storageFailure(err, "初始化 MySQL 历史存储失败")
	}
	repo := newSQLOutcomeRepository(db)
	if err := repo.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func newSQLOutcomeRepository(db *sql.DB) *SQLOutcomeRepository {
	return &SQLOutcomeRepository{db: db, logger: logger.Named("history"), now: time.Now}
}

// Save 将结果写入 workflow_outcomes。
func (s *SQLOutcomeRepository) Save(ctx context.Context, record OutcomeRecord) error {
	if _, err := s.db.ExecContext(ctx, insertOutcomeSQL,
		record.RequestID,
		record.Workflow,
		record.Success,
		record.ErrorCode,
		record.Summary,
		record.Reason,
		record.TxHash,
		record.ApprovalTx,
		record.Stage,
		record.DurationMS,
		record.CreatedAt,
	); err != nil {
		return storageFailure(err, "写入 MySQL 失败")
	}
	return nil
}

// ListLatest 查询最近的若干条结果记录。
func (s *SQLOutcomeRepository) ListLatest(ctx context.Context, limit int) ([]OutcomeRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, listOutcomesSQL, limit)
	if err != nil {
		return nil, storageFailure(err, "查询结果记录失败")
	}
	defer rows.Close()

	var records []OutcomeRecord
	for rows.Next() {
		var record OutcomeRecord
		if err := rows.Scan(
			&record.ID,
			&record.RequestID,
			&record.Workflow,
			&record.Success,
			&record.ErrorCode,
			&record.Summary,
			&record.Reason,
			&record.TxHash,
			&record.ApprovalTx,
			&record.Stage,
			&record.DurationMS,
			&record.CreatedAt,
		); err != nil {
			return nil, storageFailure(err, "解析结果记录失败")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, storageFailure(err, "遍历结果记录失败")
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLOutcomeRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
