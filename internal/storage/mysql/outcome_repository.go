package mysql

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ExchangeMCP-Chain/internal/config"
)

// maxCachedRecords 是文件仓库在内存中保留的最近记录数。
const maxCachedRecords = 512

// OutcomeRecord 表示一次工作流调用的落库结构。
type OutcomeRecord struct {
	ID         int64  `json:"id,omitempty"`
	RequestID  string `json:"request_id"`
	Workflow   string `json:"workflow"`
	Success    bool   `json:"success"`
	ErrorCode  string `json:"error_code,omitempty"`
	Summary    string `json:"summary,omitempty"`
	Reason     string `json:"reason,omitempty"`
	TxHash     string `json:"tx_hash,omitempty"`
	ApprovalTx string `json:"approval_tx,omitempty"`
	Stage      string `json:"stage"`
	DurationMS int64  `json:"duration_ms"`
	CreatedAt  int64  `json:"created_at"`
}

// OutcomeRepository 抽象工作流结果的持久化接口。
type OutcomeRepository interface {
	Save(ctx context.Context, record OutcomeRecord) error
	ListLatest(ctx context.Context, limit int) ([]OutcomeRecord, error)
	Close() error
}

// FileOutcomeRepository 以 JSON Lines 追加写入本地文件，内存中保留最近的记录。
// dataFile 为空时只保存在内存中。
type FileOutcomeRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []OutcomeRecord
}

// NewFileOutcomeRepository 创建文件仓库，并从已有文件恢复历史记录。
func NewFileOutcomeRepository(dataDir string) (*FileOutcomeRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, storageFailure(err, "创建数据目录失败")
	}
	repo := &FileOutcomeRepository{dataFile: filepath.Join(dataDir, "outcomes.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// NewMemoryOutcomeRepository 创建不落盘的仓库。
func NewMemoryOutcomeRepository() *FileOutcomeRepository {
	return &FileOutcomeRepository{}
}

// Save 以追加写的方式记录结果。
func (m *FileOutcomeRepository) Save(_ context.Context, record OutcomeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dataFile != "" {
		if err := m.appendLine(record); err != nil {
			return err
		}
	}

	m.records = append([]OutcomeRecord{record}, m.records...)
	if len(m.records) > maxCachedRecords {
		m.records = m.records[:maxCachedRecords]
	}
	return nil
}

func (m *FileOutcomeRepository) appendLine(record OutcomeRecord) error {
	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return storageFailure(err, "打开结果日志失败")
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return storageFailure(err, "序列化结果记录失败")
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return storageFailure(err, "写入结果日志失败")
	}
	return nil
}

// ListLatest 返回最近的结果记录，按时间倒序排列。
func (m *FileOutcomeRepository) ListLatest(_ context.Context, limit int) ([]OutcomeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]OutcomeRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// Close 实现 OutcomeRepository。
func (m *FileOutcomeRepository) Close() error { return nil }

func (m *FileOutcomeRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return storageFailure(err, "读取结果日志失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []OutcomeRecord
	for scanner.Scan() {
		var record OutcomeRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]OutcomeRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return storageFailure(err, "解析结果日志失败")
	}

	if len(restored) > maxCachedRecords {
		restored = restored[:maxCachedRecords]
	}
	m.records = restored
	return nil
}

// NewOutcomeRepository 依据配置选择存储实现。
func NewOutcomeRepository(ctx context.Context, cfg config.StorageConfig, dataDir string) (OutcomeRepository, error) {
	switch cfg.Driver {
	case "", "file":
		return NewFileOutcomeRepository(dataDir)
	case "memory":
		return NewMemoryOutcomeRepository(), nil
	case "mysql":
		return NewSQLOutcomeRepository(ctx, Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime(),
		})
	default:
		return nil, fmt.Errorf("不支持的历史存储驱动: %s", cfg.Driver)
	}
}
