package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"OpenIntent-Chain/internal/workflow"
)

// ErrUnsupportedDriver 表示配置了未知的归档驱动。
var ErrUnsupportedDriver = errors.New("暂不支持的归档驱动")

// ExecutionRecord 表示一条落库的终态执行。步骤明细以 JSON 形式整体存储。
type ExecutionRecord struct {
	ExecutionID string `json:"execution_id"`
	PlanID      string `json:"plan_id"`
	IntentID    string `json:"intent_id"`
	ChainID     uint64 `json:"chain_id"`
	Status      string `json:"status"`
	ErrorCode   string `json:"error_code"`
	Error       string `json:"error"`
	StepCount   int    `json:"step_count"`
	StepsJSON   string `json:"steps_json"`
	CreatedAt   int64  `json:"created_at"`
	StartedAt   int64  `json:"started_at"`
	FinishedAt  int64  `json:"finished_at"`
	DurationMS  int64  `json:"duration_ms"`
	ArchivedAt  int64  `json:"archived_at"`
}

// Repository 抽象执行归档的持久化接口。
type Repository interface {
	Archive(ctx context.Context, execution *workflow.Execution) error
	ListRecent(ctx context.Context, limit int) ([]ExecutionRecord, error)
	Close() error
}

// newRecord 把执行快照压平为归档行。
func newRecord(execution *workflow.Execution) (ExecutionRecord, error) {
	steps, err := json.Marshal(execution.Steps)
	if err != nil {
		return ExecutionRecord{}, fmt.Errorf("序列化步骤明细失败: %w", err)
	}
	return ExecutionRecord{
		ExecutionID: execution.ID,
		PlanID:      execution.PlanID,
		IntentID:    execution.IntentID,
		ChainID:     execution.ChainID,
		Status:      string(execution.Status),
		ErrorCode:   execution.ErrorCode,
		Error:       execution.Error,
		StepCount:   len(execution.Steps),
		StepsJSON:   string(steps),
		CreatedAt:   execution.CreatedAt,
		StartedAt:   execution.StartedAt,
		FinishedAt:  execution.FinishedAt,
		DurationMS:  execution.DurationMS,
		ArchivedAt:  time.Now().UnixMilli(),
	}, nil
}

// FileArchive 把归档记录以 JSON 行追加写入本地文件，
// 供没有数据库的单机部署使用。
type FileArchive struct {
	mu       sync.RWMutex
	dataFile string
	records  []ExecutionRecord
}

const fileArchiveCap = 512

// NewFileArchive 创建文件归档，启动时回放已有记录。
func NewFileArchive(dataDir string) (*FileArchive, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	path := filepath.Join(dataDir, "executions.log")
	archive := &FileArchive{dataFile: path}
	if err := archive.loadFromDisk(); err != nil {
		return nil, err
	}
	return archive, nil
}

// Archive 以追加写的方式记录终态执行。
func (f *FileArchive) Archive(_ context.Context, execution *workflow.Execution) error {
	record, err := newRecord(execution)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开归档文件失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化归档记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入归档文件失败: %w", err)
	}

	f.records = append([]ExecutionRecord{record}, f.records...)
	if len(f.records) > fileArchiveCap {
		f.records = f.records[:fileArchiveCap]
	}
	return nil
}

// ListRecent 返回最近归档的执行，按归档时间倒序排列。
func (f *FileArchive) ListRecent(_ context.Context, limit int) ([]ExecutionRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if limit <= 0 || limit > len(f.records) {
		limit = len(f.records)
	}
	results := make([]ExecutionRecord, limit)
	copy(results, f.records[:limit])
	return results, nil
}

// Close 实现 Repository，文件归档无需释放资源。
func (f *FileArchive) Close() error { return nil }

func (f *FileArchive) loadFromDisk() error {
	file, err := os.OpenFile(f.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取归档文件失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var restored []ExecutionRecord
	for scanner.Scan() {
		var record ExecutionRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]ExecutionRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析归档文件失败: %w", err)
	}

	if len(restored) > fileArchiveCap {
		restored = restored[:fileArchiveCap]
	}
	if len(restored) > 0 {
		f.records = restored
	}
	return nil
}

// SQLArchive 把终态执行写入 MySQL 的 executions 表。
type SQLArchive struct {
	db *sql.DB
}

// NewSQLArchive 建立连接池并应用嵌入的 schema 迁移。
func NewSQLArchive(ctx context.Context, cfg Config) (*SQLArchive, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	archive := &SQLArchive{db: db}
	if err := archive.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return archive, nil
}

// Archive 将执行快照写入 MySQL。重复归档同一执行为幂等覆盖。
func (s *SQLArchive) Archive(ctx context.Context, execution *workflow.Execution) error {
	record, err := newRecord(execution)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO executions
        (execution_id, plan_id, intent_id, chain_id, status, error_code, error,
         step_count, steps_json, created_at, started_at, finished_at, duration_ms, archived_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
         status = VALUES(status), error_code = VALUES(error_code), error = VALUES(error),
         step_count = VALUES(step_count), steps_json = VALUES(steps_json),
         finished_at = VALUES(finished_at), duration_ms = VALUES(duration_ms),
         archived_at = VALUES(archived_at)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.ExecutionID,
		record.PlanID,
		record.IntentID,
		record.ChainID,
		record.Status,
		record.ErrorCode,
		record.Error,
		record.StepCount,
		record.StepsJSON,
		record.CreatedAt,
		record.StartedAt,
		record.FinishedAt,
		record.DurationMS,
		record.ArchivedAt,
	); err != nil {
		return fmt.Errorf("写入执行归档失败: %w", err)
	}
	return nil
}

// ListRecent 查询最近归档的执行记录。
func (s *SQLArchive) ListRecent(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT execution_id, plan_id, intent_id, chain_id, status,
        error_code, error, step_count, steps_json, created_at, started_at, finished_at, duration_ms, archived_at
        FROM executions ORDER BY archived_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询执行归档失败: %w", err)
	}
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		var record ExecutionRecord
		if err := rows.Scan(
			&record.ExecutionID,
			&record.PlanID,
			&record.IntentID,
			&record.ChainID,
			&record.Status,
			&record.ErrorCode,
			&record.Error,
			&record.StepCount,
			&record.StepsJSON,
			&record.CreatedAt,
			&record.StartedAt,
			&record.FinishedAt,
			&record.DurationMS,
			&record.ArchivedAt,
		); err != nil {
			return nil, fmt.Errorf("解析执行归档失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历执行归档失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLArchive) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ Repository        = (*FileArchive)(nil)
	_ Repository        = (*SQLArchive)(nil)
	_ workflow.Archiver = (*FileArchive)(nil)
	_ workflow.Archiver = (*SQLArchive)(nil)
)
