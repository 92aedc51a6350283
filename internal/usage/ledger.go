// Package usage keeps an audit trail of completed provider calls.
//
// The ledger is write-mostly: the dispatcher appends one Record per call and
// the admin API reads summaries back. Admission and conversation state never
// come from here.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/astrogeminibot/internal/database"
)

// writeRetries 死锁或断连时写入的最大尝试次数
const writeRetries = 3

// Record 一次 Provider 调用的审计记录
type Record struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	UserID           int64     `gorm:"index;not null" json:"user_id"`
	Provider         string    `gorm:"size:32;not null" json:"provider"`
	Model            string    `gorm:"size:128;not null" json:"model"`
	PromptTokens     int       `gorm:"not null;default:0" json:"prompt_tokens"`
	CompletionTokens int       `gorm:"not null;default:0" json:"completion_tokens"`
	TotalTokens      int       `gorm:"not null;default:0" json:"total_tokens"`
	Estimated        bool      `gorm:"not null;default:false" json:"estimated"`
	LatencyMS        int64     `gorm:"not null;default:0" json:"latency_ms"`
	Success          bool      `gorm:"not null" json:"success"`
	ErrorCode        string    `gorm:"size:64;not null;default:''" json:"error_code,omitempty"`
	CreatedAt        time.Time `gorm:"index;not null" json:"created_at"`
}

// TableName 与 SQL 迁移中的表名一致
func (Record) TableName() string { return "usage_records" }

// Summary 单用户用量汇总
type Summary struct {
	UserID           int64      `json:"user_id"`
	Requests         int64      `json:"requests"`
	Failures         int64      `json:"failures"`
	PromptTokens     int64      `json:"prompt_tokens"`
	CompletionTokens int64      `json:"completion_tokens"`
	TotalTokens      int64      `json:"total_tokens"`
	LastRequestAt    *time.Time `json:"last_request_at,omitempty"`
}

// Transactor 提供带重试的事务，由 database.PoolManager 实现
type Transactor interface {
	WithTransactionRetry(ctx context.Context, maxRetries int, fn database.TransactionFunc) error
}

// Option 配置 Ledger
type Option func(*Ledger)

// WithTransactor 写入改为经由连接池事务执行，可重试的错误会自动重试
func WithTransactor(t Transactor) Option {
	return func(l *Ledger) { l.tx = t }
}

// Ledger 基于 GORM 的用量账本
type Ledger struct {
	db     *gorm.DB
	tx     Transactor
	logger *zap.Logger
	now    func() time.Time
}

// NewLedger 创建账本；db 的连接池由 database.PoolManager 管理
func NewLedger(db *gorm.DB, logger *zap.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		db:     db,
		logger: logger.With(zap.String("component", "usage_ledger")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AutoMigrate 建表，用于 SQLite；PostgreSQL/MySQL 走 internal/migration
func (l *Ledger) AutoMigrate(ctx context.Context) error {
	if err := l.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("migrate usage records: %w", err)
	}
	return nil
}

// Record 写入一条记录，ID 与 CreatedAt 为空时自动补齐
func (l *Ledger) Record(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("usage record is nil")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now().UTC()
	}
	create := func(tx *gorm.DB) error { return tx.Create(rec).Error }
	var err error
	if l.tx != nil {
		err = l.tx.WithTransactionRetry(ctx, writeRetries, create)
	} else {
		err = create(l.db.WithContext(ctx))
	}
	if err != nil {
		l.logger.Warn("failed to write usage record",
			zap.Int64("user_id", rec.UserID),
			zap.String("provider", rec.Provider),
			zap.Error(err))
		return fmt.Errorf("write usage record: %w", err)
	}
	return nil
}

// Summary 汇总用户的请求数、失败数与 token 用量
func (l *Ledger) Summary(ctx context.Context, userID int64) (*Summary, error) {
	var row struct {
		Requests         int64
		Failures         int64
		PromptTokens     int64
		CompletionTokens int64
		TotalTokens      int64
	}
	err := l.db.WithContext(ctx).
		Model(&Record{}).
		Select(`COUNT(*) AS requests,
			COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0) AS failures,
			COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens,
			COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
			COALESCE(SUM(total_tokens), 0) AS total_tokens`).
		Where("user_id = ?", userID).
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("summarize usage: %w", err)
	}

	summary := &Summary{
		UserID:           userID,
		Requests:         row.Requests,
		Failures:         row.Failures,
		PromptTokens:     row.PromptTokens,
		CompletionTokens: row.CompletionTokens,
		TotalTokens:      row.TotalTokens,
	}
	if row.Requests == 0 {
		return summary, nil
	}

	var last Record
	err = l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Take(&last).Error
	switch {
	case err == nil:
		t := last.CreatedAt
		summary.LastRequestAt = &t
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("latest usage record: %w", err)
	}
	return summary, nil
}

// Recent 返回最近的 limit 条记录，按时间倒序
func (l *Ledger) Recent(ctx context.Context, userID int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []Record
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list usage records: %w", err)
	}
	return records, nil
}
