package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"degree-ledger/backend/internal/model"
)

// IssuanceAttemptRepository 签发尝试日志数据访问接口
type IssuanceAttemptRepository interface {
	Create(ctx context.Context, attempt *model.IssuanceAttempt) error
	Update(ctx context.Context, attempt *model.IssuanceAttempt) error
	GetLatestByStudent(ctx context.Context, studentID string) (*model.IssuanceAttempt, error)
	// FindByContentAddress 对账时按内容地址找回当次尝试的 CGPA 与载荷快照
	FindByContentAddress(ctx context.Context, studentID, address string) (*model.IssuanceAttempt, error)
	ListUnsettled(ctx context.Context, before time.Time, limit int) ([]model.IssuanceAttempt, error)
}

type issuanceAttemptRepo struct {
	db *gorm.DB
}

// NewIssuanceAttemptRepo 创建 IssuanceAttemptRepository 实例
func NewIssuanceAttemptRepo(db *gorm.DB) IssuanceAttemptRepository {
	return &issuanceAttemptRepo{db: db}
}

func (r *issuanceAttemptRepo) Create(ctx context.Context, attempt *model.IssuanceAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *issuanceAttemptRepo) Update(ctx context.Context, attempt *model.IssuanceAttempt) error {
	return r.db.WithContext(ctx).
		Model(&model.IssuanceAttempt{}).
		Where("attempt_id = ?", attempt.AttemptID).
		Updates(map[string]interface{}{
			"stage":           attempt.Stage,
			"content_address": attempt.ContentAddress,
			"ledger_tx_ref":   attempt.LedgerTxRef,
			"fingerprint":     attempt.Fingerprint,
			"last_error":      attempt.LastError,
			"updated_by":      attempt.UpdatedBy,
			"updated_at":      gorm.Expr("NOW()"),
		}).Error
}

func (r *issuanceAttemptRepo) GetLatestByStudent(ctx context.Context, studentID string) (*model.IssuanceAttempt, error) {
	var attempt model.IssuanceAttempt
	err := r.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("created_at DESC").
		First(&attempt).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *issuanceAttemptRepo) FindByContentAddress(ctx context.Context, studentID, address string) (*model.IssuanceAttempt, error) {
	var attempt model.IssuanceAttempt
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND content_address = ?", studentID, address).
		Order("created_at DESC").
		First(&attempt).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *issuanceAttemptRepo) ListUnsettled(ctx context.Context, before time.Time, limit int) ([]model.IssuanceAttempt, error) {
	var attempts []model.IssuanceAttempt
	err := r.db.WithContext(ctx).
		Where("stage NOT IN ? AND updated_at < ?", []string{model.AttemptStageCommitted, model.AttemptStageFailed}, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&attempts).Error
	return attempts, err
}
