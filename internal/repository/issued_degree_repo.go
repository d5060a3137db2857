package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"degree-ledger/backend/internal/model"
)

// IssuedDegreeRepository 已签发学位数据访问接口
// 记录只追加；除一次性通知标记外不提供更新
type IssuedDegreeRepository interface {
	Create(ctx context.Context, degree *model.IssuedDegree) error
	GetByStudentID(ctx context.Context, studentID string) (*model.IssuedDegree, error)
	// GetByIdentifier 双键查询：学号或账本指纹
	GetByIdentifier(ctx context.Context, identifier string) (*model.IssuedDegree, error)
	ListAll(ctx context.Context) ([]model.IssuedDegree, error)
	// ListUndelivered 补发队列：未送达且尝试次数未达上限，最久未尝试的优先
	ListUndelivered(ctx context.Context, limit int) ([]model.IssuedDegree, error)
	// MarkNotified 将通知标记由 false 置为 true；已置位时返回 false
	MarkNotified(ctx context.Context, degreeID string, at time.Time) (bool, error)
	// RecordNotifyFailure 记录一次失败的通知；permanent 时直接移出补发队列
	RecordNotifyFailure(ctx context.Context, degreeID string, at time.Time, reason string, permanent bool) error
}

type issuedDegreeRepo struct {
	db *gorm.DB
}

// NewIssuedDegreeRepo 创建 IssuedDegreeRepository 实例
func NewIssuedDegreeRepo(db *gorm.DB) IssuedDegreeRepository {
	return &issuedDegreeRepo{db: db}
}

func (r *issuedDegreeRepo) Create(ctx context.Context, degree *model.IssuedDegree) error {
	return r.db.WithContext(ctx).Create(degree).Error
}

func (r *issuedDegreeRepo) GetByStudentID(ctx context.Context, studentID string) (*model.IssuedDegree, error) {
	var degree model.IssuedDegree
	err := r.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("issued_at ASC").
		First(&degree).Error
	if err != nil {
		return nil, err
	}
	return &degree, nil
}

func (r *issuedDegreeRepo) GetByIdentifier(ctx context.Context, identifier string) (*model.IssuedDegree, error) {
	var degree model.IssuedDegree
	err := r.db.WithContext(ctx).
		Where("student_id = ? OR fingerprint = ?", identifier, identifier).
		Order("issued_at ASC").
		First(&degree).Error
	if err != nil {
		return nil, err
	}
	return &degree, nil
}

func (r *issuedDegreeRepo) ListAll(ctx context.Context) ([]model.IssuedDegree, error) {
	var degrees []model.IssuedDegree
	err := r.db.WithContext(ctx).
		Omit("payload").
		Order("issued_at ASC").
		Find(&degrees).Error
	return degrees, err
}

func (r *issuedDegreeRepo) ListUndelivered(ctx context.Context, limit int) ([]model.IssuedDegree, error) {
	var degrees []model.IssuedDegree
	err := r.db.WithContext(ctx).
		Omit("payload").
		Where("notification_delivered = ? AND notify_attempts < ?", false, model.MaxNotifyAttempts).
		Order("last_notify_at ASC NULLS FIRST").
		Order("issued_at ASC").
		Limit(limit).
		Find(&degrees).Error
	return degrees, err
}

func (r *issuedDegreeRepo) MarkNotified(ctx context.Context, degreeID string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.IssuedDegree{}).
		Where("degree_id = ? AND notification_delivered = ?", degreeID, false).
		Updates(map[string]interface{}{
			"notification_delivered": true,
			"notified_at":            at,
			"updated_at":             gorm.Expr("NOW()"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *issuedDegreeRepo) RecordNotifyFailure(ctx context.Context, degreeID string, at time.Time, reason string, permanent bool) error {
	attempts := gorm.Expr("notify_attempts + 1")
	if permanent {
		attempts = gorm.Expr("GREATEST(notify_attempts + 1, ?)", model.MaxNotifyAttempts)
	}
	return r.db.WithContext(ctx).
		Model(&model.IssuedDegree{}).
		Where("degree_id = ? AND notification_delivered = ?", degreeID, false).
		Updates(map[string]interface{}{
			"notify_attempts": attempts,
			"last_notify_at":  at,
			"notify_error":    reason,
			"updated_at":      gorm.Expr("NOW()"),
		}).Error
}
