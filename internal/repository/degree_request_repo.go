package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"degree-ledger/backend/internal/model"
	pkgerrors "degree-ledger/backend/pkg/errors"
)

// DegreeRequestRepository 学位申请数据访问接口
type DegreeRequestRepository interface {
	Create(ctx context.Context, req *model.DegreeRequest) error
	GetByStudentID(ctx context.Context, studentID string) (*model.DegreeRequest, error)
	// GetByStudentIDForUpdate 行级锁读取，仅可在事务内使用
	GetByStudentIDForUpdate(ctx context.Context, studentID string) (*model.DegreeRequest, error)
	List(ctx context.Context, status string, page, pageSize int) ([]model.DegreeRequest, int64, error)
	// ListByStatus 按状态列出 updated_at 早于 before 的申请（对账任务使用）
	ListByStatus(ctx context.Context, status string, before time.Time, limit int) ([]model.DegreeRequest, error)
	// CompareAndSwap 仅当 version 与状态均与预期一致时更新，否则返回 ErrOptimisticLock
	CompareAndSwap(ctx context.Context, req *model.DegreeRequest, expectedStatuses ...string) error
}

type degreeRequestRepo struct {
	db *gorm.DB
}

// NewDegreeRequestRepo 创建 DegreeRequestRepository 实例
func NewDegreeRequestRepo(db *gorm.DB) DegreeRequestRepository {
	return &degreeRequestRepo{db: db}
}

func (r *degreeRequestRepo) Create(ctx context.Context, req *model.DegreeRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *degreeRequestRepo) GetByStudentID(ctx context.Context, studentID string) (*model.DegreeRequest, error) {
	var req model.DegreeRequest
	err := r.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *degreeRequestRepo) GetByStudentIDForUpdate(ctx context.Context, studentID string) (*model.DegreeRequest, error) {
	var req model.DegreeRequest
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("student_id = ?", studentID).
		First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *degreeRequestRepo) List(ctx context.Context, status string, page, pageSize int) ([]model.DegreeRequest, int64, error) {
	var (
		reqs  []model.DegreeRequest
		total int64
	)

	query := r.db.WithContext(ctx).Model(&model.DegreeRequest{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("submitted_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&reqs).Error
	return reqs, total, err
}

func (r *degreeRequestRepo) ListByStatus(ctx context.Context, status string, before time.Time, limit int) ([]model.DegreeRequest, error) {
	var reqs []model.DegreeRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&reqs).Error
	return reqs, err
}

func (r *degreeRequestRepo) CompareAndSwap(ctx context.Context, req *model.DegreeRequest, expectedStatuses ...string) error {
	oldVersion := req.Version
	query := r.db.WithContext(ctx).
		Model(&model.DegreeRequest{}).
		Where("request_id = ? AND version = ?", req.RequestID, oldVersion)
	if len(expectedStatuses) > 0 {
		query = query.Where("status IN ?", expectedStatuses)
	}

	result := query.Updates(map[string]interface{}{
		"status":          req.Status,
		"remark":          req.Remark,
		"cgpa":            req.CGPA,
		"content_address": req.ContentAddress,
		"fingerprint":     req.Fingerprint,
		"ledger_tx_ref":   req.LedgerTxRef,
		"dropped_records": req.DroppedRecords,
		"submitted_at":    req.SubmittedAt,
		"decided_at":      req.DecidedAt,
		"decided_by":      req.DecidedBy,
		"updated_by":      req.UpdatedBy,
		"updated_at":      gorm.Expr("NOW()"),
		"version":         oldVersion + 1,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	req.Version = oldVersion + 1
	return nil
}
