package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"degree-ledger/backend/internal/dto"
	"degree-ledger/backend/internal/ledger"
	"degree-ledger/backend/internal/model"
	"degree-ledger/backend/internal/repository"
)

// VerificationService 公开验证服务（无需认证，只读）
//
// identifier 可以是学号或账本指纹；只返回公开摘要，不含成绩明细与载荷。
// withLedger 为 true 时额外读取账本记录做交叉校验，同一主体的并发读取合并为一次。
type VerificationService interface {
	Verify(ctx context.Context, identifier string, withLedger bool) (*dto.PublicSummary, error)
}

type verificationService struct {
	repo    *repository.Repository
	ledger  ledger.Anchor
	baseURL string
	group   singleflight.Group
	logger  *zap.Logger
}

// NewVerificationService 创建 VerificationService 实例
func NewVerificationService(repo *repository.Repository, anchor ledger.Anchor, baseURL string, logger *zap.Logger) VerificationService {
	return &verificationService{repo: repo, ledger: anchor, baseURL: baseURL, logger: logger}
}

func (s *verificationService) Verify(ctx context.Context, identifier string, withLedger bool) (*dto.PublicSummary, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrValidation
	}

	degree, err := s.repo.IssuedDegree.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		s.logger.Error("验证查询失败", zap.String("identifier", identifier), zap.Error(err))
		return nil, err
	}

	var student *model.Student
	if st, err := s.repo.Student.GetByID(ctx, degree.StudentID); err == nil {
		student = st
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error("查询学生信息失败", zap.String("student_id", degree.StudentID), zap.Error(err))
		return nil, err
	}

	summary := toPublicSummary(degree, student, s.baseURL)
	if withLedger && s.ledger != nil {
		summary.Ledger = s.checkLedger(ctx, degree)
	}
	return summary, nil
}

// checkLedger 比对账本记录与本地签发结果；读取失败不影响本地摘要的返回
func (s *verificationService) checkLedger(ctx context.Context, degree *model.IssuedDegree) *dto.LedgerCheck {
	v, err, _ := s.group.Do(degree.SubjectKey, func() (interface{}, error) {
		return s.ledger.ReadFingerprint(ctx, degree.SubjectKey)
	})
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return &dto.LedgerCheck{Consistent: false, Error: "账本中不存在该主体的锚定记录"}
		}
		s.logger.Warn("读取账本记录失败", zap.String("subject_key", degree.SubjectKey), zap.Error(err))
		return &dto.LedgerCheck{Consistent: false, Error: "账本暂不可用"}
	}

	rec := v.(*ledger.Record)
	check := &dto.LedgerCheck{
		Consistent:     rec.Fingerprint == degree.Fingerprint && rec.ContentAddress == degree.ContentAddress,
		Fingerprint:    rec.Fingerprint,
		ContentAddress: rec.ContentAddress,
	}
	if !rec.AnchoredAt.IsZero() {
		check.AnchoredAt = formatTime(rec.AnchoredAt)
	}
	if !check.Consistent {
		s.logger.Warn("账本记录与本地签发结果不一致",
			zap.String("student_id", degree.StudentID),
			zap.String("local_fingerprint", degree.Fingerprint),
			zap.String("ledger_fingerprint", rec.Fingerprint),
		)
	}
	return check
}
