package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"degree-ledger/backend/internal/dto"
	"degree-ledger/backend/internal/publisher"
	"degree-ledger/backend/internal/repository"
)

// DegreeRequestService 学位申请与已签发学位的只读查询
type DegreeRequestService interface {
	// List 分页查询申请，status 为空时不过滤
	List(ctx context.Context, status string, page, pageSize int) ([]dto.DegreeRequestResponse, int64, error)
	// Get 按学号查询申请
	Get(ctx context.Context, studentID string) (*dto.DegreeRequestResponse, error)
	// GetIssued 按学号查询已签发学位
	GetIssued(ctx context.Context, studentID string) (*dto.IssuedDegreeResponse, error)
	// GetArtifact 从内容寻址存储取回证书文件，返回内容与建议文件名
	GetArtifact(ctx context.Context, studentID string) ([]byte, string, error)
}

type degreeRequestService struct {
	repo      *repository.Repository
	publisher publisher.Publisher
	baseURL   string
	logger    *zap.Logger
}

// NewDegreeRequestService 创建 DegreeRequestService 实例
func NewDegreeRequestService(repo *repository.Repository, pub publisher.Publisher, baseURL string, logger *zap.Logger) DegreeRequestService {
	return &degreeRequestService{repo: repo, publisher: pub, baseURL: baseURL, logger: logger}
}

func (s *degreeRequestService) List(ctx context.Context, status string, page, pageSize int) ([]dto.DegreeRequestResponse, int64, error) {
	requests, total, err := s.repo.DegreeRequest.List(ctx, status, page, pageSize)
	if err != nil {
		s.logger.Error("查询学位申请列表失败", zap.String("status", status), zap.Error(err))
		return nil, 0, err
	}

	list := make([]dto.DegreeRequestResponse, 0, len(requests))
	for i := range requests {
		list = append(list, *toDegreeRequestResponse(&requests[i]))
	}
	return list, total, nil
}

func (s *degreeRequestService) Get(ctx context.Context, studentID string) (*dto.DegreeRequestResponse, error) {
	req, err := s.repo.DegreeRequest.GetByStudentID(ctx, strings.TrimSpace(studentID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		s.logger.Error("查询学位申请失败", zap.String("student_id", studentID), zap.Error(err))
		return nil, err
	}
	return toDegreeRequestResponse(req), nil
}

func (s *degreeRequestService) GetIssued(ctx context.Context, studentID string) (*dto.IssuedDegreeResponse, error) {
	degree, err := s.repo.IssuedDegree.GetByStudentID(ctx, strings.TrimSpace(studentID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		s.logger.Error("查询已签发学位失败", zap.String("student_id", studentID), zap.Error(err))
		return nil, err
	}
	return toIssuedDegreeResponse(degree, s.baseURL), nil
}

func (s *degreeRequestService) GetArtifact(ctx context.Context, studentID string) ([]byte, string, error) {
	studentID = strings.TrimSpace(studentID)
	degree, err := s.repo.IssuedDegree.GetByStudentID(ctx, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrNotFound
		}
		s.logger.Error("查询已签发学位失败", zap.String("student_id", studentID), zap.Error(err))
		return nil, "", err
	}

	data, err := s.publisher.Resolve(ctx, degree.ContentAddress)
	if err != nil {
		s.logger.Warn("取回证书文件失败",
			zap.String("student_id", studentID),
			zap.String("content_address", degree.ContentAddress),
			zap.Error(err),
		)
		return nil, "", fmt.Errorf("%w: %v", ErrArtifactUnavailable, err)
	}

	return data, fmt.Sprintf("degree_%s.pdf", studentID), nil
}
