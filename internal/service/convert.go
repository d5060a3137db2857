package service

import (
	"net/url"
	"strings"
	"time"

	"degree-ledger/backend/internal/dto"
	"degree-ledger/backend/internal/model"
)

// VerifyURL 证书上的公开验证链接
func VerifyURL(baseURL, studentID string) string {
	return strings.TrimRight(baseURL, "/") + "/api/v1/verify?input=" + url.QueryEscape(studentID)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toDegreeRequestResponse(req *model.DegreeRequest) *dto.DegreeRequestResponse {
	if req == nil {
		return nil
	}
	resp := &dto.DegreeRequestResponse{
		ID:             req.RequestID,
		StudentID:      req.StudentID,
		Status:         req.Status,
		Remark:         req.Remark,
		CGPA:           req.CGPA,
		ContentAddress: req.ContentAddress,
		Fingerprint:    req.Fingerprint,
		LedgerTxRef:    req.LedgerTxRef,
		DroppedRecords: req.DroppedRecords,
		SubmittedAt:    formatTime(req.SubmittedAt),
		Version:        req.Version,
	}
	if req.DecidedAt != nil {
		resp.DecidedAt = formatTime(*req.DecidedAt)
	}
	return resp
}

func toIssuedDegreeResponse(d *model.IssuedDegree, baseURL string) *dto.IssuedDegreeResponse {
	if d == nil {
		return nil
	}
	return &dto.IssuedDegreeResponse{
		ID:                    d.DegreeID,
		StudentID:             d.StudentID,
		Degree:                d.Degree,
		CGPA:                  d.CGPA,
		ContentAddress:        d.ContentAddress,
		Fingerprint:           d.Fingerprint,
		SubjectKey:            d.SubjectKey,
		LedgerTxRef:           d.LedgerTxRef,
		IssuedAt:              formatTime(d.IssuedAt),
		NotificationDelivered: d.NotificationDelivered,
		VerifyURL:             VerifyURL(baseURL, d.StudentID),
	}
}

// toPublicSummary 仅暴露公开字段，不含载荷与成绩明细
func toPublicSummary(d *model.IssuedDegree, student *model.Student, baseURL string) *dto.PublicSummary {
	summary := &dto.PublicSummary{
		StudentID:      d.StudentID,
		Degree:         d.Degree,
		CGPA:           d.CGPA,
		IssuedAt:       formatTime(d.IssuedAt),
		ContentAddress: d.ContentAddress,
		Fingerprint:    d.Fingerprint,
		VerifyURL:      VerifyURL(baseURL, d.StudentID),
	}
	if student != nil {
		summary.Name = student.Name
		summary.Batch = student.Batch
	}
	return summary
}
