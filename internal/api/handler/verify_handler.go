package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"degree-ledger/backend/internal/dto"
	"degree-ledger/backend/internal/service"
	"degree-ledger/backend/pkg/response"
)

// VerifyHandler 公开验证 HTTP 处理器（无需认证）
type VerifyHandler struct {
	verifySvc service.VerificationService
}

// NewVerifyHandler 创建 VerifyHandler
func NewVerifyHandler(verifySvc service.VerificationService) *VerifyHandler {
	return &VerifyHandler{verifySvc: verifySvc}
}

// Verify 按学号、内容地址或指纹查询已签发学位
// GET /api/v1/verify?input=xxx&ledger=true
func (h *VerifyHandler) Verify(c *gin.Context) {
	var q dto.VerifyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	summary, err := h.verifySvc.Verify(c.Request.Context(), q.Input, q.Ledger)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			response.BadRequest(c, 15001, "查询标识无效")
		case errors.Is(err, service.ErrNotFound):
			response.NotFound(c, 15004, "未找到对应的已签发学位")
		default:
			response.InternalError(c)
		}
		return
	}

	response.OK(c, summary)
}
