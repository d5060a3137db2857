package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/now"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"degree-ledger/backend/internal/artifact"
	"degree-ledger/backend/internal/dto"
	"degree-ledger/backend/internal/ledger"
	"degree-ledger/backend/internal/model"
	pkgerrors "degree-ledger/backend/pkg/errors"
)

const defaultReconcileBatch = 50

// ────────────────────── 对账 ──────────────────────
//
// 账本是锚定结果的唯一事实来源：
//   - 账本已有该主体的记录 → 按账本记录提交本地状态
//   - 交易已确认 → 提交
//   - 交易失败或无在途交易 → 回到 pending，可重新审批
//   - 交易仍在途 → 保持 anchoring_in_flight

func (s *issuanceService) Reconcile(ctx context.Context, studentID, callerID string) (*dto.DecisionResponse, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, fmt.Errorf("%w: 学号不能为空", ErrValidation)
	}

	release, err := s.locker.Lock(ctx, studentID)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.reconcileLocked(ctx, studentID, callerID)
}

func (s *issuanceService) reconcileLocked(ctx context.Context, studentID, callerID string) (*dto.DecisionResponse, error) {
	req, err := s.loadRequest(ctx, studentID)
	if err != nil {
		return nil, err
	}

	existing, err := s.findIssued(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.settleLatestAttempt(ctx, studentID, existing.ContentAddress)
		return &dto.DecisionResponse{
			Outcome: OutcomeAlreadyIssued,
			Request: toDegreeRequestResponse(req),
			Degree:  toIssuedDegreeResponse(existing, s.baseURL),
		}, nil
	}

	switch req.Status {
	case model.RequestStatusPending, model.RequestStatusAnchoringInFlight:
	default:
		return nil, fmt.Errorf("%w: 当前状态为 %s", ErrInvalidTransition, req.Status)
	}

	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	attempt, err := s.latestUnsettledAttempt(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, req, student, attempt, callerID)
}

// settle 按账本结果收尾 pending / anchoring_in_flight 申请上的遗留副作用
// 返回 OutcomePending 表示账本上没有生效或在途的锚定，可以重新走签发流水线
func (s *issuanceService) settle(ctx context.Context, req *model.DegreeRequest, student *model.Student, attempt *model.IssuanceAttempt, callerID string) (*dto.DecisionResponse, error) {
	log := s.logger.With(zap.String("student_id", student.StudentID))

	subjectKey := ledger.SubjectKey(student.StudentID, student.Program)
	readCtx, cancel := context.WithTimeout(ctx, s.issuance.AnchorTimeout)
	rec, err := s.ledger.ReadFingerprint(readCtx, subjectKey)
	cancel()
	if err == nil {
		log.Info("账本已有锚定记录，按账本提交", zap.String("fingerprint", rec.Fingerprint))
		if attempt != nil && attempt.ContentAddress != "" && attempt.ContentAddress != rec.ContentAddress {
			log.Warn("账本记录的内容地址与最近一次发布不同，以账本为准",
				zap.String("ledger_address", rec.ContentAddress),
				zap.String("published_address", attempt.ContentAddress),
			)
		}
		return s.commitFromLedger(ctx, req, student, rec.ContentAddress, rec.Fingerprint, rec.TxRef, rec.AnchoredAt, callerID)
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		log.Warn("读取账本记录失败", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrAnchorFailed, err)
	}

	txRef, address := req.LedgerTxRef, req.ContentAddress
	if txRef == "" && attempt != nil {
		txRef, address = attempt.LedgerTxRef, attempt.ContentAddress
	}
	if txRef == "" {
		return s.revert(ctx, req, attempt, "账本无锚定记录且无在途交易", callerID)
	}

	receipt, err := s.ledger.Status(ctx, txRef)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		log.Warn("查询账本交易状态失败", zap.String("tx_ref", txRef), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrAnchorFailed, err)
	}

	switch {
	case err == nil && receipt.Status == ledger.TxStatusConfirmed:
		if receipt.ContentAddress != "" {
			address = receipt.ContentAddress
		}
		// 签发时间取自尝试快照，零值时由 snapshotFor 兜底
		return s.commitFromLedger(ctx, req, student, address, receipt.Fingerprint, txRef, time.Time{}, callerID)
	case err == nil && receipt.Status == ledger.TxStatusFailed:
		return s.revert(ctx, req, attempt, "账本交易失败: "+receipt.Error, callerID)
	}

	// 交易仍在途（或网关暂未索引）
	if req.Status == model.RequestStatusPending {
		res := &issuanceResult{address: address, txRef: txRef}
		if attempt != nil {
			res.cgpa = attempt.CGPA
			res.dropped = attempt.DroppedRecords
		}
		return s.markInFlight(ctx, req, res, callerID)
	}
	return &dto.DecisionResponse{Outcome: OutcomeNeedsReconciliation, Request: toDegreeRequestResponse(req)},
		fmt.Errorf("%w: 交易 %s 仍待确认", ErrAnchorTimeout, txRef)
}

// commitFromLedger 按账本结果提交本地状态；anchoredAt 仅在找不到尝试快照时作为签发时间
func (s *issuanceService) commitFromLedger(ctx context.Context, req *model.DegreeRequest, student *model.Student, address, fingerprint, txRef string, anchoredAt time.Time, callerID string) (*dto.DecisionResponse, error) {
	res, attempt, err := s.snapshotFor(ctx, student, address, anchoredAt)
	if err != nil {
		s.logger.Error("取回签发快照失败", zap.String("student_id", student.StudentID), zap.Error(err))
		return &dto.DecisionResponse{Outcome: OutcomeNeedsReconciliation, Request: toDegreeRequestResponse(req)},
			fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	res.fingerprint = fingerprint
	res.txRef = txRef
	return s.finalize(ctx, req, student, res, attempt, callerID)
}

// snapshotFor 取回与内容地址对应的签发快照；尝试日志缺失时重新计算
// 签发时间与证书上的签发日期保持同一天
func (s *issuanceService) snapshotFor(ctx context.Context, student *model.Student, address string, fallback time.Time) (*issuanceResult, *model.IssuanceAttempt, error) {
	res := &issuanceResult{
		subjectKey: ledger.SubjectKey(student.StudentID, student.Program),
		address:    address,
	}

	attempt, err := s.repo.IssuanceAttempt.FindByContentAddress(ctx, student.StudentID, address)
	if err == nil {
		res.cgpa = attempt.CGPA
		res.dropped = attempt.DroppedRecords
		res.payload = attempt.Payload
		res.issuedAt = attemptIssuedAt(attempt, fallback)
		if res.issuedAt.IsZero() {
			res.issuedAt = s.now().UTC()
		}
		return res, attempt, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}

	res.issuedAt = fallback.UTC()
	if fallback.IsZero() {
		res.issuedAt = s.now().UTC()
	}
	breakdown, dropped, err := s.evaluate(ctx, student)
	if err != nil {
		return nil, nil, err
	}
	payload, err := s.buildPayload(student, breakdown, dropped, res.issuedAt).JSON()
	if err != nil {
		return nil, nil, err
	}
	res.cgpa = breakdown.CGPA
	res.dropped = dropped
	res.payload = payload
	return res, nil, nil
}

// attemptIssuedAt 以快照中的签发日期为准：fallback 或尝试创建时间落在当天时保留精确时刻，否则取当天零点
func attemptIssuedAt(attempt *model.IssuanceAttempt, fallback time.Time) time.Time {
	p, err := artifact.ParsePayload(attempt.Payload)
	if err != nil || p.IssuedOn == "" {
		if fallback.IsZero() {
			return attempt.CreatedAt.UTC()
		}
		return fallback.UTC()
	}
	day, err := now.ParseInLocation(time.UTC, p.IssuedOn)
	if err != nil {
		return fallback.UTC()
	}
	end := now.With(day).EndOfDay()
	for _, t := range []time.Time{fallback, attempt.CreatedAt} {
		if t.IsZero() {
			continue
		}
		t = t.UTC()
		if !t.Before(day) && !t.After(end) {
			return t
		}
	}
	return day
}

// revert anchoring_in_flight → pending，清空外部引用
func (s *issuanceService) revert(ctx context.Context, req *model.DegreeRequest, attempt *model.IssuanceAttempt, reason, callerID string) (*dto.DecisionResponse, error) {
	s.updateAttempt(ctx, attempt, model.AttemptStageFailed, reason)

	if req.Status == model.RequestStatusPending {
		return &dto.DecisionResponse{Outcome: OutcomePending, Request: toDegreeRequestResponse(req)}, nil
	}

	next := *req
	next.Status = model.RequestStatusPending
	next.CGPA = nil
	next.ContentAddress = ""
	next.Fingerprint = ""
	next.LedgerTxRef = ""
	next.DroppedRecords = 0
	next.UpdatedBy = &callerID

	if err := s.repo.DegreeRequest.CompareAndSwap(ctx, &next, model.RequestStatusAnchoringInFlight); err != nil {
		if errors.Is(err, pkgerrors.ErrOptimisticLock) {
			return nil, fmt.Errorf("%w: 申请已被并发修改", ErrInvalidTransition)
		}
		s.logger.Error("回退学位申请失败", zap.String("student_id", req.StudentID), zap.Error(err))
		return nil, err
	}

	s.logger.Warn("锚定未生效，申请回到待审核",
		zap.String("student_id", req.StudentID),
		zap.String("reason", reason),
	)
	*req = next
	return &dto.DecisionResponse{Outcome: OutcomePending, Request: toDegreeRequestResponse(req)}, nil
}

// settleLatestAttempt 学位已签发后收尾遗留的未结束尝试
func (s *issuanceService) settleLatestAttempt(ctx context.Context, studentID, issuedAddress string) {
	attempt, err := s.repo.IssuanceAttempt.GetLatestByStudent(ctx, studentID)
	if err != nil || attempt.IsSettled() {
		return
	}
	if attempt.ContentAddress == issuedAddress {
		s.updateAttempt(ctx, attempt, model.AttemptStageCommitted, "")
		return
	}
	s.updateAttempt(ctx, attempt, model.AttemptStageFailed, "已被其他签发结果取代")
}

// ReconcileStale 扫描超时未结束的申请与尝试，逐个对账，并补发通知
func (s *issuanceService) ReconcileStale(ctx context.Context) (*dto.ReconcileReport, error) {
	limit := s.reconcile.BatchSize
	if limit <= 0 {
		limit = defaultReconcileBatch
	}
	cutoff := s.now().Add(-s.reconcile.StaleAfter)

	inFlight, err := s.repo.DegreeRequest.ListByStatus(ctx, model.RequestStatusAnchoringInFlight, cutoff, limit)
	if err != nil {
		s.logger.Error("查询待对账申请失败", zap.Error(err))
		return nil, err
	}
	attempts, err := s.repo.IssuanceAttempt.ListUnsettled(ctx, cutoff, limit)
	if err != nil {
		s.logger.Error("查询未结束签发尝试失败", zap.Error(err))
		return nil, err
	}

	seen := make(map[string]struct{})
	var studentIDs []string
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		studentIDs = append(studentIDs, id)
	}

	for _, r := range inFlight {
		add(r.StudentID)
	}
	for i := range attempts {
		a := &attempts[i]
		switch a.Stage {
		case model.AttemptStageGenerated, model.AttemptStagePublished:
			// 未提交锚定，不存在外部账本副作用
			s.updateAttempt(ctx, a, model.AttemptStageFailed, "流水线中断，未提交锚定")
		default:
			add(a.StudentID)
		}
	}

	report := &dto.ReconcileReport{}
	for _, id := range studentIDs {
		if ctx.Err() != nil {
			break
		}
		report.Scanned++

		resp, err := s.Reconcile(ctx, id, SystemActor)
		switch {
		case err == nil && resp.Outcome == OutcomePending:
			report.Reverted++
		case err == nil:
			report.Committed++
		case NeedsReconciliation(err):
			report.StillInFlight++
		default:
			report.Failed++
			s.logger.Warn("对账失败", zap.String("student_id", id), zap.Error(err))
		}
	}

	report.Notified = s.retryNotifications(ctx, limit)

	s.logger.Info("批量对账完成",
		zap.Int("scanned", report.Scanned),
		zap.Int("committed", report.Committed),
		zap.Int("reverted", report.Reverted),
		zap.Int("still_in_flight", report.StillInFlight),
		zap.Int("failed", report.Failed),
		zap.Int("notified", report.Notified),
	)
	return report, nil
}

// retryNotifications 补发未送达的签发通知
func (s *issuanceService) retryNotifications(ctx context.Context, limit int) int {
	if s.notifier == nil {
		return 0
	}

	degrees, err := s.repo.IssuedDegree.ListUndelivered(ctx, limit)
	if err != nil {
		s.logger.Error("查询未送达通知失败", zap.Error(err))
		return 0
	}
	if len(degrees) == 0 {
		return 0
	}

	ids := make([]string, 0, len(degrees))
	for _, d := range degrees {
		ids = append(ids, d.StudentID)
	}
	students, err := s.repo.Student.ListByIDs(ctx, ids)
	if err != nil {
		s.logger.Error("查询学生信息失败", zap.Error(err))
		return 0
	}
	byID := make(map[string]*model.Student, len(students))
	for i := range students {
		byID[students[i].StudentID] = &students[i]
	}

	delivered := 0
	for i := range degrees {
		student, ok := byID[degrees[i].StudentID]
		if !ok {
			continue
		}
		if s.notify(ctx, student, &degrees[i]) {
			delivered++
		}
	}
	return delivered
}
