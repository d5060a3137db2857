package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/now"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"degree-ledger/backend/config"
	"degree-ledger/backend/internal/artifact"
	"degree-ledger/backend/internal/dto"
	"degree-ledger/backend/internal/ledger"
	"degree-ledger/backend/internal/model"
	"degree-ledger/backend/internal/publisher"
	"degree-ledger/backend/internal/repository"
	"degree-ledger/backend/internal/score"
	pkgerrors "degree-ledger/backend/pkg/errors"
	"degree-ledger/backend/pkg/mail"
)

// 审核决定
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// 审核 / 对账结果
const (
	OutcomeRejected            = "rejected"
	OutcomeIssued              = "issued"
	OutcomeAlreadyIssued       = "already_issued"
	OutcomeNeedsReconciliation = "needs_reconciliation"
	OutcomePending             = "pending" // 对账后回到待审核，可重新审批
)

// SystemActor 后台对账任务的操作人标识
const SystemActor = "system:reconciler"

// IssuanceService 学位签发编排器
//
// DegreeRequest 状态与 IssuedDegree 的唯一写入方。
// 状态机：
//   - pending → issued（审批与签发合并为一次转换）
//   - pending → rejected（必须填写备注）
//   - rejected → pending（学生重新提交，复用同一行）
//   - pending → anchoring_in_flight（账本确认超时）；之后只能经对账转为 issued 或 pending
//
// 同一学生的流水线由学生级锁串行化，最终提交再由 version + status 的 CAS 把关。
type IssuanceService interface {
	// Submit 学生提交（或驳回后重新提交）学位申请
	Submit(ctx context.Context, studentID, callerID string) (*dto.DegreeRequestResponse, error)
	// Decide 审核；approved 时执行完整签发流水线
	Decide(ctx context.Context, studentID string, req *dto.DecisionRequest, callerID string) (*dto.DecisionResponse, error)
	// Reconcile 以账本为准恢复本地状态（锚定超时或提交失败后）
	Reconcile(ctx context.Context, studentID, callerID string) (*dto.DecisionResponse, error)
	// ReconcileStale 批量对账并补发未送达的通知（定时任务调用）
	ReconcileStale(ctx context.Context) (*dto.ReconcileReport, error)
}

// IssuanceDeps 编排器依赖的外部协作方
type IssuanceDeps struct {
	Generator artifact.Generator
	Publisher publisher.Publisher
	Ledger    ledger.Anchor
	Locker    Locker
	Notifier  Notifier // 可为空，为空时不发送通知
	Now       func() time.Time
}

type issuanceService struct {
	repo      *repository.Repository
	generator artifact.Generator
	publisher publisher.Publisher
	ledger    ledger.Anchor
	locker    Locker
	notifier  Notifier
	now       func() time.Time
	issuance  config.IssuanceConfig
	reconcile config.ReconcileConfig
	baseURL   string
	logger    *zap.Logger
}

// NewIssuanceService 创建 IssuanceService 实例
func NewIssuanceService(cfg *config.Config, repo *repository.Repository, deps IssuanceDeps, logger *zap.Logger) IssuanceService {
	clock := deps.Now
	if clock == nil {
		clock = time.Now
	}
	locker := deps.Locker
	if locker == nil {
		locker = NewLocalLocker(cfg.Issuance.LockWait)
	}
	return &issuanceService{
		repo:      repo,
		generator: deps.Generator,
		publisher: deps.Publisher,
		ledger:    deps.Ledger,
		locker:    locker,
		notifier:  deps.Notifier,
		now:       clock,
		issuance:  cfg.Issuance,
		reconcile: cfg.Reconcile,
		baseURL:   cfg.Server.BaseURL,
		logger:    logger,
	}
}

// issuanceResult 外部副作用完成后、本地提交前的全部结果
type issuanceResult struct {
	subjectKey  string
	address     string
	fingerprint string
	txRef       string
	cgpa        float64
	dropped     int
	payload     []byte
	issuedAt    time.Time
}

// ────────────────────── Submit ──────────────────────

func (s *issuanceService) Submit(ctx context.Context, studentID, callerID string) (*dto.DegreeRequestResponse, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, fmt.Errorf("%w: 学号不能为空", ErrValidation)
	}

	release, err := s.locker.Lock(ctx, studentID)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := s.loadStudent(ctx, studentID); err != nil {
		return nil, err
	}

	existing, err := s.repo.DegreeRequest.GetByStudentID(ctx, studentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		req := &model.DegreeRequest{
			StudentID:   studentID,
			Status:      model.RequestStatusPending,
			SubmittedAt: s.now(),
		}
		req.Version = 1
		req.CreatedBy = &callerID
		req.UpdatedBy = &callerID

		if err := s.repo.DegreeRequest.Create(ctx, req); err != nil {
			if pkgerrors.IsUniqueViolation(err) {
				return nil, ErrAlreadyPending
			}
			s.logger.Error("创建学位申请失败", zap.String("student_id", studentID), zap.Error(err))
			return nil, err
		}

		s.logger.Info("学位申请已提交", zap.String("student_id", studentID), zap.String("request_id", req.RequestID))
		return toDegreeRequestResponse(req), nil
	}
	if err != nil {
		s.logger.Error("查询学位申请失败", zap.String("student_id", studentID), zap.Error(err))
		return nil, err
	}

	switch existing.Status {
	case model.RequestStatusPending, model.RequestStatusAnchoringInFlight:
		return nil, ErrAlreadyPending
	case model.RequestStatusIssued:
		return nil, ErrAlreadyIssued
	}

	// rejected → pending：复用同一行并清空备注
	next := *existing
	next.Status = model.RequestStatusPending
	next.Remark = ""
	next.CGPA = nil
	next.ContentAddress = ""
	next.Fingerprint = ""
	next.LedgerTxRef = ""
	next.DroppedRecords = 0
	next.SubmittedAt = s.now()
	next.DecidedAt = nil
	next.DecidedBy = nil
	next.UpdatedBy = &callerID

	if err := s.repo.DegreeRequest.CompareAndSwap(ctx, &next, model.RequestStatusRejected); err != nil {
		if errors.Is(err, pkgerrors.ErrOptimisticLock) {
			return nil, ErrAlreadyPending
		}
		s.logger.Error("重新提交学位申请失败", zap.String("student_id", studentID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("学位申请已重新提交", zap.String("student_id", studentID))
	return toDegreeRequestResponse(&next), nil
}

// ────────────────────── Decide ──────────────────────

func (s *issuanceService) Decide(ctx context.Context, studentID string, in *dto.DecisionRequest, callerID string) (*dto.DecisionResponse, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" || in == nil {
		return nil, fmt.Errorf("%w: 学号与审核决定不能为空", ErrValidation)
	}

	remark := strings.TrimSpace(in.Remark)
	switch in.Decision {
	case DecisionApproved:
	case DecisionRejected:
		if remark == "" {
			return nil, fmt.Errorf("%w: 驳回必须填写备注", ErrValidation)
		}
	default:
		return nil, fmt.Errorf("%w: 未知的审核决定 %q", ErrValidation, in.Decision)
	}

	release, err := s.locker.Lock(ctx, studentID)
	if err != nil {
		return nil, err
	}
	defer release()

	if in.Decision == DecisionRejected {
		return s.reject(ctx, studentID, remark, callerID)
	}
	return s.approve(ctx, studentID, callerID)
}

// reject 驳回不读取任何成绩数据
// 上一次审批已提交锚定但本地未提交时拒绝驳回，须先对账
func (s *issuanceService) reject(ctx context.Context, studentID, remark, callerID string) (*dto.DecisionResponse, error) {
	req, err := s.loadRequest(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if req.Status != model.RequestStatusPending {
		return nil, fmt.Errorf("%w: 当前状态为 %s", ErrInvalidTransition, req.Status)
	}
	attempt, err := s.latestUnsettledAttempt(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if attempt != nil && attempt.HasLedgerEffect() {
		return nil, fmt.Errorf("%w: 签发尝试 %s 已提交锚定，须先对账", ErrInvalidTransition, attempt.AttemptID)
	}

	decidedAt := s.now()
	next := *req
	next.Status = model.RequestStatusRejected
	next.Remark = remark
	next.CGPA = nil
	next.ContentAddress = ""
	next.Fingerprint = ""
	next.LedgerTxRef = ""
	next.DroppedRecords = 0
	next.DecidedAt = &decidedAt
	next.DecidedBy = &callerID
	next.UpdatedBy = &callerID

	if err := s.repo.DegreeRequest.CompareAndSwap(ctx, &next, model.RequestStatusPending); err != nil {
		if errors.Is(err, pkgerrors.ErrOptimisticLock) {
			return nil, fmt.Errorf("%w: 申请已被并发修改", ErrInvalidTransition)
		}
		s.logger.Error("驳回学位申请失败", zap.String("student_id", studentID), zap.Error(err))
		return nil, err
	}
	// 未锚定的遗留尝试随驳回结束
	s.updateAttempt(ctx, attempt, model.AttemptStageFailed, "申请已驳回")

	s.logger.Info("学位申请已驳回", zap.String("student_id", studentID), zap.String("by", callerID))
	return &dto.DecisionResponse{Outcome: OutcomeRejected, Request: toDegreeRequestResponse(&next)}, nil
}

// approve 审批并签发：恢复遗留 → 成绩 → 证书 → 发布 → 锚定 → 提交
func (s *issuanceService) approve(ctx context.Context, studentID, callerID string) (*dto.DecisionResponse, error) {
	log := s.logger.With(zap.String("student_id", studentID))

	// 已签发时原样返回，不重新生成
	existing, err := s.findIssued(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		req, err := s.loadRequest(ctx, studentID)
		if err != nil {
			return nil, err
		}
		return &dto.DecisionResponse{
			Outcome: OutcomeAlreadyIssued,
			Request: toDegreeRequestResponse(req),
			Degree:  toIssuedDegreeResponse(existing, s.baseURL),
		}, nil
	}

	req, err := s.loadRequest(ctx, studentID)
	if err != nil {
		return nil, err
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

	// 0. 上一次流水线可能已锚定或仍在途：先以账本为准收尾，不重复生成与发布
	prior, err := s.latestUnsettledAttempt(ctx, studentID)
	if err != nil {
		return nil, err
	}
	resp, err := s.settle(ctx, req, student, prior, callerID)
	if err != nil || resp.Outcome != OutcomePending {
		return resp, err
	}

	// 1-3. 成绩汇总
	breakdown, dropped, err := s.evaluate(ctx, student)
	if err != nil {
		return nil, err
	}

	// 4. 构建载荷并生成证书
	issuedAt := s.now().UTC()
	payload := s.buildPayload(student, breakdown, dropped, issuedAt)
	if err := payload.Validate(); err != nil {
		log.Error("证书载荷校验失败", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrArtifactGenerationFailed, err)
	}
	payloadJSON, err := payload.JSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactGenerationFailed, err)
	}

	genCtx, cancel := context.WithTimeout(ctx, s.issuance.ArtifactTimeout)
	data, err := s.generator.Generate(genCtx, payload)
	cancel()
	if err != nil {
		log.Warn("证书生成失败", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrArtifactGenerationFailed, err)
	}

	// 5. 发布到内容寻址存储
	pubCtx, cancel := context.WithTimeout(ctx, s.issuance.PublishTimeout)
	address, err := s.publisher.Publish(pubCtx, data)
	cancel()
	if err != nil {
		log.Warn("证书发布失败", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	res := &issuanceResult{
		subjectKey: ledger.SubjectKey(studentID, student.Program),
		address:    address,
		cgpa:       breakdown.CGPA,
		dropped:    dropped,
		payload:    payloadJSON,
		issuedAt:   issuedAt,
	}

	// 尝试日志是锚定后恢复的依据，写入失败时不得继续锚定
	attempt, err := s.recordAttempt(ctx, student, res, callerID)
	if err != nil {
		return nil, fmt.Errorf("%w: 签发尝试日志写入失败: %v", ErrPublishFailed, err)
	}

	// 6. 锚定（账本已在步骤 0 确认无该主体记录）
	anchorCtx, cancel := context.WithTimeout(ctx, s.issuance.AnchorTimeout)
	defer cancel()

	if timedOut, err := s.anchor(ctx, anchorCtx, res, attempt); err != nil {
		if timedOut {
			return s.markInFlight(ctx, req, res, callerID)
		}
		s.updateAttempt(ctx, attempt, model.AttemptStageFailed, err.Error())
		log.Warn("账本锚定失败", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrAnchorFailed, err)
	}
	attempt.Fingerprint = res.fingerprint
	s.updateAttempt(ctx, attempt, model.AttemptStageAnchored, "")

	// 7. 本地提交
	return s.finalize(ctx, req, student, res, attempt, callerID)
}

// anchor 提交锚定并轮询确认；返回值 timedOut 表示本地等待超时（交易可能已上链）
func (s *issuanceService) anchor(ctx, anchorCtx context.Context, res *issuanceResult, attempt *model.IssuanceAttempt) (bool, error) {
	txRef, err := s.ledger.Anchor(anchorCtx, res.subjectKey, res.address)
	if err != nil {
		// 提交请求本身超时，无法确定交易是否已广播
		return isLocalTimeout(ctx, anchorCtx), err
	}
	res.txRef = txRef
	attempt.LedgerTxRef = txRef
	s.updateAttempt(ctx, attempt, model.AttemptStageAnchorSubmitted, "")

	receipt, err := ledger.WaitConfirmed(anchorCtx, s.ledger, txRef, s.issuance.AnchorPollInterval)
	if err != nil {
		return isLocalTimeout(ctx, anchorCtx), err
	}
	res.fingerprint = receipt.Fingerprint
	return false, nil
}

// isLocalTimeout 锚定等待超时而非调用方取消
func isLocalTimeout(parent, anchorCtx context.Context) bool {
	return parent.Err() == nil && errors.Is(anchorCtx.Err(), context.DeadlineExceeded)
}

// markInFlight 锚定已提交但本地未完成：记录外部引用，转为 anchoring_in_flight 等待对账
func (s *issuanceService) markInFlight(ctx context.Context, req *model.DegreeRequest, res *issuanceResult, callerID string) (*dto.DecisionResponse, error) {
	if err := s.park(ctx, req, res, callerID); err != nil {
		// 签发尝试日志仍保留交易引用，定时对账可据此恢复
		s.logger.Error("标记锚定在途失败", zap.String("student_id", req.StudentID), zap.Error(err))
		return &dto.DecisionResponse{Outcome: OutcomeNeedsReconciliation, Request: toDegreeRequestResponse(req)},
			fmt.Errorf("%w: %v", ErrAnchorTimeout, err)
	}

	s.logger.Warn("账本确认超时，申请转为待对账",
		zap.String("student_id", req.StudentID),
		zap.String("tx_ref", res.txRef),
		zap.String("content_address", res.address),
	)
	return &dto.DecisionResponse{Outcome: OutcomeNeedsReconciliation, Request: toDegreeRequestResponse(req)}, ErrAnchorTimeout
}

// park pending → anchoring_in_flight；已在途时不变
func (s *issuanceService) park(ctx context.Context, req *model.DegreeRequest, res *issuanceResult, callerID string) error {
	if req.Status == model.RequestStatusAnchoringInFlight {
		return nil
	}

	next := *req
	cgpa := res.cgpa
	next.Status = model.RequestStatusAnchoringInFlight
	next.CGPA = &cgpa
	next.ContentAddress = res.address
	next.Fingerprint = res.fingerprint
	next.LedgerTxRef = res.txRef
	next.DroppedRecords = res.dropped
	next.UpdatedBy = &callerID

	if err := s.repo.DegreeRequest.CompareAndSwap(ctx, &next, model.RequestStatusPending); err != nil {
		return err
	}
	*req = next
	return nil
}

// finalize 单事务写入 IssuedDegree 并将申请置为 issued，随后尽力发送通知
func (s *issuanceService) finalize(ctx context.Context, req *model.DegreeRequest, student *model.Student, res *issuanceResult, attempt *model.IssuanceAttempt, callerID string) (*dto.DecisionResponse, error) {
	decidedAt := s.now()
	cgpa := res.cgpa

	next := *req
	next.Status = model.RequestStatusIssued
	next.Remark = ""
	next.CGPA = &cgpa
	next.ContentAddress = res.address
	next.Fingerprint = res.fingerprint
	next.LedgerTxRef = res.txRef
	next.DroppedRecords = res.dropped
	next.DecidedAt = &decidedAt
	next.DecidedBy = &callerID
	next.UpdatedBy = &callerID

	degree := &model.IssuedDegree{
		StudentID:      student.StudentID,
		Degree:         student.Program,
		CGPA:           res.cgpa,
		ContentAddress: res.address,
		Fingerprint:    res.fingerprint,
		SubjectKey:     res.subjectKey,
		LedgerTxRef:    res.txRef,
		SchemaVersion:  artifact.SchemaVersion,
		Payload:        datatypes.JSON(res.payload),
		IssuedAt:       res.issuedAt,
	}
	degree.CreatedBy = &callerID

	if err := s.commit(ctx, &next, degree); err != nil {
		if attempt != nil {
			s.updateAttempt(ctx, attempt, attempt.Stage, err.Error())
		}
		s.logger.Error("本地提交失败，外部记录已存在，需对账",
			zap.String("student_id", student.StudentID),
			zap.String("fingerprint", res.fingerprint),
			zap.Error(err),
		)
		// 事务外转为 anchoring_in_flight：阻止驳回，并进入定时对账的扫描范围
		if perr := s.park(ctx, req, res, callerID); perr != nil {
			s.logger.Error("标记待对账失败，依赖签发尝试日志恢复",
				zap.String("student_id", student.StudentID),
				zap.Error(perr),
			)
		}
		return &dto.DecisionResponse{Outcome: OutcomeNeedsReconciliation, Request: toDegreeRequestResponse(req)},
			fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	*req = next
	s.updateAttempt(ctx, attempt, model.AttemptStageCommitted, "")

	s.logger.Info("学位已签发",
		zap.String("student_id", student.StudentID),
		zap.String("degree", degree.Degree),
		zap.Float64("cgpa", degree.CGPA),
		zap.String("content_address", degree.ContentAddress),
		zap.String("fingerprint", degree.Fingerprint),
	)

	s.notify(ctx, student, degree)

	return &dto.DecisionResponse{
		Outcome: OutcomeIssued,
		Request: toDegreeRequestResponse(req),
		Degree:  toIssuedDegreeResponse(degree, s.baseURL),
	}, nil
}

// commit IssuedDegree 与申请状态在同一事务内提交
// 事务内先以 FOR UPDATE 重新读取申请，版本不一致即放弃
func (s *issuanceService) commit(ctx context.Context, next *model.DegreeRequest, degree *model.IssuedDegree) error {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			if tx != nil {
				tx.Rollback()
			}
			panic(r)
		}
	}()
	rollback := func() {
		if tx != nil {
			tx.Rollback()
		}
	}

	txRepo := s.repo.WithTx(tx)

	current, err := txRepo.DegreeRequest.GetByStudentIDForUpdate(ctx, next.StudentID)
	if err != nil {
		rollback()
		return err
	}
	if current.Version != next.Version {
		rollback()
		return pkgerrors.ErrOptimisticLock
	}

	if err := txRepo.IssuedDegree.Create(ctx, degree); err != nil {
		rollback()
		return err
	}

	if err := txRepo.DegreeRequest.CompareAndSwap(ctx, next,
		model.RequestStatusPending, model.RequestStatusAnchoringInFlight); err != nil {
		rollback()
		return err
	}

	if tx != nil {
		if err := tx.Commit().Error; err != nil {
			return err
		}
	}
	return nil
}

// ── 内部辅助 ──

func (s *issuanceService) loadStudent(ctx context.Context, studentID string) (*model.Student, error) {
	student, err := s.repo.Student.GetByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: 学生 %s", ErrNotFound, studentID)
		}
		s.logger.Error("查询学生失败", zap.String("student_id", studentID), zap.Error(err))
		return nil, err
	}
	return student, nil
}

func (s *issuanceService) loadRequest(ctx context.Context, studentID string) (*model.DegreeRequest, error) {
	req, err := s.repo.DegreeRequest.GetByStudentID(ctx, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: 学生 %s 无学位申请", ErrNotFound, studentID)
		}
		s.logger.Error("查询学位申请失败", zap.String("student_id", studentID), zap.Error(err))
		return nil, err
	}
	return req, nil
}

// findIssued 不存在时返回 (nil, nil)
func (s *issuanceService) findIssued(ctx context.Context, studentID string) (*model.IssuedDegree, error) {
	degree, err := s.repo.IssuedDegree.GetByStudentID(ctx, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		s.logger.Error("查询已签发学位失败", zap.String("student_id", studentID), zap.Error(err))
		return nil, err
	}
	return degree, nil
}

// evaluate 读取成绩、匹配课程定义并计算；孤立成绩不计入分子分母
func (s *issuanceService) evaluate(ctx context.Context, student *model.Student) (score.Breakdown, int, error) {
	grades, err := s.repo.Grade.ListByStudent(ctx, student.StudentID)
	if err != nil {
		s.logger.Error("查询成绩失败", zap.String("student_id", student.StudentID), zap.Error(err))
		return score.Breakdown{}, 0, err
	}
	if len(grades) == 0 {
		return score.Breakdown{}, 0, ErrIncompleteRecord
	}

	courses, err := s.repo.Course.ListByProgram(ctx, student.Program)
	if err != nil {
		s.logger.Error("查询课程定义失败", zap.String("program", student.Program), zap.Error(err))
		return score.Breakdown{}, 0, err
	}

	entries, dropped := resolveEntries(grades, courses)
	if dropped > 0 {
		s.logger.Warn("存在无课程定义的孤立成绩，已排除",
			zap.String("student_id", student.StudentID),
			zap.Int("dropped", dropped),
		)
	}
	if len(entries) == 0 {
		return score.Breakdown{}, dropped, fmt.Errorf("%w: 全部 %d 条成绩均无匹配的课程定义", ErrIncompleteRecord, dropped)
	}

	return score.Evaluate(entries), dropped, nil
}

func courseKey(semester int, name string) string {
	return fmt.Sprintf("%d|%s", semester, strings.TrimSpace(name))
}

// resolveEntries 按 (学期, 课程名) 匹配课程定义，返回可计入的成绩与被丢弃数
func resolveEntries(grades []model.GradeRecord, courses []model.CourseDefinition) ([]score.Entry, int) {
	index := make(map[string]*model.CourseDefinition, len(courses))
	for i := range courses {
		index[courseKey(courses[i].Semester, courses[i].CourseName)] = &courses[i]
	}

	entries := make([]score.Entry, 0, len(grades))
	dropped := 0
	for _, g := range grades {
		def, ok := index[courseKey(g.Semester, g.CourseName)]
		if !ok {
			dropped++
			continue
		}
		entries = append(entries, score.Entry{
			Semester:    g.Semester,
			CourseName:  def.CourseName,
			CourseCode:  def.CourseCode,
			Obtained:    g.ObtainedMarks,
			MaxMarks:    def.MaxMarks,
			CreditHours: def.CreditHours,
		})
	}
	return entries, dropped
}

func (s *issuanceService) buildPayload(student *model.Student, b score.Breakdown, dropped int, issuedAt time.Time) *artifact.Payload {
	return &artifact.Payload{
		SchemaVersion: artifact.SchemaVersion,
		Institution:   s.issuance.InstitutionName,
		Signatory:     s.issuance.Signatory,
		Student: artifact.StudentSnapshot{
			StudentID: student.StudentID,
			Name:      student.Name,
			Email:     student.Email,
			Program:   student.Program,
			Batch:     student.Batch,
		},
		Degree:           student.Program,
		Semesters:        b.Semesters,
		TotalCreditHours: b.TotalCreditHours,
		CGPA:             b.CGPA,
		DroppedRecords:   dropped,
		IssuedOn:         now.With(issuedAt).BeginningOfDay().Format("2006-01-02"),
		VerifyURL:        VerifyURL(s.baseURL, student.StudentID),
	}
}

// recordAttempt 写入签发尝试日志（阶段 published）
func (s *issuanceService) recordAttempt(ctx context.Context, student *model.Student, res *issuanceResult, callerID string) (*model.IssuanceAttempt, error) {
	attempt := &model.IssuanceAttempt{
		StudentID:      student.StudentID,
		Degree:         student.Program,
		SubjectKey:     res.subjectKey,
		Stage:          model.AttemptStagePublished,
		CGPA:           res.cgpa,
		DroppedRecords: res.dropped,
		ContentAddress: res.address,
		Payload:        datatypes.JSON(res.payload),
	}
	attempt.CreatedBy = &callerID
	attempt.UpdatedBy = &callerID

	if err := s.repo.IssuanceAttempt.Create(ctx, attempt); err != nil {
		s.logger.Error("写入签发尝试日志失败", zap.String("student_id", student.StudentID), zap.Error(err))
		return nil, err
	}
	return attempt, nil
}

// latestUnsettledAttempt 最近一次未结束的签发尝试；不存在时返回 (nil, nil)
func (s *issuanceService) latestUnsettledAttempt(ctx context.Context, studentID string) (*model.IssuanceAttempt, error) {
	attempt, err := s.repo.IssuanceAttempt.GetLatestByStudent(ctx, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		s.logger.Error("查询签发尝试日志失败", zap.String("student_id", studentID), zap.Error(err))
		return nil, err
	}
	if attempt.IsSettled() {
		return nil, nil
	}
	return attempt, nil
}

func (s *issuanceService) updateAttempt(ctx context.Context, attempt *model.IssuanceAttempt, stage, lastError string) {
	if attempt == nil || attempt.AttemptID == "" {
		return
	}
	attempt.Stage = stage
	attempt.LastError = lastError
	if err := s.repo.IssuanceAttempt.Update(ctx, attempt); err != nil {
		s.logger.Error("更新签发尝试日志失败",
			zap.String("attempt_id", attempt.AttemptID),
			zap.String("stage", stage),
			zap.Error(err),
		)
	}
}

// notify 尽力通知，成功后一次性置位 notification_delivered；失败计入补发记录
func (s *issuanceService) notify(ctx context.Context, student *model.Student, degree *model.IssuedDegree) bool {
	if s.notifier == nil || degree.NotificationDelivered {
		return false
	}

	at := s.now()
	err := mail.ErrNoRecipient
	if strings.TrimSpace(student.Email) != "" {
		err = s.notifier.NotifyIssued(ctx, student, degree, VerifyURL(s.baseURL, student.StudentID))
	}
	if err != nil {
		permanent := errors.Is(err, mail.ErrNoRecipient)
		s.logger.Warn("发送签发通知失败",
			zap.String("student_id", student.StudentID),
			zap.Bool("permanent", permanent),
			zap.Error(err),
		)
		if rerr := s.repo.IssuedDegree.RecordNotifyFailure(ctx, degree.DegreeID, at, err.Error(), permanent); rerr != nil {
			s.logger.Error("记录通知失败次数出错", zap.String("degree_id", degree.DegreeID), zap.Error(rerr))
		}
		return false
	}

	marked, err := s.repo.IssuedDegree.MarkNotified(ctx, degree.DegreeID, at)
	if err != nil {
		s.logger.Error("更新通知标记失败", zap.String("degree_id", degree.DegreeID), zap.Error(err))
		return false
	}
	if marked {
		degree.NotificationDelivered = true
		degree.NotifiedAt = &at
	}
	return marked
}

// [自证通过] internal/service/issuance_service.go
