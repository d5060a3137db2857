package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"degree-ledger/backend/internal/artifact"
	"degree-ledger/backend/internal/ledger"
	"degree-ledger/backend/internal/model"
	pkgerrors "degree-ledger/backend/pkg/errors"
)

// ── Mock StudentRepository ──

type mockStudentRepo struct {
	students map[string]*model.Student
}

func newMockStudentRepo() *mockStudentRepo {
	return &mockStudentRepo{students: make(map[string]*model.Student)}
}

func (m *mockStudentRepo) Create(_ context.Context, student *model.Student) error {
	cp := *student
	m.students[student.StudentID] = &cp
	return nil
}

func (m *mockStudentRepo) GetByID(_ context.Context, studentID string) (*model.Student, error) {
	if s, ok := m.students[studentID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockStudentRepo) ListByIDs(_ context.Context, studentIDs []string) ([]model.Student, error) {
	var result []model.Student
	for _, id := range studentIDs {
		if s, ok := m.students[id]; ok {
			result = append(result, *s)
		}
	}
	return result, nil
}

// ── Mock CourseRepository ──

type mockCourseRepo struct {
	courses []model.CourseDefinition
}

func newMockCourseRepo() *mockCourseRepo {
	return &mockCourseRepo{}
}

func (m *mockCourseRepo) Create(_ context.Context, course *model.CourseDefinition) error {
	if course.CourseID == "" {
		course.CourseID = fmt.Sprintf("course-%d", len(m.courses)+1)
	}
	m.courses = append(m.courses, *course)
	return nil
}

func (m *mockCourseRepo) ListByProgram(_ context.Context, program string) ([]model.CourseDefinition, error) {
	var result []model.CourseDefinition
	for _, c := range m.courses {
		if c.Program == program {
			result = append(result, c)
		}
	}
	return result, nil
}

// ── Mock GradeRepository ──

type mockGradeRepo struct {
	grades []model.GradeRecord
	reads  int
}

func newMockGradeRepo() *mockGradeRepo {
	return &mockGradeRepo{}
}

func (m *mockGradeRepo) Create(_ context.Context, grade *model.GradeRecord) error {
	if grade.GradeID == "" {
		grade.GradeID = fmt.Sprintf("grade-%d", len(m.grades)+1)
	}
	m.grades = append(m.grades, *grade)
	return nil
}

func (m *mockGradeRepo) ListByStudent(_ context.Context, studentID string) ([]model.GradeRecord, error) {
	m.reads++
	var result []model.GradeRecord
	for _, g := range m.grades {
		if g.StudentID == studentID {
			result = append(result, g)
		}
	}
	return result, nil
}

// ── Mock DegreeRequestRepository ──

type mockDegreeRequestRepo struct {
	mu       sync.Mutex
	requests map[string]*model.DegreeRequest // key: student_id
	casErr   error
	getErr   error
}

func newMockDegreeRequestRepo() *mockDegreeRequestRepo {
	return &mockDegreeRequestRepo{requests: make(map[string]*model.DegreeRequest)}
}

func (m *mockDegreeRequestRepo) Create(_ context.Context, req *model.DegreeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[req.StudentID]; ok {
		return gorm.ErrDuplicatedKey
	}
	if req.RequestID == "" {
		req.RequestID = "req-" + req.StudentID
	}
	if req.Version == 0 {
		req.Version = 1
	}
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	cp := *req
	m.requests[req.StudentID] = &cp
	return nil
}

func (m *mockDegreeRequestRepo) GetByStudentID(_ context.Context, studentID string) (*model.DegreeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	if r, ok := m.requests[studentID]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockDegreeRequestRepo) GetByStudentIDForUpdate(ctx context.Context, studentID string) (*model.DegreeRequest, error) {
	return m.GetByStudentID(ctx, studentID)
}

func (m *mockDegreeRequestRepo) List(_ context.Context, status string, page, pageSize int) ([]model.DegreeRequest, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []model.DegreeRequest
	for _, r := range m.requests {
		if status == "" || r.Status == status {
			all = append(all, *r)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StudentID < all[j].StudentID })

	total := int64(len(all))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return []model.DegreeRequest{}, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (m *mockDegreeRequestRepo) ListByStatus(_ context.Context, status string, before time.Time, limit int) ([]model.DegreeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.DegreeRequest
	for _, r := range m.requests {
		if r.Status == status && r.UpdatedAt.Before(before) && len(result) < limit {
			result = append(result, *r)
		}
	}
	return result, nil
}

func (m *mockDegreeRequestRepo) CompareAndSwap(_ context.Context, req *model.DegreeRequest, expectedStatuses ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.casErr != nil {
		return m.casErr
	}
	current, ok := m.requests[req.StudentID]
	if !ok || current.Version != req.Version {
		return pkgerrors.ErrOptimisticLock
	}
	if len(expectedStatuses) > 0 {
		matched := false
		for _, st := range expectedStatuses {
			if current.Status == st {
				matched = true
				break
			}
		}
		if !matched {
			return pkgerrors.ErrOptimisticLock
		}
	}
	req.Version++
	req.UpdatedAt = time.Now()
	cp := *req
	m.requests[req.StudentID] = &cp
	return nil
}

// ── Mock IssuedDegreeRepository ──

type mockIssuedDegreeRepo struct {
	mu        sync.Mutex
	degrees   []*model.IssuedDegree
	createErr error
}

func newMockIssuedDegreeRepo() *mockIssuedDegreeRepo {
	return &mockIssuedDegreeRepo{}
}

func (m *mockIssuedDegreeRepo) Create(_ context.Context, degree *model.IssuedDegree) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, d := range m.degrees {
		if (d.StudentID == degree.StudentID && d.Degree == degree.Degree) || d.Fingerprint == degree.Fingerprint {
			return gorm.ErrDuplicatedKey
		}
	}
	if degree.DegreeID == "" {
		degree.DegreeID = fmt.Sprintf("deg-%d", len(m.degrees)+1)
	}
	cp := *degree
	m.degrees = append(m.degrees, &cp)
	return nil
}

func (m *mockIssuedDegreeRepo) GetByStudentID(_ context.Context, studentID string) (*model.IssuedDegree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.degrees {
		if d.StudentID == studentID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockIssuedDegreeRepo) GetByIdentifier(_ context.Context, identifier string) (*model.IssuedDegree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.degrees {
		if d.StudentID == identifier || d.Fingerprint == identifier {
			cp := *d
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockIssuedDegreeRepo) ListAll(_ context.Context) ([]model.IssuedDegree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.IssuedDegree
	for _, d := range m.degrees {
		result = append(result, *d)
	}
	return result, nil
}

func (m *mockIssuedDegreeRepo) ListUndelivered(_ context.Context, limit int) ([]model.IssuedDegree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.IssuedDegree
	for _, d := range m.degrees {
		if !d.NotificationDelivered && d.NotifyAttempts < model.MaxNotifyAttempts {
			result = append(result, *d)
		}
	}
	// 从未尝试的优先，其次最久未尝试的
	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i].LastNotifyAt, result[j].LastNotifyAt
		switch {
		case a == nil && b == nil:
			return result[i].IssuedAt.Before(result[j].IssuedAt)
		case a == nil:
			return true
		case b == nil:
			return false
		}
		return a.Before(*b)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockIssuedDegreeRepo) RecordNotifyFailure(_ context.Context, degreeID string, at time.Time, reason string, permanent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.degrees {
		if d.DegreeID == degreeID && !d.NotificationDelivered {
			d.NotifyAttempts++
			if permanent && d.NotifyAttempts < model.MaxNotifyAttempts {
				d.NotifyAttempts = model.MaxNotifyAttempts
			}
			d.LastNotifyAt = &at
			d.NotifyError = reason
		}
	}
	return nil
}

func (m *mockIssuedDegreeRepo) MarkNotified(_ context.Context, degreeID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.degrees {
		if d.DegreeID == degreeID {
			if d.NotificationDelivered {
				return false, nil
			}
			d.NotificationDelivered = true
			d.NotifiedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (m *mockIssuedDegreeRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.degrees)
}

// ── Mock IssuanceAttemptRepository ──

type mockIssuanceAttemptRepo struct {
	mu        sync.Mutex
	attempts  []*model.IssuanceAttempt
	createErr error
}

func newMockIssuanceAttemptRepo() *mockIssuanceAttemptRepo {
	return &mockIssuanceAttemptRepo{}
}

func (m *mockIssuanceAttemptRepo) Create(_ context.Context, attempt *model.IssuanceAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	attempt.AttemptID = fmt.Sprintf("att-%d", len(m.attempts)+1)
	attempt.CreatedAt = time.Now()
	attempt.UpdatedAt = attempt.CreatedAt
	cp := *attempt
	m.attempts = append(m.attempts, &cp)
	return nil
}

func (m *mockIssuanceAttemptRepo) Update(_ context.Context, attempt *model.IssuanceAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.AttemptID == attempt.AttemptID {
			a.Stage = attempt.Stage
			a.ContentAddress = attempt.ContentAddress
			a.LedgerTxRef = attempt.LedgerTxRef
			a.Fingerprint = attempt.Fingerprint
			a.LastError = attempt.LastError
			a.UpdatedAt = time.Now()
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (m *mockIssuanceAttemptRepo) GetLatestByStudent(_ context.Context, studentID string) (*model.IssuanceAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.attempts) - 1; i >= 0; i-- {
		if m.attempts[i].StudentID == studentID {
			cp := *m.attempts[i]
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockIssuanceAttemptRepo) FindByContentAddress(_ context.Context, studentID, address string) (*model.IssuanceAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.attempts) - 1; i >= 0; i-- {
		a := m.attempts[i]
		if a.StudentID == studentID && a.ContentAddress == address {
			cp := *a
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockIssuanceAttemptRepo) ListUnsettled(_ context.Context, before time.Time, limit int) ([]model.IssuanceAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.IssuanceAttempt
	for _, a := range m.attempts {
		if !a.IsSettled() && a.UpdatedAt.Before(before) && len(result) < limit {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (m *mockIssuanceAttemptRepo) stages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []string
	for _, a := range m.attempts {
		result = append(result, a.Stage)
	}
	return result
}

// ── Fake 证书生成器 ──

type fakeGenerator struct {
	calls int
	err   error
	last  *artifact.Payload
}

func (g *fakeGenerator) Generate(_ context.Context, payload *artifact.Payload) ([]byte, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	g.last = payload
	data, err := payload.JSON()
	if err != nil {
		return nil, err
	}
	return append([]byte("%PDF-1.4\n"), data...), nil
}

// ── Fake 内容寻址存储 ──

type fakePublisher struct {
	mu      sync.Mutex
	objects map[string][]byte
	calls   int
	err     error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{objects: make(map[string][]byte)}
}

func (p *fakePublisher) Publish(_ context.Context, data []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	address := fmt.Sprintf("bafy%x", sha256.Sum256(data))
	p.objects[address] = append([]byte(nil), data...)
	return address, nil
}

func (p *fakePublisher) Resolve(_ context.Context, address string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if data, ok := p.objects[address]; ok {
		return data, nil
	}
	return nil, errors.New("object not found")
}

// ── Fake 账本 ──

// fakeLedger 模式：
//   - confirm=true：Anchor 后首次 Status 即确认并写入记录
//   - confirm=false：交易一直 pending，由测试调用 settle 决定结果
type fakeLedger struct {
	mu        sync.Mutex
	records   map[string]*ledger.Record
	txs       map[string]*ledger.Receipt
	confirm   bool
	anchorErr error
	readErr   error
	anchors   int
	reads     int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		records: make(map[string]*ledger.Record),
		txs:     make(map[string]*ledger.Receipt),
		confirm: true,
	}
}

func (l *fakeLedger) Anchor(_ context.Context, subjectKey, contentAddress string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.anchors++
	if l.anchorErr != nil {
		return "", l.anchorErr
	}
	txRef := fmt.Sprintf("0xtx%d", l.anchors)
	l.txs[txRef] = &ledger.Receipt{
		TxRef:          txRef,
		Status:         ledger.TxStatusPending,
		SubjectKey:     subjectKey,
		ContentAddress: contentAddress,
	}
	if l.confirm {
		l.settleLocked(txRef, ledger.TxStatusConfirmed)
	}
	return txRef, nil
}

func (l *fakeLedger) Status(_ context.Context, txRef string) (*ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.txs[txRef]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, ledger.ErrNotFound
}

func (l *fakeLedger) ReadFingerprint(_ context.Context, subjectKey string) (*ledger.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	if l.readErr != nil {
		return nil, l.readErr
	}
	if r, ok := l.records[subjectKey]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, ledger.ErrNotFound
}

// settle 结束一笔在途交易
func (l *fakeLedger) settle(txRef, status string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settleLocked(txRef, status)
}

func (l *fakeLedger) settleLocked(txRef, status string) {
	r, ok := l.txs[txRef]
	if !ok {
		return
	}
	r.Status = status
	if status == ledger.TxStatusConfirmed {
		r.Fingerprint = "0xfp" + txRef[2:]
		l.records[r.SubjectKey] = &ledger.Record{
			SubjectKey:     r.SubjectKey,
			ContentAddress: r.ContentAddress,
			Fingerprint:    r.Fingerprint,
			TxRef:          txRef,
			AnchoredAt:     time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
		}
	} else if status == ledger.TxStatusFailed {
		r.Error = "execution reverted"
	}
}

func (l *fakeLedger) anchorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.anchors
}

// ── Fake 通知 ──

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []string
	err   error
	calls int
}

func (n *fakeNotifier) NotifyIssued(_ context.Context, student *model.Student, _ *model.IssuedDegree, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, student.StudentID)
	return nil
}
