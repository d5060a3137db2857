package repository

import (
	"context"

	"gorm.io/gorm"

	"degree-ledger/backend/internal/model"
)

// CourseRepository 课程定义数据访问接口
type CourseRepository interface {
	Create(ctx context.Context, course *model.CourseDefinition) error
	// ListByProgram 返回某学位项目全部学期的课程定义
	ListByProgram(ctx context.Context, program string) ([]model.CourseDefinition, error)
}

type courseRepo struct {
	db *gorm.DB
}

// NewCourseRepo 创建 CourseRepository 实例
func NewCourseRepo(db *gorm.DB) CourseRepository {
	return &courseRepo{db: db}
}

func (r *courseRepo) Create(ctx context.Context, course *model.CourseDefinition) error {
	return r.db.WithContext(ctx).Create(course).Error
}

func (r *courseRepo) ListByProgram(ctx context.Context, program string) ([]model.CourseDefinition, error) {
	var courses []model.CourseDefinition
	err := r.db.WithContext(ctx).
		Where("program = ?", program).
		Order("semester ASC, course_name ASC").
		Find(&courses).Error
	return courses, err
}

// GradeRepository 成绩数据访问接口（成绩由成绩子系统写入，本服务只读）
type GradeRepository interface {
	Create(ctx context.Context, grade *model.GradeRecord) error
	ListByStudent(ctx context.Context, studentID string) ([]model.GradeRecord, error)
}

type gradeRepo struct {
	db *gorm.DB
}

// NewGradeRepo 创建 GradeRepository 实例
func NewGradeRepo(db *gorm.DB) GradeRepository {
	return &gradeRepo{db: db}
}

func (r *gradeRepo) Create(ctx context.Context, grade *model.GradeRecord) error {
	return r.db.WithContext(ctx).Create(grade).Error
}

func (r *gradeRepo) ListByStudent(ctx context.Context, studentID string) ([]model.GradeRecord, error) {
	var grades []model.GradeRecord
	err := r.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("semester ASC, course_name ASC").
		Find(&grades).Error
	return grades, err
}
