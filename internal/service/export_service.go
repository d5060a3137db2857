package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"degree-ledger/backend/internal/model"
	"degree-ledger/backend/internal/repository"
)

// ── 导出模块业务错误 ──

var (
	ErrExportNoDegrees    = errors.New("暂无已签发学位")
	ErrExportGenerateFail = errors.New("生成 Excel 文件失败")
)

// ExportService 导出业务接口
//
// 导出以 bytes.Buffer 返回，由 Handler 层设置 HTTP 响应头后写入 Response
type ExportService interface {
	// ExportIssuedRegister 导出已签发学位登记册为 Excel
	ExportIssuedRegister(ctx context.Context) (*bytes.Buffer, string, error)
}

type exportService struct {
	repo   *repository.Repository
	logger *zap.Logger
}

// NewExportService 创建 ExportService 实例
func NewExportService(repo *repository.Repository, logger *zap.Logger) ExportService {
	return &exportService{repo: repo, logger: logger}
}

// ═══════════════════════════════════════════════════════════
// ExportIssuedRegister — 导出已签发学位登记册
// ═══════════════════════════════════════════════════════════
//
// 输出格式：
//   - 单 Sheet "学位登记册"，第 1 行标题，第 2 行表头
//   - 每个已签发学位一行，按签发时间升序
//   - 指纹与内容地址原样输出，供离线核对账本

func (s *exportService) ExportIssuedRegister(ctx context.Context) (*bytes.Buffer, string, error) {
	// 1. 查询已签发学位
	degrees, err := s.repo.IssuedDegree.ListAll(ctx)
	if err != nil {
		s.logger.Error("查询已签发学位失败", zap.Error(err))
		return nil, "", err
	}
	if len(degrees) == 0 {
		return nil, "", ErrExportNoDegrees
	}

	// 2. 批量查询学生姓名与届别
	ids := make([]string, 0, len(degrees))
	for _, d := range degrees {
		ids = append(ids, d.StudentID)
	}
	students, err := s.repo.Student.ListByIDs(ctx, ids)
	if err != nil {
		s.logger.Error("查询学生信息失败", zap.Error(err))
		return nil, "", err
	}
	studentMap := make(map[string]*model.Student, len(students))
	for i := range students {
		studentMap[students[i].StudentID] = &students[i]
	}

	// 3. 生成 Excel
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "学位登记册"
	idx, _ := f.NewSheet(sheetName)
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	headers := []string{"学号", "姓名", "学位", "届别", "CGPA", "签发时间", "内容地址", "账本指纹", "通知已送达"}
	widths := []float64{16, 18, 28, 10, 8, 22, 64, 70, 12}
	for i, w := range widths {
		col := colName(i)
		f.SetColWidth(sheetName, col, col, w)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	// 标题行
	f.SetCellValue(sheetName, "A1", fmt.Sprintf("已签发学位登记册（共 %d 条）", len(degrees)))
	f.MergeCell(sheetName, "A1", cell(colName(len(headers)-1), 1))
	f.SetCellStyle(sheetName, "A1", "A1", headerStyle)

	// 表头
	row := 2
	for i, h := range headers {
		f.SetCellValue(sheetName, cell(colName(i), row), h)
	}
	f.SetCellStyle(sheetName, cell("A", row), cell(colName(len(headers)-1), row), headerStyle)

	// 数据行
	row = 3
	for _, d := range degrees {
		name, batch := "-", "-"
		if st, ok := studentMap[d.StudentID]; ok {
			name, batch = st.Name, st.Batch
		}
		delivered := "否"
		if d.NotificationDelivered {
			delivered = "是"
		}

		values := []interface{}{
			d.StudentID,
			name,
			d.Degree,
			batch,
			fmt.Sprintf("%.2f", d.CGPA),
			formatTime(d.IssuedAt),
			d.ContentAddress,
			d.Fingerprint,
			delivered,
		}
		for i, v := range values {
			f.SetCellValue(sheetName, cell(colName(i), row), v)
		}
		row++
	}

	// 写入 buffer
	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.Error("写入 Excel 失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}

	return buf, "学位登记册.xlsx", nil
}

// ── 辅助函数 ──

func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
