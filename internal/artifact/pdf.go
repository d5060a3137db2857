package artifact

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"
)

const (
	verifyQRName = "verify-qr"
	qrSize       = 32.0 // mm
)

// Generator 证书生成器
type Generator interface {
	Generate(ctx context.Context, payload *Payload) ([]byte, error)
}

// PDFGenerator 基于 gofpdf 的证书生成器
// 同一载荷多次生成得到逐字节相同的输出（固定创建时间、目录排序）
type PDFGenerator struct{}

// NewPDFGenerator 创建 PDF 证书生成器
func NewPDFGenerator() *PDFGenerator {
	return &PDFGenerator{}
}

type result struct {
	data []byte
	err  error
}

// Generate 校验载荷并渲染 PDF；ctx 取消时立即返回
func (g *PDFGenerator) Generate(ctx context.Context, payload *Payload) ([]byte, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan result, 1)
	go func() {
		data, err := render(payload)
		done <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.data, r.err
	}
}

func render(p *Payload) ([]byte, error) {
	issuedOn, err := time.Parse("2006-01-02", p.IssuedOn)
	if err != nil {
		return nil, fmt.Errorf("解析签发日期失败: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(issuedOn.UTC())
	pdf.SetCatalogSort(true)
	pdf.SetTitle(fmt.Sprintf("%s - %s", p.Degree, p.Student.StudentID), true)
	pdf.SetAuthor(p.Institution, true)
	pdf.SetMargins(18, 18, 18)
	pdf.SetAutoPageBreak(true, 18)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()

	// ── 抬头 ──
	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, tr(p.Institution), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 8, "This is to certify that", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr(p.Student.Name), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 8, tr(fmt.Sprintf("Student ID %s, Batch %s", p.Student.StudentID, p.Student.Batch)), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 8, "has been awarded the degree of", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, tr(p.Degree), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 8, fmt.Sprintf("with a CGPA of %.2f on %s", p.CGPA, p.IssuedOn), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	// ── 成绩明细 ──
	widths := []float64{70, 22, 22, 18, 20, 22}
	headers := []string{"Course", "Marks", "Credits", "Grade", "Point", "QP"}
	for _, sem := range p.Semesters {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(0, 8, fmt.Sprintf("Semester %d  (GPA %.2f)", sem.Semester, sem.GPA), "", 1, "L", false, 0, "")

		pdf.SetFont("Helvetica", "B", 9)
		for i, h := range headers {
			pdf.CellFormat(widths[i], 6, h, "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont("Helvetica", "", 9)
		for _, c := range sem.Courses {
			pdf.CellFormat(widths[0], 6, tr(c.CourseName), "1", 0, "L", false, 0, "")
			pdf.CellFormat(widths[1], 6, fmt.Sprintf("%.0f/%.0f", c.Obtained, c.MaxMarks), "1", 0, "C", false, 0, "")
			pdf.CellFormat(widths[2], 6, fmt.Sprintf("%.1f", c.CreditHours), "1", 0, "C", false, 0, "")
			pdf.CellFormat(widths[3], 6, c.Letter, "1", 0, "C", false, 0, "")
			pdf.CellFormat(widths[4], 6, fmt.Sprintf("%.1f", c.GradePoint), "1", 0, "C", false, 0, "")
			pdf.CellFormat(widths[5], 6, fmt.Sprintf("%.1f", c.QualityPoints), "1", 0, "C", false, 0, "")
			pdf.Ln(-1)
		}
		pdf.Ln(2)
	}

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(0, 7, fmt.Sprintf("Total credit hours %.1f   CGPA %.2f", p.TotalCreditHours, p.CGPA), "", 1, "L", false, 0, "")

	// ── 签章与验证二维码 ──
	qr, err := qrcode.Encode(p.VerifyURL, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("生成验证二维码失败: %w", err)
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(verifyQRName, opts, bytes.NewReader(qr))

	pdf.Ln(8)
	_, pageH := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	if pdf.GetY()+qrSize+8 > pageH-bottom {
		pdf.AddPage()
	}
	left, _, _, _ := pdf.GetMargins()
	top := pdf.GetY()
	pdf.ImageOptions(verifyQRName, left, top, qrSize, qrSize, false, opts, 0, p.VerifyURL)

	pdf.SetY(top + qrSize - 12)
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, "______________________________", "", 1, "R", false, 0, "")
	pdf.CellFormat(0, 6, tr(p.Signatory), "", 1, "R", false, 0, "")

	pdf.SetY(top + qrSize + 2)
	pdf.SetFont("Helvetica", "U", 8)
	pdf.SetTextColor(0, 0, 180)
	pdf.CellFormat(0, 5, "Scan or visit to verify: "+p.VerifyURL, "", 1, "L", false, 0, p.VerifyURL)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("渲染 PDF 失败: %w", err)
	}
	return buf.Bytes(), nil
}
