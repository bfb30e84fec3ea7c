package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// ReceiptData carries the fields rendered onto a payment receipt.
type ReceiptData struct {
	TenantName    string
	StudentID     string
	FeeType       string
	AcademicYear  string
	PaymentID     string
	PaymentMethod string
	Amount        float64
	PaidAt        time.Time
	TotalAmount   float64
	PaidToDate    float64
	Outstanding   float64
	Status        string
}

// ReceiptRenderer renders payment receipts as PDF documents.
type ReceiptRenderer struct{}

// NewReceiptRenderer constructs a receipt renderer.
func NewReceiptRenderer() *ReceiptRenderer {
	return &ReceiptRenderer{}
}

// Render produces a single-page receipt PDF.
func (r *ReceiptRenderer) Render(data ReceiptData) ([]byte, error) {
	if data.PaymentID == "" {
		return nil, fmt.Errorf("receipt requires a payment id")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	title := data.TenantName
	if title == "" {
		title = "PAYMENT RECEIPT"
	}
	pdf.CellFormat(0, 10, strings.ToUpper(title), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, "Payment Receipt", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	rows := [][2]string{
		{"Receipt No", data.PaymentID},
		{"Student", data.StudentID},
		{"Fee Type", data.FeeType},
		{"Academic Year", data.AcademicYear},
		{"Payment Method", data.PaymentMethod},
		{"Paid At", data.PaidAt.Format("2006-01-02 15:04 MST")},
		{"Amount Paid", fmt.Sprintf("%.2f", data.Amount)},
		{"Total Fee", fmt.Sprintf("%.2f", data.TotalAmount)},
		{"Paid To Date", fmt.Sprintf("%.2f", data.PaidToDate)},
		{"Outstanding", fmt.Sprintf("%.2f", data.Outstanding)},
		{"Status", strings.ToUpper(data.Status)},
	}

	pdf.SetFont("Arial", "", 10)
	for _, row := range rows {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(55, 8, row[0], "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(125, 8, row[1], "1", 1, "", false, 0, "")
	}

	pdf.Ln(8)
	pdf.SetFont("Arial", "I", 8)
	pdf.CellFormat(0, 5, "This receipt was generated automatically and is valid without a signature.", "", 1, "C", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render receipt pdf: %w", err)
	}
	return buf.Bytes(), nil
}
