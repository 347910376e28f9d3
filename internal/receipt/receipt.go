// Package receipt renders a one-page PDF receipt for a booking.
package receipt

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/iliyamo/parking-reservation/internal/model"
)

// Data is everything printed on a receipt.  Payment and Vehicle may be nil.
type Data struct {
	Booking model.Booking
	Lot     model.ParkingLot
	Payment *model.Payment
	Vehicle *model.Vehicle
}

// Render writes the PDF for d to w.  The QR code encodes the booking id so
// attendants can look the booking up.
func Render(w io.Writer, d Data) error {
	if d.Booking.ID == "" {
		return errors.New("receipt: booking id is empty")
	}
	qr, err := qrcode.Encode(d.Booking.ID, qrcode.Medium, 256)
	if err != nil {
		return fmt.Errorf("receipt: qr: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.Cell(0, 12, "PARKING RECEIPT")
	pdf.Ln(16)
	pdf.SetDrawColor(220, 220, 220)
	pdf.Line(15, pdf.GetY(), 195, pdf.GetY())
	pdf.Ln(6)

	top := pdf.GetY()
	pdf.ImageOptions("qr", 150, top, 45, 0, false, registerQR(pdf, qr), 0, "")

	b := d.Booking
	section(pdf, "BOOKING")
	line(pdf, "Booking ID", b.ID)
	line(pdf, "Status", string(b.Status))
	line(pdf, "Start", stamp(b.StartTime))
	if b.EndTime.Valid {
		line(pdf, "End", stamp(b.EndTime.Time))
	}
	line(pdf, "Planned hours", fmt.Sprintf("%g", b.PlannedHours))
	if b.ActualHours.Valid {
		line(pdf, "Actual hours", fmt.Sprintf("%g", b.ActualHours.Float64))
	}
	if b.TotalAmount.Valid {
		line(pdf, "Total", fmt.Sprintf("%.2f", b.TotalAmount.Float64))
	}
	pdf.Ln(4)

	section(pdf, "PARKING LOT")
	line(pdf, "Name", d.Lot.Name)
	if d.Lot.Address != "" {
		line(pdf, "Address", d.Lot.Address)
	}
	line(pdf, "Hourly charge", fmt.Sprintf("%.2f", d.Lot.HourlyCharge))
	if d.Lot.LateFee > 0 {
		line(pdf, "Late fee", fmt.Sprintf("%.2f", d.Lot.LateFee))
	}
	pdf.Ln(4)

	if v := d.Vehicle; v != nil {
		section(pdf, "VEHICLE")
		line(pdf, "Number", v.VehicleNumber)
		line(pdf, "Model", v.Model)
		pdf.Ln(4)
	}

	if p := d.Payment; p != nil {
		section(pdf, "PAYMENT")
		line(pdf, "Amount", fmt.Sprintf("%.2f", p.Amount))
		line(pdf, "Method", string(p.Method))
		line(pdf, "Status", string(p.Status))
		if p.TransactionID.Valid {
			line(pdf, "Transaction", p.TransactionID.String)
		}
	}

	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(15, 285, 195, 285)
	pdf.SetY(288)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.CellFormat(0, 6, "Generated "+stamp(time.Now()), "", 0, "C", false, 0, "")

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("receipt: %w", err)
	}
	return nil
}

func registerQR(pdf *gofpdf.Fpdf, png []byte) gofpdf.ImageOptions {
	opt := gofpdf.ImageOptions{ImageType: "png"}
	pdf.RegisterImageOptionsReader("qr", opt, bytes.NewReader(png))
	return opt
}

func section(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.SetFillColor(240, 240, 240)
	pdf.CellFormat(120, 8, title, "", 1, "L", true, 0, "")
	pdf.Ln(2)
	pdf.SetFont("Helvetica", "", 11)
}

func line(pdf *gofpdf.Fpdf, label, value string) {
	pdf.CellFormat(40, 7, label+":", "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 7, value, "", 1, "L", false, 0, "")
}

func stamp(t time.Time) string { return t.UTC().Format("2006-01-02 15:04 MST") }
