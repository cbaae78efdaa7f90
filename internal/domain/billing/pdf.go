package billing

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

const (
	pageMargin = 15.0
	lineHeight = 6.0
)

func money(d decimal.Decimal, currency string) string {
	return d.StringFixed(2) + " " + currency
}

// renderPDF lays out an invoice on A4. The core fonts only cover cp1252, so
// text goes through the unicode translator.
func renderPDF(inv *Invoice) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.SetTitle("Factura "+inv.Number, true)
	pdf.SetCreator("clinicdesk", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, tr("Factura "+inv.Number), "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, lineHeight, tr("Fecha de emisión: "+inv.IssueDate.Format("02/01/2006")), "", 1, "L", false, 0, "")
	if inv.DueDate != nil {
		pdf.CellFormat(0, lineHeight, tr("Vencimiento: "+inv.DueDate.Format("02/01/2006")), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	// issuer and client side by side
	half := (210 - 2*pageMargin) / 2
	top := pdf.GetY()
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(half, lineHeight, tr("Emisor"), "", 2, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(half, lineHeight, tr(fmt.Sprintf("%s\nNIF: %s\n%s", inv.IssuerName, inv.IssuerTaxID, inv.IssuerAddress)), "", "L", false)
	issuerBottom := pdf.GetY()

	pdf.SetXY(pageMargin+half, top)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(half, lineHeight, tr("Cliente"), "", 2, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetX(pageMargin + half)
	pdf.MultiCell(half, lineHeight, tr(fmt.Sprintf("%s\nNIF: %s\n%s", inv.ClientName, inv.ClientTaxID, inv.ClientAddress)), "", "L", false)
	if issuerBottom > pdf.GetY() {
		pdf.SetY(issuerBottom)
	}
	pdf.Ln(6)

	widths := []float64{80, 20, 30, 20, 30}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(235, 240, 245)
	for i, h := range []string{"Concepto", "Cant.", "Precio", "Dto. %", "Importe"} {
		align := "R"
		if i == 0 {
			align = "L"
		}
		pdf.CellFormat(widths[i], 8, tr(h), "B", 0, align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	for _, l := range inv.Lines {
		pdf.CellFormat(widths[0], lineHeight, tr(l.Description), "", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], lineHeight, l.Quantity.String(), "", 0, "R", false, 0, "")
		pdf.CellFormat(widths[2], lineHeight, l.UnitPrice.StringFixed(2), "", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], lineHeight, l.DiscountPct.String(), "", 0, "R", false, 0, "")
		pdf.CellFormat(widths[4], lineHeight, l.Amount.StringFixed(2), "", 1, "R", false, 0, "")
	}
	pdf.Ln(4)

	totals := [][2]string{
		{"Base imponible", money(inv.BaseAmount, inv.Currency)},
		{fmt.Sprintf("IVA %s%%", inv.VATRate.String()), money(inv.VATAmount, inv.Currency)},
	}
	if inv.IRPFAmount.IsPositive() {
		totals = append(totals, [2]string{fmt.Sprintf("IRPF -%s%%", inv.IRPFRate.String()), "-" + money(inv.IRPFAmount, inv.Currency)})
	}
	labelX := pageMargin + widths[0] + widths[1]
	for _, row := range totals {
		pdf.SetX(labelX)
		pdf.CellFormat(widths[2]+widths[3], lineHeight, tr(row[0]), "", 0, "R", false, 0, "")
		pdf.CellFormat(widths[4], lineHeight, tr(row[1]), "", 1, "R", false, 0, "")
	}
	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetX(labelX)
	pdf.CellFormat(widths[2]+widths[3], 8, "Total", "T", 0, "R", false, 0, "")
	pdf.CellFormat(widths[4], 8, tr(money(inv.TotalAmount, inv.Currency)), "T", 1, "R", false, 0, "")

	if inv.Notes != "" {
		pdf.Ln(6)
		pdf.SetFont("Helvetica", "I", 9)
		pdf.MultiCell(0, 5, tr(inv.Notes), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", inv.Number, err)
	}
	return buf.Bytes(), nil
}
