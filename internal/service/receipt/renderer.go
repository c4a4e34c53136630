// Package receipt формирует PDF-квитанцию по каноническому заказу.
package receipt

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	pageMargin = 15.0
	lineHeight = 6.0
	titleWidth = 95.0
	qtyWidth   = 20.0
	priceWidth = 32.5
	// totalsReserve - место под итоги и подвал, которое таблица позиций не занимает.
	totalsReserve = 45.0
)

// Config - оформление квитанции.
type Config struct {
	Brand      string
	Tagline    string
	FooterNote string
	Currency   string
	// Location - часовой пояс для отметки времени заказа; по умолчанию UTC.
	Location *time.Location
	// Compress включает сжатие потоков PDF. В тестах отключается, чтобы текст был читаем.
	Compress bool
}

// DefaultConfig возвращает оформление по умолчанию.
func DefaultConfig() Config {
	return Config{
		Brand:      "Storefront",
		FooterNote: "Thank you for your order. Keep this receipt for your records.",
		Currency:   "SLE",
		Compress:   true,
	}
}

// Renderer рисует квитанцию ровно на одну страницу. Без состояния, безопасен для конкурентного использования.
type Renderer struct {
	cfg Config
}

// NewRenderer создаёт рендерер.
func NewRenderer(cfg Config) *Renderer {
	def := DefaultConfig()
	if cfg.Brand == "" {
		cfg.Brand = def.Brand
	}
	if cfg.Currency == "" {
		cfg.Currency = def.Currency
	}
	if cfg.FooterNote == "" {
		cfg.FooterNote = def.FooterNote
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Renderer{cfg: cfg}
}

// Filename возвращает имя файла квитанции для вложений и скачивания.
func Filename(order domain.Order) string {
	return fmt.Sprintf("receipt-%s.pdf", order.Reference)
}

// Render возвращает PDF-квитанцию. Паника внутри fpdf превращается в ошибку.
func (r *Renderer) Render(order domain.Order) (out []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = fmt.Errorf("render receipt %s: panic: %v", order.Reference, rec)
		}
	}()

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(r.cfg.Compress)
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(false, pageMargin)
	pdf.SetTitle("Receipt "+order.Reference, true)
	pdf.SetCreator(r.cfg.Brand, true)
	if !order.CreatedAt.IsZero() {
		pdf.SetCreationDate(order.CreatedAt)
	}
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")

	r.header(pdf, tr, order)
	r.billTo(pdf, tr, order.Customer)
	r.items(pdf, tr, order.Items)
	r.totals(pdf, order)
	r.footer(pdf, tr, order)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt %s: %w", order.Reference, err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) header(pdf *fpdf.Fpdf, tr func(string) string, order domain.Order) {
	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 10, tr(r.cfg.Brand), "", 1, "L", false, 0, "")
	if r.cfg.Tagline != "" {
		pdf.SetFont("Helvetica", "", 10)
		pdf.SetTextColor(110, 110, 110)
		pdf.CellFormat(0, 5, tr(r.cfg.Tagline), "", 1, "L", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, lineHeight, "RECEIPT", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, lineHeight, "Order: "+tr(order.Reference), "", 1, "L", false, 0, "")
	if !order.CreatedAt.IsZero() {
		placed := order.CreatedAt.In(r.cfg.Location).Format("02 Jan 2006 15:04 MST")
		pdf.CellFormat(0, lineHeight, "Placed: "+placed, "", 1, "L", false, 0, "")
	}
	if order.Status != "" {
		status := fmt.Sprintf("Status: %s / Payment: %s", order.Status, order.PaymentStatus)
		pdf.CellFormat(0, lineHeight, status, "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func (r *Renderer) billTo(pdf *fpdf.Fpdf, tr func(string) string, c domain.Customer) {
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, lineHeight, "Bill to", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)

	lines := []string{c.Name}
	if c.Phone != "" {
		lines = append(lines, "Phone: "+c.Phone)
	}
	if c.Email != "" {
		lines = append(lines, "Email: "+c.Email)
	}
	if c.Address != "" {
		lines = append(lines, "Address: "+c.Address)
	}
	if c.DeliveryZone != "" {
		lines = append(lines, "Zone: "+c.DeliveryZone)
	}
	if c.PaymentMethod != "" {
		lines = append(lines, "Payment: "+c.PaymentMethod)
	}
	keys := make([]string, 0, len(c.PaymentDetails))
	for k := range c.PaymentDetails {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, c.PaymentDetails[k]))
	}

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		pdf.MultiCell(0, 5, tr(line), "", "L", false)
	}
	pdf.Ln(4)
}

func (r *Renderer) items(pdf *fpdf.Fpdf, tr func(string) string, items []domain.LineItem) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(235, 235, 235)
	pdf.CellFormat(titleWidth, 7, "Item", "B", 0, "L", true, 0, "")
	pdf.CellFormat(qtyWidth, 7, "Qty", "B", 0, "C", true, 0, "")
	pdf.CellFormat(priceWidth, 7, "Unit price", "B", 0, "R", true, 0, "")
	pdf.CellFormat(priceWidth, 7, "Amount", "B", 1, "R", true, 0, "")

	shown, rest := fitItems(pdf, items)

	pdf.SetFont("Helvetica", "", 10)
	for _, item := range shown {
		title := item.Title
		if title == "" {
			title = item.ProductKey
		}
		// Длинное название обрезаем до одной строки, иначе колонки съезжают.
		if lines := pdf.SplitText(tr(title), titleWidth-2); len(lines) > 0 {
			title = lines[0]
		} else {
			title = tr(title)
		}
		pdf.CellFormat(titleWidth, lineHeight, title, "", 0, "L", false, 0, "")
		pdf.CellFormat(qtyWidth, lineHeight, fmt.Sprintf("x %d", item.Quantity), "", 0, "C", false, 0, "")
		pdf.CellFormat(priceWidth, lineHeight, r.money(item.UnitPrice), "", 0, "R", false, 0, "")
		pdf.CellFormat(priceWidth, lineHeight, r.money(item.LineTotal()), "", 1, "R", false, 0, "")
	}
	if len(rest) > 0 {
		qty, amount := 0, 0.0
		for _, item := range rest {
			qty += item.Quantity
			amount += item.LineTotal()
		}
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(titleWidth, lineHeight, fmt.Sprintf("+ %d more items", len(rest)), "", 0, "L", false, 0, "")
		pdf.CellFormat(qtyWidth, lineHeight, fmt.Sprintf("x %d", qty), "", 0, "C", false, 0, "")
		pdf.CellFormat(priceWidth, lineHeight, "", "", 0, "R", false, 0, "")
		pdf.CellFormat(priceWidth, lineHeight, r.money(amount), "", 1, "R", false, 0, "")
	}
	pdf.Ln(2)
}

// fitItems делит позиции на те, что помещаются на страницу строками, и остаток,
// который сворачивается в одну итоговую строку.
func fitItems(pdf *fpdf.Fpdf, items []domain.LineItem) (shown, rest []domain.LineItem) {
	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	rows := int((pageHeight - bottom - totalsReserve - pdf.GetY()) / lineHeight)
	if rows < 1 {
		rows = 1
	}
	if len(items) <= rows {
		return items, nil
	}
	return items[:rows-1], items[rows-1:]
}

func (r *Renderer) totals(pdf *fpdf.Fpdf, order domain.Order) {
	labelWidth := titleWidth + qtyWidth + priceWidth
	row := func(label string, value float64, bold bool) {
		style := ""
		if bold {
			style = "B"
		}
		pdf.SetFont("Helvetica", style, 10)
		pdf.CellFormat(labelWidth, lineHeight, label, "", 0, "R", false, 0, "")
		pdf.CellFormat(priceWidth, lineHeight, r.money(value), "", 1, "R", false, 0, "")
	}
	row("Subtotal", order.Subtotal, false)
	row("Delivery", order.DeliveryFee, false)
	row("Total", order.GrandTotal, true)
	pdf.Ln(6)
}

func (r *Renderer) footer(pdf *fpdf.Fpdf, tr func(string) string, order domain.Order) {
	pdf.SetFont("Helvetica", "I", 9)
	pdf.SetTextColor(90, 90, 90)
	width, _ := pdf.GetPageSize()
	width -= 2 * pageMargin
	if order.Note != "" {
		pdf.MultiCell(0, 5, firstLines(pdf, tr("Note: "+order.Note), width, 2), "", "L", false)
	}
	if order.ProofURL != "" {
		pdf.MultiCell(0, 5, firstLines(pdf, tr("Payment proof: "+order.ProofURL), width, 1), "", "L", false)
	}
	pdf.MultiCell(0, 5, tr(r.cfg.FooterNote), "", "L", false)
	pdf.SetTextColor(0, 0, 0)
}

// firstLines обрезает текст до n строк заданной ширины.
func firstLines(pdf *fpdf.Fpdf, text string, width float64, n int) string {
	lines := pdf.SplitText(text, width)
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[:n], " ") + "..."
}

func (r *Renderer) money(v float64) string {
	return fmt.Sprintf("%s %.2f", r.cfg.Currency, v)
}
