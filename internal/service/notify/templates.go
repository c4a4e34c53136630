package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type itemView struct {
	Title    string
	Quantity int
	Price    string
	Amount   string
}

type orderView struct {
	Brand         string
	Reference     string
	Placed        string
	Name          string
	Phone         string
	Email         string
	Address       string
	Zone          string
	PaymentMethod string
	ProofURL      string
	Items         []itemView
	Subtotal      string
	DeliveryFee   string
	GrandTotal    string
	Status        string
	PaymentStatus string
	Note          string
	Persisted     bool
	Changes       []domain.Change
	HasReceipt    bool
}

func (d *Dispatcher) view(order domain.Order, changes []domain.Change, hasReceipt bool) orderView {
	money := func(v float64) string { return fmt.Sprintf("%s %.2f", d.cfg.Currency, v) }

	items := make([]itemView, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, itemView{
			Title:    it.Title,
			Quantity: it.Quantity,
			Price:    money(it.UnitPrice),
			Amount:   money(it.LineTotal()),
		})
	}

	placed := ""
	if !order.CreatedAt.IsZero() {
		placed = order.CreatedAt.UTC().Format(time.RFC1123)
	}

	return orderView{
		Brand:         d.cfg.Brand,
		Reference:     order.Reference,
		Placed:        placed,
		Name:          order.Customer.Name,
		Phone:         order.Customer.Phone,
		Email:         order.Customer.Email,
		Address:       order.Customer.Address,
		Zone:          order.Customer.DeliveryZone,
		PaymentMethod: order.Customer.PaymentMethod,
		ProofURL:      order.ProofURL,
		Items:         items,
		Subtotal:      money(order.Subtotal),
		DeliveryFee:   money(order.DeliveryFee),
		GrandTotal:    money(order.GrandTotal),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Note:          order.Note,
		Persisted:     order.Persisted(),
		Changes:       changes,
		HasReceipt:    hasReceipt,
	}
}

const detailsHTML = `{{define "details"}}
<p><strong>Order {{.Reference}}</strong>{{if .Placed}} &middot; {{.Placed}}{{end}}</p>
<p>{{.Name}}{{if .Phone}}<br>Phone: {{.Phone}}{{end}}{{if .Email}}<br>Email: {{.Email}}{{end}}{{if .Address}}<br>Address: {{.Address}}{{end}}{{if .Zone}}<br>Zone: {{.Zone}}{{end}}{{if .PaymentMethod}}<br>Payment: {{.PaymentMethod}}{{end}}</p>
<table cellpadding="4" style="border-collapse:collapse">
<tr><th align="left">Item</th><th>Qty</th><th align="right">Price</th><th align="right">Amount</th></tr>
{{range .Items}}<tr><td>{{.Title}}</td><td align="center">{{.Quantity}}</td><td align="right">{{.Price}}</td><td align="right">{{.Amount}}</td></tr>
{{end}}</table>
<p>Subtotal: {{.Subtotal}}<br>Delivery: {{.DeliveryFee}}<br><strong>Total: {{.GrandTotal}}</strong></p>
{{if .ProofURL}}<p>Payment proof: <a href="{{.ProofURL}}">{{.ProofURL}}</a></p>{{end}}
{{end}}`

const detailsText = `{{define "details"}}Order {{.Reference}}{{if .Placed}} ({{.Placed}}){{end}}
{{.Name}}{{if .Phone}}
Phone: {{.Phone}}{{end}}{{if .Email}}
Email: {{.Email}}{{end}}{{if .Address}}
Address: {{.Address}}{{end}}{{if .Zone}}
Zone: {{.Zone}}{{end}}{{if .PaymentMethod}}
Payment: {{.PaymentMethod}}{{end}}

{{range .Items}}- {{.Title}} x {{.Quantity}} @ {{.Price}} = {{.Amount}}
{{end}}
Subtotal: {{.Subtotal}}
Delivery: {{.DeliveryFee}}
Total: {{.GrandTotal}}{{if .ProofURL}}
Payment proof: {{.ProofURL}}{{end}}
{{end}}`

const adminHTML = `<h2>New order {{.Reference}}</h2>
{{if not .Persisted}}<p style="color:#b00020"><strong>WARNING: this order was NOT saved to the database. Keep this email.</strong></p>{{end}}
{{template "details" .}}`

const adminText = `New order {{.Reference}}
{{if not .Persisted}}WARNING: this order was NOT saved to the database. Keep this email.
{{end}}
{{template "details" .}}`

const customerHTML = `<h2>Thank you for your order, {{.Name}}!</h2>
<p>We have received order <strong>{{.Reference}}</strong> and will contact you about delivery.</p>
{{template "details" .}}
{{if .HasReceipt}}<p>Your receipt is attached.</p>{{end}}
<p>{{.Brand}}</p>`

const customerText = `Thank you for your order, {{.Name}}!
We have received order {{.Reference}} and will contact you about delivery.

{{template "details" .}}{{if .HasReceipt}}
Your receipt is attached.{{end}}
{{.Brand}}`

const statusHTML = `<h2>Order {{.Reference}} updated</h2>
<ul>{{range .Changes}}<li>{{.Field}}: {{.From}} &rarr; {{.To}}</li>{{end}}</ul>
<p>Status: {{.Status}} &middot; Payment: {{.PaymentStatus}}</p>
{{if .Note}}<p>Note: {{.Note}}</p>{{end}}
{{template "details" .}}
{{if .HasReceipt}}<p>An updated receipt is attached.</p>{{end}}
<p>{{.Brand}}</p>`

const statusText = `Order {{.Reference}} updated
{{range .Changes}}- {{.Field}}: {{.From}} -> {{.To}}
{{end}}Status: {{.Status}} / Payment: {{.PaymentStatus}}{{if .Note}}
Note: {{.Note}}{{end}}

{{template "details" .}}{{if .HasReceipt}}
An updated receipt is attached.{{end}}
{{.Brand}}`

const adminMessageText = `New order {{.Reference}}{{if not .Persisted}} (NOT SAVED){{end}}
{{.Name}}{{if .Phone}} {{.Phone}}{{end}}{{if .Email}} {{.Email}}{{end}}
{{range .Items}}{{.Title}} x {{.Quantity}}
{{end}}Total: {{.GrandTotal}}{{if .Zone}} ({{.Zone}}){{end}}`

const customerMessageText = `Hi {{.Name}}, thank you for your order {{.Reference}}.
{{range .Items}}{{.Title}} x {{.Quantity}}
{{end}}Total: {{.GrandTotal}}
{{.Brand}}`

type templates struct {
	html map[string]*htmltemplate.Template
	text map[string]*texttemplate.Template
}

func parseTemplates() templates {
	t := templates{
		html: make(map[string]*htmltemplate.Template),
		text: make(map[string]*texttemplate.Template),
	}
	for name, body := range map[string]string{"admin": adminHTML, "customer": customerHTML, "status": statusHTML} {
		t.html[name] = htmltemplate.Must(htmltemplate.Must(htmltemplate.New(name).Parse(detailsHTML)).Parse(body))
	}
	for name, body := range map[string]string{
		"admin":            adminText,
		"customer":         customerText,
		"status":           statusText,
		"admin_message":    adminMessageText,
		"customer_message": customerMessageText,
	} {
		t.text[name] = texttemplate.Must(texttemplate.Must(texttemplate.New(name).Parse(detailsText)).Parse(body))
	}
	return t
}

func (t templates) renderHTML(name string, v orderView) (string, error) {
	var buf bytes.Buffer
	if err := t.html[name].Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render %s html: %w", name, err)
	}
	return buf.String(), nil
}

func (t templates) renderText(name string, v orderView) (string, error) {
	var buf bytes.Buffer
	if err := t.text[name].Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render %s text: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
