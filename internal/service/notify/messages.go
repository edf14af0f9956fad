package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

var emailTemplates = template.Must(template.New("email").Funcs(template.FuncMap{
	"money": formatMoney,
}).Parse(`
{{define "document"}}<p>Hello {{.Contact.Name}},</p>
<p>Your {{.Kind}} for order <b>{{.OrderID}}</b> is ready: <a href="{{.URL}}">download</a>.</p>
<p>Total: {{money .Total}}</p>
{{if .PaymentLink}}<p><a href="{{.PaymentLink}}">Pay online</a></p>{{end}}{{end}}
{{define "placed"}}<p>Hello {{.Contact.Name}},</p>
<p>We received your order <b>{{.OrderID}}</b>.</p>
<ul>{{range .Items}}<li>{{.Name}} x {{.Quantity}}: {{money .Total}}</li>{{end}}</ul>
<p>Total: {{money .Total}}</p>{{end}}
{{define "paid"}}<p>Hello {{.Contact.Name}},</p>
<p>Payment of {{money .Amount}} for order <b>{{.OrderID}}</b> is confirmed.{{if .PaymentRef}} Reference: {{.PaymentRef}}.{{end}}</p>{{end}}
`))

type documentEmail struct {
	DocumentJob
	Kind string
	URL  string
}

func renderEmail(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s email: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func formatMoney(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

func documentName(kind, orderID string) string {
	return kind + "-" + orderID + ".pdf"
}

func estimateChatText(job DocumentJob) string {
	text := fmt.Sprintf("Hello %s, your estimate for order %s is %s.", job.Contact.Name, job.OrderID, formatMoney(job.Total))
	if !job.ValidUntil.IsZero() {
		text += " Valid until " + job.ValidUntil.Format("02 Jan 2006") + "."
	}
	return text
}

func invoiceChatText(job DocumentJob) string {
	text := fmt.Sprintf("Hello %s, invoice for order %s: %s.", job.Contact.Name, job.OrderID, formatMoney(job.Total))
	if job.PaymentLink != "" {
		text += " Pay here: " + job.PaymentLink
	}
	return text
}

func reminderText(job ReminderJob) string {
	text := fmt.Sprintf("Reminder: payment of %s for order %s is still pending.", formatMoney(job.Amount), job.OrderID)
	if job.PaymentLink != "" {
		text += " Pay here: " + job.PaymentLink
	}
	return text
}

func paymentReceivedText(job PaymentReceivedJob) string {
	return fmt.Sprintf("Thank you, %s! Payment for order %s received.", job.Contact.Name, job.OrderID)
}

// Кнопки ответа на смету; префикс ID совпадает с ответом контроллеру.
func estimateButtons(orderID string) []domain.ChatButton {
	return []domain.ChatButton{
		{ID: "ACCEPT:" + orderID, Title: "Accept"},
		{ID: "REJECT:" + orderID, Title: "Reject"},
	}
}

func invoiceButtons(orderID string) []domain.ChatButton {
	return []domain.ChatButton{
		{ID: "PAY:" + orderID, Title: "Pay now"},
		{ID: "HELP:" + orderID, Title: "Need help"},
	}
}
