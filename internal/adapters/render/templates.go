// Package render строит документы заказа (смета, счёт): HTML по шаблону и PDF через headless Chrome.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnknownTemplate возвращается для шаблона, которого нет в наборе.
var ErrUnknownTemplate = errors.New("unknown document template")

const documentLayout = `<!DOCTYPE html>
<html><head><meta charset="UTF-8"><title>{{template "title" .}}</title>
<style>
body{font-family:Arial,sans-serif;font-size:12px;margin:24px}
table{width:100%;border-collapse:collapse}
th,td{border-bottom:1px solid #ddd;padding:6px;text-align:left}
td.num,th.num{text-align:right}
.totals td{border:none}
</style></head>
<body>
<h1>{{template "title" .}}</h1>
<p>Order <b>{{.OrderID}}</b>{{if not .IssuedAt.IsZero}}, issued {{date .IssuedAt}}{{end}}</p>
<p>{{.Contact.Name}}{{if .Contact.Email}}<br>{{.Contact.Email}}{{end}}{{if .Contact.Phone}}<br>{{.Contact.Phone}}{{end}}</p>
<table>
<tr><th>Item</th><th class="num">Qty</th><th class="num">Price</th><th class="num">Total</th></tr>
{{range .Items}}<tr><td>{{.Name}}</td><td class="num">{{.Quantity}}</td><td class="num">{{money .Price}}</td><td class="num">{{money .Total}}</td></tr>
{{end}}</table>
<table class="totals">
<tr><td class="num">Subtotal</td><td class="num">{{money .SubTotal}}</td></tr>
<tr><td class="num">Tax</td><td class="num">{{money .Tax}}</td></tr>
<tr><td class="num"><b>Total</b></td><td class="num"><b>{{money .Total}}</b></td></tr>
</table>
{{template "footer" .}}
{{if .Notes}}<p>{{.Notes}}</p>{{end}}
</body></html>`

var documentTitles = map[string]string{
	"estimate": `{{define "title"}}Estimate {{.OrderID}}{{end}}
{{define "footer"}}{{if not .ValidUntil.IsZero}}<p>Valid until {{date .ValidUntil}}.</p>{{end}}{{end}}`,
	"invoice": `{{define "title"}}Invoice {{.OrderID}}{{end}}
{{define "footer"}}{{if .PaymentLink}}<p>Pay online: <a href="{{.PaymentLink}}">{{.PaymentLink}}</a></p>{{end}}{{end}}`,
}

var funcs = template.FuncMap{
	"money": func(v decimal.Decimal) string { return v.StringFixed(2) },
	"date":  func(t time.Time) string { return t.UTC().Format("02 Jan 2006") },
}

// HTMLRenderer выполняет шаблоны документов и отдаёт HTML.
//
// Данные шаблона должны иметь поля OrderID, Contact, Items, SubTotal, Tax, Total,
// ValidUntil, Notes, PaymentLink и IssuedAt.
type HTMLRenderer struct {
	templates map[string]*template.Template
}

// NewHTMLRenderer разбирает встроенные шаблоны estimate и invoice.
func NewHTMLRenderer() (*HTMLRenderer, error) {
	r := &HTMLRenderer{templates: make(map[string]*template.Template, len(documentTitles))}
	for name, parts := range documentTitles {
		tpl, err := template.New(name).Funcs(funcs).Parse(documentLayout)
		if err != nil {
			return nil, fmt.Errorf("parse %s layout: %w", name, err)
		}
		if _, err := tpl.Parse(parts); err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		r.templates[name] = tpl
	}
	return r, nil
}

// Render возвращает HTML документа.
func (r *HTMLRenderer) Render(_ context.Context, name string, data any) ([]byte, error) {
	tpl, ok := r.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute %s template: %w", name, err)
	}
	return buf.Bytes(), nil
}
