package mailer

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/shopspring/decimal"
)

// PayoutReceiptData is what a payout receipt shows.
type PayoutReceiptData struct {
	RecipientName  string
	AmountCents    int64
	Currency       string
	Reference      string
	TransactionID  string
	Provider       string
	SettlementFrom time.Time
	SettlementTo   time.Time
	CompletedAt    time.Time
	SupportEmail   string
}

// OrderConfirmationItem is one line of an order confirmation.
type OrderConfirmationItem struct {
	Name        string
	Quantity    int
	Subtotal    decimal.Decimal
	DownloadURL string
}

type OrderConfirmationData struct {
	BuyerName    string
	OrderNumber  string
	Currency     string
	Total        decimal.Decimal
	PaidAt       time.Time
	Items        []OrderConfirmationItem
	SupportEmail string
}

// Rendered is a subject with its HTML and plain text bodies.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

var funcs = map[string]interface{}{
	"money":   formatMinor,
	"decimal": formatDecimal,
	"date":    formatDate,
	"greet":   greeting,
}

const payoutReceiptHTML = `<!doctype html>
<html lang="en">
<body style="font-family: Helvetica, Arial, sans-serif; color: #111827;">
  <p>{{greet .RecipientName}}</p>
  <p>Your payout of <strong>{{money .AmountCents .Currency}}</strong> has been sent.</p>
  <table style="border-collapse: collapse; font-size: 14px;">
    <tr><td style="padding: 4px 12px 4px 0; color: #6b7280;">Settlement period</td><td>{{date .SettlementFrom}} to {{date .SettlementTo}}</td></tr>
    <tr><td style="padding: 4px 12px 4px 0; color: #6b7280;">Reference</td><td>{{.Reference}}</td></tr>
    <tr><td style="padding: 4px 12px 4px 0; color: #6b7280;">Provider</td><td>{{.Provider}}</td></tr>
    <tr><td style="padding: 4px 12px 4px 0; color: #6b7280;">Completed</td><td>{{date .CompletedAt}}</td></tr>
  </table>
  {{if .SupportEmail}}<p>Questions? Reply to <a href="mailto:{{.SupportEmail}}">{{.SupportEmail}}</a>.</p>{{end}}
</body>
</html>`

const payoutReceiptText = `{{greet .RecipientName}}

Your payout of {{money .AmountCents .Currency}} has been sent.

Settlement period: {{date .SettlementFrom}} to {{date .SettlementTo}}
Reference: {{.Reference}}
Provider: {{.Provider}}
Completed: {{date .CompletedAt}}
{{if .SupportEmail}}
Questions? Write to {{.SupportEmail}}.
{{end}}`

const orderConfirmationHTML = `<!doctype html>
<html lang="en">
<body style="font-family: Helvetica, Arial, sans-serif; color: #111827;">
  <p>{{greet .BuyerName}}</p>
  <p>Thanks for your purchase. Order <strong>{{.OrderNumber}}</strong> is confirmed.</p>
  <table style="border-collapse: collapse; font-size: 14px;">
    {{range .Items}}<tr>
      <td style="padding: 4px 12px 4px 0;">{{.Name}} x {{.Quantity}}</td>
      <td style="padding: 4px 12px 4px 0;">{{decimal .Subtotal $.Currency}}</td>
      <td>{{if .DownloadURL}}<a href="{{.DownloadURL}}">Download</a>{{end}}</td>
    </tr>{{end}}
  </table>
  <p>Total paid: <strong>{{decimal .Total .Currency}}</strong></p>
  {{if .SupportEmail}}<p>Need help? Contact <a href="mailto:{{.SupportEmail}}">{{.SupportEmail}}</a>.</p>{{end}}
</body>
</html>`

const orderConfirmationText = `{{greet .BuyerName}}

Thanks for your purchase. Order {{.OrderNumber}} is confirmed.
{{range .Items}}
- {{.Name}} x {{.Quantity}}: {{decimal .Subtotal $.Currency}}{{if .DownloadURL}} ({{.DownloadURL}}){{end}}{{end}}

Total paid: {{decimal .Total .Currency}}
{{if .SupportEmail}}
Need help? Contact {{.SupportEmail}}.
{{end}}`

var (
	payoutReceiptHTMLTpl     = htmltemplate.Must(htmltemplate.New("payout_receipt_html").Funcs(funcs).Parse(payoutReceiptHTML))
	payoutReceiptTextTpl     = texttemplate.Must(texttemplate.New("payout_receipt_text").Funcs(funcs).Parse(payoutReceiptText))
	orderConfirmationHTMLTpl = htmltemplate.Must(htmltemplate.New("order_confirmation_html").Funcs(funcs).Parse(orderConfirmationHTML))
	orderConfirmationTextTpl = texttemplate.Must(texttemplate.New("order_confirmation_text").Funcs(funcs).Parse(orderConfirmationText))
)

func RenderPayoutReceipt(data PayoutReceiptData) (Rendered, error) {
	var html, text bytes.Buffer
	if err := payoutReceiptHTMLTpl.Execute(&html, data); err != nil {
		return Rendered{}, fmt.Errorf("render payout receipt: %w", err)
	}
	if err := payoutReceiptTextTpl.Execute(&text, data); err != nil {
		return Rendered{}, fmt.Errorf("render payout receipt: %w", err)
	}
	return Rendered{
		Subject: fmt.Sprintf("Payout receipt: %s", formatMinor(data.AmountCents, data.Currency)),
		HTML:    html.String(),
		Text:    strings.TrimSpace(text.String()),
	}, nil
}

func RenderOrderConfirmation(data OrderConfirmationData) (Rendered, error) {
	var html, text bytes.Buffer
	if err := orderConfirmationHTMLTpl.Execute(&html, data); err != nil {
		return Rendered{}, fmt.Errorf("render order confirmation: %w", err)
	}
	if err := orderConfirmationTextTpl.Execute(&text, data); err != nil {
		return Rendered{}, fmt.Errorf("render order confirmation: %w", err)
	}
	return Rendered{
		Subject: fmt.Sprintf("Order %s confirmed", data.OrderNumber),
		HTML:    html.String(),
		Text:    strings.TrimSpace(text.String()),
	}, nil
}

func formatMinor(cents int64, currency string) string {
	return formatDecimal(decimal.New(cents, -2), currency)
}

func formatDecimal(amount decimal.Decimal, currency string) string {
	return fmt.Sprintf("%s %s", strings.ToUpper(currency), amount.StringFixed(2))
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("Jan 2, 2006")
}

func greeting(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return "Hello,"
	}
	return fmt.Sprintf("Hi %s,", name)
}
