package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"isla-market/internal/models"

	"github.com/shopspring/decimal"
)

const (
	TemplateOrderConfirmation = "order_confirmation"
	TemplateOrderCancelled    = "order_cancelled"
)

var templates = template.Must(template.New("emails").Funcs(template.FuncMap{
	"money": FormatMoney,
}).Parse(`
{{define "order_confirmation"}}<h1>¡Gracias por tu compra, {{.CustomerName}}!</h1>
<p>Recibimos tu pedido #{{.OrderID}}.</p>
<table>
{{range .Items}}<tr><td>{{.ProductName}}</td><td>{{.Quantity}}</td><td>{{money .UnitPrice}}</td></tr>
{{end}}</table>
<p><strong>Total: {{money .TotalAmount}}</strong></p>
{{end}}
{{define "order_cancelled"}}<h1>Pedido #{{.OrderID}} cancelado</h1>
<p>Cliente: {{.CustomerEmail}}</p>
<p>Total: {{money .TotalAmount}}</p>
{{if .Reason}}<p>Motivo: {{.Reason}}</p>{{end}}
{{end}}
`))

// FormatMoney renders minor units as a dollar amount, 1250 -> "$12.50"
func FormatMoney(cents int64) string {
	return "$" + decimal.New(cents, -2).StringFixed(2)
}

func render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}

// OrderConfirmation builds the customer email for a new order
func OrderConfirmation(event *models.OrderCreatedEvent) (Email, error) {
	html, err := render(TemplateOrderConfirmation, event)
	if err != nil {
		return Email{}, err
	}
	return Email{
		To:      []string{event.CustomerEmail},
		Subject: fmt.Sprintf("Confirmación de pedido #%d", event.OrderID),
		HTML:    html,
		Text:    fmt.Sprintf("Recibimos tu pedido #%d. Total: %s", event.OrderID, FormatMoney(event.TotalAmount)),
	}, nil
}

// OrderCancelled builds the admin notification for a cancelled order
func OrderCancelled(event *models.OrderCancelledEvent, adminEmail string) (Email, error) {
	html, err := render(TemplateOrderCancelled, event)
	if err != nil {
		return Email{}, err
	}
	return Email{
		To:      []string{adminEmail},
		Subject: fmt.Sprintf("Pedido #%d cancelado", event.OrderID),
		HTML:    html,
	}, nil
}
