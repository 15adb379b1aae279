// Package email provides email templates.
package email

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/loomshop/loomshop/internal/models"
)

// OrderInfo carries the pre-formatted values the templates interpolate.
// Money fields are already rendered as display strings so the templates
// stay free of currency logic.
type OrderInfo struct {
	OrderID       string
	ShortID       string
	OrderDate     string
	CustomerName  string
	CustomerEmail string
	ShopName      string
	ShopURL       string
	Status        string
	StatusLabel   string
	PaymentMode   string
	Items         []LineItem
	Subtotal      string
	Shipping      string
	Total         string
}

// LineItem is a single rendered order line.
type LineItem struct {
	Title     string
	Size      string
	Quantity  int
	UnitPrice string
	LineTotal string
}

// Renderer renders the built-in order email templates.
type Renderer struct {
	templates *template.Template
	shopName  string
	shopURL   string
}

// NewRenderer parses the built-in templates once.
func NewRenderer(shopName, shopURL string) (*Renderer, error) {
	sources := map[string]string{
		"order_confirmation_text": orderConfirmationText,
		"order_confirmation_html": orderConfirmationHTML,
		"order_status_text":       orderStatusText,
		"order_status_html":       orderStatusHTML,
		"admin_order_alert_text":  adminOrderAlertText,
		"admin_order_alert_html":  adminOrderAlertHTML,
	}

	tmpl := template.New("email")
	for name, src := range sources {
		if _, err := tmpl.New(name).Parse(src); err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
	}

	return &Renderer{templates: tmpl, shopName: shopName, shopURL: shopURL}, nil
}

// CustomerEmail renders the customer-facing email for a notification kind.
// Kind "created" is the order confirmation; "status:<value>" kinds render
// the generic status update.
func (r *Renderer) CustomerEmail(kind string, order *models.Order) (*Email, error) {
	info := r.orderInfo(order, kind)

	var name, subject string
	switch {
	case kind == models.KindCreated:
		name = "order_confirmation"
		subject = fmt.Sprintf("Order Confirmed - %s - %s", info.ShortID, r.shopName)
	case strings.HasPrefix(kind, "status:"):
		name = "order_status"
		subject = fmt.Sprintf("Order %s - %s - %s", info.StatusLabel, info.ShortID, r.shopName)
	default:
		return nil, fmt.Errorf("no customer template for notification kind %q", kind)
	}

	text, html, err := r.execute(name, info)
	if err != nil {
		return nil, err
	}

	return &Email{
		To:      order.Customer.Email,
		Subject: subject,
		Text:    text,
		HTML:    html,
	}, nil
}

// AdminEmail renders the back-office alert for a notification kind.
func (r *Renderer) AdminEmail(kind string, order *models.Order, adminTo string) (*Email, error) {
	info := r.orderInfo(order, kind)

	subject := fmt.Sprintf("New order %s - %s", info.ShortID, info.Total)
	if strings.HasPrefix(kind, "status:") {
		subject = fmt.Sprintf("Order %s is now %s", info.ShortID, info.Status)
	}
	if order.IsTestPayment() {
		subject = "[TEST] " + subject
	}

	text, html, err := r.execute("admin_order_alert", info)
	if err != nil {
		return nil, err
	}

	return &Email{
		To:      adminTo,
		Subject: subject,
		Text:    text,
		HTML:    html,
	}, nil
}

func (r *Renderer) execute(name string, info *OrderInfo) (text, html string, err error) {
	var textBuf, htmlBuf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&textBuf, name+"_text", info); err != nil {
		return "", "", fmt.Errorf("failed to render text template: %w", err)
	}
	if err := r.templates.ExecuteTemplate(&htmlBuf, name+"_html", info); err != nil {
		return "", "", fmt.Errorf("failed to render HTML template: %w", err)
	}
	return textBuf.String(), htmlBuf.String(), nil
}

func (r *Renderer) orderInfo(order *models.Order, kind string) *OrderInfo {
	currency := order.Amounts.Currency
	status := string(order.Status)
	if v, ok := strings.CutPrefix(kind, "status:"); ok {
		status = v
	}

	info := &OrderInfo{
		OrderID:       order.ID.String(),
		ShortID:       ShortOrderID(order.ID.String()),
		OrderDate:     order.CreatedAt.Format("January 2, 2006"),
		CustomerName:  order.Customer.Name,
		CustomerEmail: order.Customer.Email,
		ShopName:      r.shopName,
		ShopURL:       r.shopURL,
		Status:        status,
		StatusLabel:   statusLabel(status),
		PaymentMode:   order.Payment.Mode,
		Subtotal:      FormatCents(order.Amounts.SubtotalCents, currency),
		Shipping:      FormatCents(order.Amounts.ShippingCents, currency),
		Total:         FormatCents(order.Amounts.TotalCents, currency),
	}

	for _, item := range order.Items {
		info.Items = append(info.Items, LineItem{
			Title:     item.Title,
			Size:      item.Size,
			Quantity:  item.Qty,
			UnitPrice: FormatCents(item.UnitPriceCents, currency),
			LineTotal: FormatCents(item.UnitPriceCents*int64(item.Qty), currency),
		})
	}

	return info
}

// ShortOrderID trims a UUID down to the prefix shown in subjects and
// admin views.
func ShortOrderID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return strings.ToUpper(id[:i])
	}
	if len(id) > 8 {
		return strings.ToUpper(id[:8])
	}
	return strings.ToUpper(id)
}

// FormatCents renders an integer-cents amount for display.
func FormatCents(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}

	symbol := currency + " "
	switch strings.ToUpper(currency) {
	case "USD", "CAD", "AUD":
		symbol = "$"
	case "EUR":
		symbol = "€"
	case "GBP":
		symbol = "£"
	case "INR":
		symbol = "₹"
	}

	return fmt.Sprintf("%s%s%d.%02d", sign, symbol, cents/100, cents%100)
}

func statusLabel(status string) string {
	switch status {
	case "processing":
		return "Being Prepared"
	case "shipped":
		return "Shipped"
	case "delivered":
		return "Delivered"
	case "paid":
		return "Confirmed"
	default:
		if status == "" {
			return ""
		}
		return strings.ToUpper(status[:1]) + status[1:]
	}
}

const orderConfirmationText = `Thank you for your order!

Order: {{.ShortID}}
Placed: {{.OrderDate}}

Items:
{{range .Items}}- {{.Title}}{{if .Size}} ({{.Size}}){{end}} x{{.Quantity}} - {{.LineTotal}}
{{end}}
Subtotal: {{.Subtotal}}
Shipping: {{.Shipping}}
Total: {{.Total}}

We'll email you again when your order ships.

Thanks for shopping with {{.ShopName}}!
{{.ShopURL}}
`

const orderConfirmationHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Order Confirmed</title>
  <style>
    body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: #1f2937; color: white; padding: 20px; text-align: center; border-radius: 8px 8px 0 0; }
    .content { background: #f9fafb; padding: 20px; border: 1px solid #e5e7eb; }
    table { width: 100%; border-collapse: collapse; margin: 15px 0; }
    th { text-align: left; padding: 8px; border-bottom: 2px solid #e5e7eb; }
    td { padding: 8px; border-bottom: 1px solid #e5e7eb; }
    .total { text-align: right; font-weight: bold; }
    .footer { text-align: center; padding: 16px; color: #6b7280; font-size: 13px; }
  </style>
</head>
<body>
  <div class="header">
    <h1>Order Confirmed</h1>
    <p>Thank you, {{.CustomerName}}</p>
  </div>
  <div class="content">
    <p><strong>Order:</strong> {{.ShortID}}<br><strong>Placed:</strong> {{.OrderDate}}</p>
    <table>
      <tr><th>Item</th><th>Qty</th><th>Price</th></tr>
      {{range .Items}}<tr><td>{{.Title}}{{if .Size}} <small>({{.Size}})</small>{{end}}</td><td>{{.Quantity}}</td><td>{{.LineTotal}}</td></tr>
      {{end}}
    </table>
    <p class="total">Subtotal: {{.Subtotal}}<br>Shipping: {{.Shipping}}<br>Total: {{.Total}}</p>
  </div>
  <div class="footer">{{.ShopName}} &middot; <a href="{{.ShopURL}}">{{.ShopURL}}</a></div>
</body>
</html>
`

const orderStatusText = `Hi {{.CustomerName}},

Your order {{.ShortID}} is now: {{.StatusLabel}}.

Total: {{.Total}}

Thanks for shopping with {{.ShopName}}!
{{.ShopURL}}
`

const orderStatusHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Order Update</title>
  <style>
    body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
    .badge { display: inline-block; background: #2563eb; color: white; padding: 6px 14px; border-radius: 9999px; }
    .footer { text-align: center; padding: 16px; color: #6b7280; font-size: 13px; }
  </style>
</head>
<body>
  <h1>Order Update</h1>
  <p>Hi {{.CustomerName}},</p>
  <p>Your order <strong>{{.ShortID}}</strong> is now <span class="badge">{{.StatusLabel}}</span>.</p>
  <p>Total: {{.Total}}</p>
  <div class="footer">{{.ShopName}} &middot; <a href="{{.ShopURL}}">{{.ShopURL}}</a></div>
</body>
</html>
`

const adminOrderAlertText = `Order {{.ShortID}} ({{.Status}})

Customer: {{.CustomerName}} <{{.CustomerEmail}}>
Placed: {{.OrderDate}}
Payment mode: {{.PaymentMode}}

Items:
{{range .Items}}- {{.Title}}{{if .Size}} ({{.Size}}){{end}} x{{.Quantity}} - {{.LineTotal}}
{{end}}
Subtotal: {{.Subtotal}}
Shipping: {{.Shipping}}
Total: {{.Total}}

Order ID: {{.OrderID}}
`

const adminOrderAlertHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Order Alert</title>
  <style>
    body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
    table { width: 100%; border-collapse: collapse; margin: 15px 0; }
    td, th { text-align: left; padding: 6px; border-bottom: 1px solid #e5e7eb; }
  </style>
</head>
<body>
  <h2>Order {{.ShortID}} ({{.Status}})</h2>
  <p>{{.CustomerName}} &lt;{{.CustomerEmail}}&gt;<br>Placed {{.OrderDate}} &middot; mode: {{.PaymentMode}}</p>
  <table>
    <tr><th>Item</th><th>Qty</th><th>Price</th></tr>
    {{range .Items}}<tr><td>{{.Title}}{{if .Size}} ({{.Size}}){{end}}</td><td>{{.Quantity}}</td><td>{{.LineTotal}}</td></tr>
    {{end}}
  </table>
  <p>Subtotal: {{.Subtotal}}<br>Shipping: {{.Shipping}}<br><strong>Total: {{.Total}}</strong></p>
  <p><small>Order ID: {{.OrderID}}</small></p>
</body>
</html>
`
