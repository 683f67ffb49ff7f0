package message

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Placeholders substituted by Render. Missing optional fields fall back to a
// locale default so a half-filled sheet row still renders a usable message.
const (
	placeholderName             = "{name}"
	placeholderOrderID          = "{orderId}"
	placeholderAmount           = "{amount}"
	placeholderProductName      = "{productName}"
	placeholderTrackingNumber   = "{trackingNumber}"
	placeholderDiscountedAmount = "{discountedAmount}"
)

const (
	fallbackValue   = "N/A"
	fallbackProduct = "المنتج"
)

// discountRate is applied to totalPrice for {discountedAmount} (the
// rejected-offer counter-offer). Result is rounded to whole currency units.
var discountRate = decimal.NewFromFloat(0.8)

// Fields carries the row values a template may reference.
type Fields struct {
	Name           string
	OrderID        string
	ProductName    string
	TrackingNumber string

	// TotalPrice is optional; HasPrice distinguishes "0" from "absent".
	TotalPrice decimal.Decimal
	HasPrice   bool
}

// Render substitutes every known placeholder in tpl.
func Render(tpl string, f Fields) string {
	amount := fallbackValue
	discounted := fallbackValue
	if f.HasPrice {
		amount = f.TotalPrice.String()
		discounted = f.TotalPrice.Mul(discountRate).Round(0).String()
	}

	product := strings.TrimSpace(f.ProductName)
	if product == "" {
		product = fallbackProduct
	}
	tracking := strings.TrimSpace(f.TrackingNumber)
	if tracking == "" {
		tracking = fallbackValue
	}
	name := strings.TrimSpace(f.Name)
	if name == "" {
		name = fallbackValue
	}

	r := strings.NewReplacer(
		placeholderName, name,
		placeholderOrderID, f.OrderID,
		placeholderAmount, amount,
		placeholderProductName, product,
		placeholderTrackingNumber, tracking,
		placeholderDiscountedAmount, discounted,
	)
	return r.Replace(tpl)
}

// DefaultTemplates returns the built-in message bodies, keyed by category.
// Operators normally override these from config.
func DefaultTemplates() map[Type]string {
	return map[Type]string{
		TypeNewOrder:      "مرحبا {name}! استلمنا طلبك رقم {orderId} ({productName}) بقيمة {amount} جنيه. سنتواصل معك لتأكيد الطلب.",
		TypeNoAnswer:      "مرحبا {name}، حاولنا الاتصال بك بخصوص طلبك رقم {orderId} ولم نتمكن من الوصول إليك. برجاء الرد أو مراسلتنا هنا.",
		TypeShipped:       "خبر سعيد يا {name}! تم شحن طلبك رقم {orderId} ({productName}). رقم التتبع: {trackingNumber}.",
		TypeRejectedOffer: "مرحبا {name}، بخصوص طلبك رقم {orderId}: يمكننا تقديم عرض خاص بسعر {discountedAmount} جنيه بدلا من {amount}. هل تود إعادة التأكيد؟",
	}
}

// ReminderTemplate is the follow-up sent after a noAnswer notification.
const ReminderTemplate = "تذكير: ما زال طلبك رقم {orderId} في انتظار تأكيدك يا {name}. راسلنا في أي وقت."
