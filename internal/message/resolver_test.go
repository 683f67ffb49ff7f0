package message

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestResolveAliases(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status string
		want   Type
	}{
		{status: "", want: TypeNewOrder},
		{status: "   ", want: TypeNewOrder},
		{status: "جديد", want: TypeNewOrder},
		{status: "طلب جديد", want: TypeNewOrder},
		{status: "لم يرد", want: TypeNoAnswer},
		{status: "تم الشحن", want: TypeShipped},
		{status: " تم الشحن ", want: TypeShipped},
		{status: "رفض العرض", want: TypeRejectedOffer},
		{status: "مرفوض", want: TypeRejectedOffer},
		{status: "أي حاجة تانية", want: TypeUnknown},
		{status: "SHIPPED", want: TypeUnknown}, // matching is case-sensitive
	}

	for _, tt := range tests {
		if got := Resolve(tt.status); got != tt.want {
			t.Fatalf("Resolve(%q) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestResolveEmptyNeverUnknown(t *testing.T) {
	t.Parallel()
	if got := Resolve(""); got == TypeUnknown {
		t.Fatal("empty status must not resolve to unknown")
	}
}

func TestRenderSubstitution(t *testing.T) {
	t.Parallel()
	f := Fields{
		Name:        "أحمد",
		OrderID:     "A17",
		ProductName: "ساعة",
		TotalPrice:  decimal.NewFromInt(500),
		HasPrice:    true,
	}
	got := Render("{name}|{orderId}|{productName}|{amount}|{discountedAmount}", f)
	want := "أحمد|A17|ساعة|500|400"
	if got != want {
		t.Fatalf("Render = %q, want %q", got, want)
	}
}

func TestRenderDiscountRounding(t *testing.T) {
	t.Parallel()
	f := Fields{
		OrderID:    "B2",
		TotalPrice: decimal.RequireFromString("249.99"),
		HasPrice:   true,
	}
	// 249.99 * 0.8 = 199.992 -> 200 after rounding.
	got := Render("{discountedAmount}", f)
	if got != "200" {
		t.Fatalf("discounted = %q, want 200", got)
	}
}

func TestRenderMissingOptionalFields(t *testing.T) {
	t.Parallel()
	got := Render("{name}/{amount}/{productName}/{trackingNumber}", Fields{OrderID: "C3"})
	want := "N/A/N/A/" + fallbackProduct + "/N/A"
	if got != want {
		t.Fatalf("Render = %q, want %q", got, want)
	}
}
