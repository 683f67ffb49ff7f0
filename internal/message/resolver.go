package message

import "strings"

// Type is a canonical notification category. Template selection and
// duplicate-ledger keying are both driven by it.
type Type string

const (
	TypeNewOrder      Type = "newOrder"
	TypeNoAnswer      Type = "noAnswer"
	TypeShipped       Type = "shipped"
	TypeRejectedOffer Type = "rejectedOffer"
	TypeUnknown       Type = "unknown"
)

// Reminder jobs are keyed separately from their triggering status.
const ReminderKeyPrefix = "reminder_"

// Types lists every dispatchable category (unknown excluded).
func Types() []Type {
	return []Type{TypeNewOrder, TypeNoAnswer, TypeShipped, TypeRejectedOffer}
}

// aliases maps each category to the closed set of literal status strings the
// order sheet is known to use. Matching is exact membership after trimming,
// case-sensitive, never fuzzy: an auditable table beats clever matching here.
var aliases = map[Type][]string{
	TypeNewOrder: {
		"جديد",
		"طلب جديد",
		"new",
		"New",
	},
	TypeNoAnswer: {
		"لم يرد",
		"لا يرد",
		"عدم الرد",
		"no answer",
	},
	TypeShipped: {
		"تم الشحن",
		"جاري الشحن",
		"شحن",
		"shipped",
	},
	TypeRejectedOffer: {
		"رفض العرض",
		"مرفوض",
		"رفض الاستلام",
		"rejected",
	},
}

var aliasIndex = buildAliasIndex()

func buildAliasIndex() map[string]Type {
	idx := make(map[string]Type)
	for t, list := range aliases {
		for _, a := range list {
			idx[a] = t
		}
	}
	return idx
}

// Resolve maps a raw status string to its canonical category.
//
// An empty (or whitespace-only) status means the row was just created and
// the seller has not touched it yet, so it resolves to newOrder — never to
// unknown. Any other unrecognized status resolves to unknown.
func Resolve(status string) Type {
	s := strings.TrimSpace(status)
	if s == "" {
		return TypeNewOrder
	}
	if t, ok := aliasIndex[s]; ok {
		return t
	}
	return TypeUnknown
}

// Aliases returns the accepted literals for a category (for diagnostics).
func Aliases(t Type) []string {
	return append([]string(nil), aliases[t]...)
}
