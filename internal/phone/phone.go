package phone

import (
	"fmt"
	"strings"
)

// Canonical is the outcome of normalizing a single raw phone number.
//
// Normalized holds the full international format ("+20" + 10 local digits)
// and is only meaningful when IsValid is true. ValidationErrors lists every
// rule the input violated, not just the first one.
type Canonical struct {
	Raw              string
	Normalized       string
	CountryCode      string
	IsValid          bool
	ValidationErrors []string
}

// Analysis classifies an arbitrary phone-like input.
type Analysis struct {
	Input            string
	IsValid          bool
	ValidationErrors []string
	CountryCode      string
	CountryName      string
}

// Result reconciles two candidate numbers into one preferred value.
//
// Log is an ordered, human-readable audit trail of every decision taken;
// it is produced on success as well as on failure.
type Result struct {
	Preferred Canonical
	// Source names the field the preferred number came from
	// ("whatsapp", "phone", or "" when neither validated).
	Source string
	Log    []string
}

const egyptCountryCode = "+20"

// egyptLocalDigits is the required local length after prefix stripping.
const egyptLocalDigits = 10

// countryPrefixes maps recognized international prefixes to country names.
// Kept small on purpose: only regions that actually appear in the order feed.
var countryPrefixes = []struct {
	code string
	name string
}{
	{"20", "Egypt"},
	{"966", "Saudi Arabia"},
	{"971", "United Arab Emirates"},
	{"965", "Kuwait"},
	{"974", "Qatar"},
	{"962", "Jordan"},
}

// digitsOf strips every non-digit character (spaces, dashes, parens, "+").
func digitsOf(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func hasNonDialRune(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return true
		}
	}
	return false
}

// Analyze classifies a raw input without assuming a target region:
// empty, malformed, too short, too long, or a recognized country prefix.
func Analyze(number string) Analysis {
	a := Analysis{Input: number}
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		a.ValidationErrors = append(a.ValidationErrors, "number is empty")
		return a
	}
	if hasNonDialRune(trimmed) {
		a.ValidationErrors = append(a.ValidationErrors, "number contains non-digit characters")
	}
	digits := digitsOf(trimmed)
	if len(digits) < 7 {
		a.ValidationErrors = append(a.ValidationErrors, fmt.Sprintf("number too short (%d digits)", len(digits)))
	}
	if len(digits) > 15 {
		a.ValidationErrors = append(a.ValidationErrors, fmt.Sprintf("number too long (%d digits)", len(digits)))
	}

	intl := strings.HasPrefix(trimmed, "+") || strings.HasPrefix(digits, "00")
	probe := digits
	if strings.HasPrefix(probe, "00") {
		probe = probe[2:]
	}
	if intl {
		for _, p := range countryPrefixes {
			if strings.HasPrefix(probe, p.code) {
				a.CountryCode = "+" + p.code
				a.CountryName = p.name
				break
			}
		}
	} else if strings.HasPrefix(probe, "20") && len(probe) == 12 {
		// Bare "20xxxxxxxxxx" is common in sheet exports.
		a.CountryCode = egyptCountryCode
		a.CountryName = "Egypt"
	}

	a.IsValid = len(a.ValidationErrors) == 0
	return a
}

// ValidateEgyptianNumber normalizes a raw number to the canonical Egyptian
// international format.
//
// Normalization steps: drop all non-digit characters, strip one leading
// international prefix ("0020" or "20") or the trunk "0", then require
// exactly 10 remaining digits starting with "1". The canonical output is
// "+20" followed by those 10 digits, so re-validating an already-canonical
// number is a no-op.
func ValidateEgyptianNumber(number string) Canonical {
	c := Canonical{Raw: number, CountryCode: egyptCountryCode}

	digits := digitsOf(number)
	if digits == "" {
		c.ValidationErrors = append(c.ValidationErrors, "number is empty")
		return c
	}

	local := stripEgyptPrefix(digits)

	if len(local) != egyptLocalDigits {
		c.ValidationErrors = append(c.ValidationErrors,
			fmt.Sprintf("expected %d local digits, got %d", egyptLocalDigits, len(local)))
	}
	if !strings.HasPrefix(local, "1") {
		c.ValidationErrors = append(c.ValidationErrors, "local number must start with 1")
	}

	if len(c.ValidationErrors) > 0 {
		return c
	}

	c.IsValid = true
	c.Normalized = egyptCountryCode + local
	return c
}

func stripEgyptPrefix(digits string) string {
	switch {
	case strings.HasPrefix(digits, "0020"):
		return digits[4:]
	case strings.HasPrefix(digits, "20") && len(digits) > egyptLocalDigits:
		return digits[2:]
	case strings.HasPrefix(digits, "0"):
		return digits[1:]
	default:
		return digits
	}
}

// ProcessTwoNumbers reconciles the two candidate fields of an order row
// into one canonical number.
//
// Preference order: whichever field independently validates; when both do,
// the whatsapp field wins (it is where customers expect to be reached).
// When neither validates the result is invalid and Log explains each
// rejection.
func ProcessTwoNumbers(phoneRaw, whatsappRaw string) Result {
	var r Result

	r.Log = append(r.Log, fmt.Sprintf("candidates: phone=%q whatsapp=%q", phoneRaw, whatsappRaw))

	wa := ValidateEgyptianNumber(whatsappRaw)
	ph := ValidateEgyptianNumber(phoneRaw)

	if wa.IsValid {
		r.Log = append(r.Log, fmt.Sprintf("whatsapp field valid: %s", wa.Normalized))
	} else {
		r.Log = append(r.Log, fmt.Sprintf("whatsapp field rejected: %s", strings.Join(wa.ValidationErrors, "; ")))
	}
	if ph.IsValid {
		r.Log = append(r.Log, fmt.Sprintf("phone field valid: %s", ph.Normalized))
	} else {
		r.Log = append(r.Log, fmt.Sprintf("phone field rejected: %s", strings.Join(ph.ValidationErrors, "; ")))
	}

	switch {
	case wa.IsValid:
		r.Preferred = wa
		r.Source = "whatsapp"
		r.Log = append(r.Log, "preferred whatsapp field")
	case ph.IsValid:
		r.Preferred = ph
		r.Source = "phone"
		r.Log = append(r.Log, "preferred phone field")
	default:
		// Keep the whatsapp rejection as the surfaced error set; it is the
		// primary field.
		r.Preferred = wa
		r.Log = append(r.Log, "no valid candidate")
	}
	return r
}
