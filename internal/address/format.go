package address

import "fmt"

// Formatter renders addresses for display using the operator locale.
type Formatter struct {
	CountryCode string
}

var defaultFormatter = Formatter{CountryCode: DefaultCountryCode}

// FormatAddress formats raw with the default locale.
func FormatAddress(raw string) string {
	return defaultFormatter.Format(raw)
}

// Format renders raw as "+CC (AA) NNNNN-NNNN" when it carries the locale
// country code, as "(AA) NNNN-NNNN" for other numbers with at least ten
// digits, and returns raw unchanged when no grouping applies.
func (f Formatter) Format(raw string) string {
	if raw == "" {
		return ""
	}
	cleaned := Digits(StripDevice(raw))
	cc := f.CountryCode
	if cc == "" {
		cc = DefaultCountryCode
	}

	if len(cleaned) > len(cc) && cleaned[:len(cc)] == cc {
		local := cleaned[len(cc):]
		switch len(local) {
		case 11:
			return fmt.Sprintf("+%s (%s) %s-%s", cc, local[:2], local[2:7], local[7:])
		case 10:
			return fmt.Sprintf("+%s (%s) %s-%s", cc, local[:2], local[2:6], local[6:])
		}
	}

	if n := len(cleaned); n >= 10 {
		area := cleaned[n-10 : n-8]
		number := cleaned[n-8:]
		return fmt.Sprintf("(%s) %s-%s", area, number[:4], number[4:])
	}

	return raw
}

// DisplayName derives a conversation's display name from its key. Groups are
// named after their group id.
func (f Formatter) DisplayName(key string) string {
	if g := ExtractGroupInfo(key); g != nil {
		return f.Format(g.GroupID)
	}
	return f.Format(key)
}
