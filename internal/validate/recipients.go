package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ezmail/ezmail/internal/apperr"
)

// MaxRecipients caps the number of distinct recipients per message
const MaxRecipients = 100

// addressPattern is a basic local@domain shape: no whitespace, exactly one @,
// and a domain made of non-empty dot-separated labels.
var addressPattern = regexp.MustCompile(`^[^\s@]+@[^\s@.]+(\.[^\s@.]+)*$`)

// ParseRecipients splits a comma or semicolon separated recipient field into
// trimmed, non-empty entries.
func ParseRecipients(field string) []string {
	parts := strings.FieldsFunc(field, func(r rune) bool {
		return r == ',' || r == ';'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Recipients validates a recipient list and returns it with surrounding space
// trimmed and case-insensitive duplicates removed, keeping first occurrences
// in order.
func Recipients(recipients []string) ([]string, error) {
	seen := make(map[string]struct{}, len(recipients))
	out := make([]string, 0, len(recipients))
	var invalid []string

	for _, r := range recipients {
		addr := strings.TrimSpace(r)
		if addr == "" {
			continue
		}
		if !wellFormed(addr) {
			invalid = append(invalid, strings.ToValidUTF8(addr, "\uFFFD"))
			continue
		}
		key := strings.ToLower(addr)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, addr)
	}

	switch {
	case len(invalid) > 0:
		return nil, apperr.New(apperr.KindValidation, apperr.ReasonInvalidRecipients,
			fmt.Sprintf("invalid recipient address: %s", strings.Join(invalid, ", ")))
	case len(out) == 0:
		return nil, apperr.New(apperr.KindValidation, apperr.ReasonInvalidRecipients, "at least one recipient is required")
	case len(out) > MaxRecipients:
		return nil, apperr.New(apperr.KindValidation, apperr.ReasonInvalidRecipients,
			fmt.Sprintf("too many recipients: %d (max %d)", len(out), MaxRecipients))
	}
	return out, nil
}

// wellFormed reports whether addr is valid UTF-8 without control characters
// and has the local@domain shape.
func wellFormed(addr string) bool {
	if !utf8.ValidString(addr) || strings.IndexFunc(addr, unicode.IsControl) >= 0 {
		return false
	}
	return addressPattern.MatchString(addr)
}
