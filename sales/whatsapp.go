package sales

import "strings"

// DefaultWhatsappPattern is the salesperson text that marks an assisted sale.
const DefaultWhatsappPattern = "whatsapp"

// WhatsappMatcher recognizes Whatsapp-assisted sales from salesperson text.
// Matching is a case-insensitive substring test.
type WhatsappMatcher struct {
	pattern string
}

func NewWhatsappMatcher(pattern string) WhatsappMatcher {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		pattern = DefaultWhatsappPattern
	}
	return WhatsappMatcher{pattern: pattern}
}

// Matches reports whether salesPerson names a Whatsapp-assisted sale.
func (m WhatsappMatcher) Matches(salesPerson string) bool {
	p := m.pattern
	if p == "" {
		p = DefaultWhatsappPattern
	}
	return strings.Contains(strings.ToLower(salesPerson), p)
}
