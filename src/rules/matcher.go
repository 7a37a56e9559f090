package rules

import "strings"

// MatchContext carries the optional transaction context used by rule
// filters. A nil Amount skips amount-range filters; an empty AccountType
// skips account-type filters.
type MatchContext struct {
	Amount      *float64
	AccountType string
}

// MatchPattern tests a merchant string against a wildcard pattern.
// `*` matches any sequence of characters and matching is case-insensitive.
// A pattern without `*` must equal the merchant exactly; a pattern that does
// not start with `*` is anchored at the beginning of the merchant.
func MatchPattern(pattern, merchant string) bool {
	p := strings.ToUpper(strings.TrimSpace(pattern))
	m := strings.ToUpper(strings.TrimSpace(merchant))
	if p == "" {
		return false
	}
	if !strings.Contains(p, "*") {
		return p == m
	}

	parts := strings.Split(p, "*")

	// Leading segment is anchored at the start.
	if parts[0] != "" {
		if !strings.HasPrefix(m, parts[0]) {
			return false
		}
		m = m[len(parts[0]):]
	}
	parts = parts[1:]

	// Trailing segment is anchored at the end.
	last := parts[len(parts)-1]
	if last != "" {
		if !strings.HasSuffix(m, last) {
			return false
		}
		m = m[:len(m)-len(last)]
	}
	parts = parts[:len(parts)-1]

	// Interior segments must appear in order.
	for _, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(m, part)
		if idx < 0 {
			return false
		}
		m = m[idx+len(part):]
	}
	return true
}

// amountWithinBounds applies a rule's optional amount-range filter. Expense
// amounts are stored signed negative, so bounds compare against the negated
// amount (the positive spend).
func amountWithinBounds(amount float64, minAmount, maxAmount *float64) bool {
	if minAmount == nil && maxAmount == nil {
		return true
	}
	spend := -amount
	if minAmount != nil && spend < *minAmount {
		return false
	}
	if maxAmount != nil && spend > *maxAmount {
		return false
	}
	return true
}

// accountTypeAllowed applies a rule's optional account-type filter. When the
// context carries no account type the filter is treated as not applied.
func accountTypeAllowed(filter, accountType string) bool {
	if filter == "" || accountType == "" {
		return true
	}
	return strings.EqualFold(filter, accountType)
}
