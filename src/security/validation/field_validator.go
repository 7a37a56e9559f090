package validation

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

var ErrValidationFailed = fmt.Errorf("validation failed")

const (
	DefaultMaxStringLength = 255
	MaxMerchantLength      = 255
	MaxDescriptionLength   = 1024
	MaxNotesLength         = 2048
	MaxPatternLength       = 255
	MaxLastFourLength      = 4

	// Dates are stored as ISO 8601 calendar dates.
	DateLayout = "2006-01-02"
)

var transactionTypes = map[string]bool{
	"income":   true,
	"expense":  true,
	"payment":  true,
	"transfer": true,
	"interest": true,
	"fee":      true,
}

// ValidateStringNotEmpty checks if a string is not empty after trimming.
func ValidateStringNotEmpty(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrValidationFailed, fieldName)
	}
	return nil
}

// ValidateStringMaxLength checks if a string's UTF-8 character count is within max bounds.
func ValidateStringMaxLength(s string, maxLength int, fieldName string) error {
	if utf8.RuneCountInString(s) > maxLength {
		return fmt.Errorf("%w: %s exceeds maximum length of %d characters", ErrValidationFailed, fieldName, maxLength)
	}
	return nil
}

// ValidateDate checks a required ISO date field.
func ValidateDate(s, fieldName string) error {
	if err := ValidateStringNotEmpty(s, fieldName); err != nil {
		return err
	}
	if _, err := time.Parse(DateLayout, strings.TrimSpace(s)); err != nil {
		return fmt.Errorf("%w: %s ('%s') is not a valid date (expected YYYY-MM-DD)", ErrValidationFailed, fieldName, s)
	}
	return nil
}

// ValidateOptionalDate checks a date field that may be absent.
func ValidateOptionalDate(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return ValidateDate(s, fieldName)
}

// ValidateTransactionType enforces the closed type set. Synonyms such as
// "deposit" or "withdrawal" are rejected, never coerced.
func ValidateTransactionType(s string) error {
	if !transactionTypes[s] {
		return fmt.Errorf("%w: transaction_type ('%s') must be one of income, expense, payment, transfer, interest, fee", ErrValidationFailed, s)
	}
	return nil
}

// ValidateConfidence checks a confidence score lies in [0, 1].
func ValidateConfidence(v float64, fieldName string) error {
	if v < 0.0 || v > 1.0 {
		return fmt.Errorf("%w: %s must be between 0.0 and 1.0, got %.3f", ErrValidationFailed, fieldName, v)
	}
	return nil
}

// ValidateAmountRange checks optional min/max amount bounds on a rule.
func ValidateAmountRange(minAmount, maxAmount *float64) error {
	if minAmount != nil && *minAmount < 0 {
		return fmt.Errorf("%w: min_amount cannot be negative", ErrValidationFailed)
	}
	if maxAmount != nil && *maxAmount < 0 {
		return fmt.Errorf("%w: max_amount cannot be negative", ErrValidationFailed)
	}
	if minAmount != nil && maxAmount != nil && *minAmount > *maxAmount {
		return fmt.Errorf("%w: min_amount (%.2f) exceeds max_amount (%.2f)", ErrValidationFailed, *minAmount, *maxAmount)
	}
	return nil
}

// ValidateLastFour checks the optional last-four-digits field.
func ValidateLastFour(s string) error {
	if s == "" {
		return nil
	}
	if len(s) != 4 {
		return fmt.Errorf("%w: last_four must be exactly 4 characters", ErrValidationFailed)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: last_four must contain only digits", ErrValidationFailed)
		}
	}
	return nil
}
