// Package phone normalizes phone numbers to E.164.
package phone

import (
	"errors"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var ErrInvalid = errors.New("invalid phone number")

// Normalize parses raw relative to region (ISO 3166 alpha-2, e.g. "ES") and
// returns it in E.164 form, "+34600111222".
func Normalize(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalid
	}
	// "0034..." is common in Spanish contact lists
	if strings.HasPrefix(raw, "00") {
		raw = "+" + raw[2:]
	}
	num, err := phonenumbers.Parse(raw, strings.ToUpper(region))
	if err != nil {
		return "", ErrInvalid
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalid
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// Digits returns an E.164 number without the leading plus, the form the
// WhatsApp Cloud API expects in "to" and sends in "from".
func Digits(e164 string) string {
	return strings.TrimPrefix(e164, "+")
}

// FromDigits is the inverse of Digits.
func FromDigits(digits string) string {
	if strings.HasPrefix(digits, "+") {
		return digits
	}
	return "+" + digits
}
