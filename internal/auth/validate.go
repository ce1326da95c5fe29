package auth

import (
	"net/mail"
	"strconv"
	"strings"
	"unicode/utf8"

	"propman/internal/apperr"
)

const (
	minPasswordLength = 6
	maxPasswordLength = 120
	maxNameLength     = 50
	maxEmailLength    = 255
	maxPhoneLength    = 20
	maxAddressLength  = 255
)

// fieldErrors collects request problems so they are reported together.
type fieldErrors map[string]string

func (f fieldErrors) add(field, msg string) {
	if _, exists := f[field]; !exists {
		f[field] = msg
	}
}

func (f fieldErrors) required(field, value string) bool {
	if strings.TrimSpace(value) == "" {
		f.add(field, "must not be blank")
		return false
	}
	return true
}

func (f fieldErrors) maxLen(field, value string, max int) {
	if utf8.RuneCountInString(value) > max {
		f.add(field, "size must be at most "+strconv.Itoa(max))
	}
}

func (f fieldErrors) email(field, value string) {
	if !f.required(field, value) {
		return
	}
	f.maxLen(field, value, maxEmailLength)
	if !validEmail(value) {
		f.add(field, "must be a well-formed email address")
	}
}

func (f fieldErrors) password(field, value string) {
	if !f.required(field, value) {
		return
	}
	n := utf8.RuneCountInString(value)
	if n < minPasswordLength || n > maxPasswordLength {
		f.add(field, "Password must be between 6 and 120 characters")
	}
}

func (f fieldErrors) optional(field string, value *string, max int) {
	if value != nil {
		f.maxLen(field, *value, max)
	}
}

func (f fieldErrors) err() error {
	return apperr.Validation(f)
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == strings.TrimSpace(email)
}
