package tool

import (
	"fmt"
	"regexp"
	"strings"
)

// RequireField returns an error if the string value is empty.
func RequireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("'%s' is required", name)
	}
	return nil
}

// RequireFields validates multiple required string fields at once,
// passed as alternating name, value pairs.
func RequireFields(kvs ...string) error {
	if len(kvs)%2 != 0 {
		return fmt.Errorf("RequireFields: odd number of arguments")
	}
	for i := 0; i < len(kvs); i += 2 {
		if strings.TrimSpace(kvs[i+1]) == "" {
			return fmt.Errorf("'%s' is required", kvs[i])
		}
	}
	return nil
}

// ValidateAll returns the first non-nil error from the given list.
func ValidateAll(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

var (
	phoneRe = regexp.MustCompile(`^\+?[0-9]{9,15}$`)
	dniRe   = regexp.MustCompile(`^[0-9]{8}$`)
	dateRe  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// ValidatePhone checks that value looks like a phone number in
// international digits form (as WhatsApp delivers it, e.g. "51987654321").
func ValidatePhone(name, value string) error {
	if value == "" {
		return nil
	}
	if !phoneRe.MatchString(value) {
		return fmt.Errorf("invalid %s: expected 9-15 digits", name)
	}
	return nil
}

// ValidateDNI checks that value is an 8-digit Peruvian DNI.
// An empty value is allowed (use RequireField to enforce presence).
func ValidateDNI(name, value string) error {
	if value == "" {
		return nil
	}
	if !dniRe.MatchString(value) {
		return fmt.Errorf("invalid %s: expected 8 digits", name)
	}
	return nil
}

// ValidateDate checks that value is in YYYY-MM-DD form.
// An empty value is allowed.
func ValidateDate(name, value string) error {
	if value == "" {
		return nil
	}
	if !dateRe.MatchString(value) {
		return fmt.Errorf("invalid %s: expected YYYY-MM-DD", name)
	}
	return nil
}
