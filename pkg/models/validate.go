package models

import (
	"fmt"
	"regexp"

	"github.com/nyaruka/phonenumbers"
)

var (
	identifierPattern = regexp.MustCompile(`^[0-9]{7}[A-Za-z]$`)
	npkPattern        = regexp.MustCompile(`^\d+(\.\d+)?-\d+(\.\d+)?-\d+(\.\d+)?$`)
)

// phoneRegions are the regions a label phone number may belong to.
var phoneRegions = map[string]bool{"CA": true, "US": true}

// ValidationKind classifies a ValidationError.
type ValidationKind string

const (
	ValidationSyntax ValidationKind = "json_syntax" // input is not JSON
	ValidationSchema ValidationKind = "schema"      // wrong type, enum or pattern
	ValidationFormat ValidationKind = "format"      // identifier or npk shape
	ValidationPhone  ValidationKind = "phone"       // unparsable or foreign phone number
)

// ValidationError represents a LabelData that failed validation.
type ValidationError struct {
	Kind    ValidationKind
	Path    string // e.g. organizations[0].phone_number, empty for the document root
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("label validation failed (%s): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("label validation failed (%s) at %s: %s", e.Kind, e.Path, e.Message)
}

// Reason is a short description suitable for feeding back to the model.
func (e *ValidationError) Reason() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// Validate checks the invariants of a LabelData built in code. Phone numbers
// must already be in E.164 form.
func (l *LabelData) Validate() error {
	if err := l.checkFormats(); err != nil {
		return err
	}

	for i, org := range l.Organizations {
		if org.PhoneNumber == nil {
			continue
		}
		e164, err := normalizePhone(*org.PhoneNumber)
		if err != nil {
			return phoneError(i, err.Error())
		}
		if e164 != *org.PhoneNumber {
			return phoneError(i, "phone number is not in E.164 form")
		}
	}
	return nil
}

// canonicalize validates formats and rewrites phone numbers to E.164.
func (l *LabelData) canonicalize() error {
	if err := l.checkFormats(); err != nil {
		return err
	}

	for i := range l.Organizations {
		org := &l.Organizations[i]
		if org.PhoneNumber == nil {
			continue
		}
		e164, err := normalizePhone(*org.PhoneNumber)
		if err != nil {
			return phoneError(i, err.Error())
		}
		org.PhoneNumber = &e164
	}
	return nil
}

func (l *LabelData) checkFormats() error {
	for i, reg := range l.RegistrationNumber {
		if reg.Type != RegistrationFertilizerProduct && reg.Type != RegistrationIngredientComponent {
			return &ValidationError{
				Kind:    ValidationFormat,
				Path:    fmt.Sprintf("registration_number[%d].type", i),
				Message: fmt.Sprintf("unknown registration type %q", reg.Type),
			}
		}
		if reg.Identifier != nil && !identifierPattern.MatchString(*reg.Identifier) {
			return &ValidationError{
				Kind:    ValidationFormat,
				Path:    fmt.Sprintf("registration_number[%d].identifier", i),
				Message: fmt.Sprintf("%q is not seven digits followed by one letter", *reg.Identifier),
			}
		}
	}

	if l.NPK != nil && !npkPattern.MatchString(*l.NPK) {
		return &ValidationError{
			Kind:    ValidationFormat,
			Path:    "npk",
			Message: fmt.Sprintf("%q is not an N-P-K ratio", *l.NPK),
		}
	}
	return nil
}

func normalizePhone(raw string) (string, error) {
	num, err := phonenumbers.Parse(raw, "CA")
	if err != nil {
		return "", fmt.Errorf("cannot parse %q: %v", raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("%q is not a valid phone number", raw)
	}
	if region := phonenumbers.GetRegionCodeForNumber(num); !phoneRegions[region] {
		return "", fmt.Errorf("%q belongs to region %s, expected US or CA", raw, region)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func phoneError(i int, msg string) *ValidationError {
	return &ValidationError{
		Kind:    ValidationPhone,
		Path:    fmt.Sprintf("organizations[%d].phone_number", i),
		Message: msg,
	}
}
