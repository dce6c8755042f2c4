// CLAUDE:SUMMARY Request validation on go-playground/validator with readable field-level messages.
package stories

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// newValidator builds the validator instance the service shares. Struct
// tags on FetchRequest and DataQuery carry the rules.
func newValidator() *validator.Validate {
	return validator.New()
}

// checkStruct runs tag validation and wraps failures in ErrInvalidRequest
// with one readable fragment per failing field.
func checkStruct(v *validator.Validate, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, fieldMessage(fe))
		}
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(parts, "; "))
	}
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}

// fieldMessage renders one violation the way a caller reads it, without
// leaking struct internals.
func fieldMessage(fe validator.FieldError) string {
	field := jsonFieldName(fe.Field())
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must have at least %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}

// jsonFieldName lowercases the leading rune so messages match the JSON
// field names callers actually send.
func jsonFieldName(name string) string {
	if name == "" {
		return name
	}
	return strings.ToLower(name[:1]) + name[1:]
}
