package handler

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details"`
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		details[fe.Namespace()] = describeFieldError(fe)
	}
	return details
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid":
		return "must be a valid UUID"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	default:
		return fmt.Sprintf("failed on %q", fe.Tag())
	}
}

// validationCode reports the first failing field with the same code the
// service would use for it.
func validationCode(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return codeValidationFailed
	}
	switch errs[0].StructField() {
	case "Quantity":
		return codeInvalidQuantity
	case "ID":
		return codeInvalidProductID
	default:
		return codeValidationFailed
	}
}
