// internal/utils/validator.go
package utils

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	validate *validator.Validate

	usernamePattern        = regexp.MustCompile("^[a-zA-Z0-9_.-]+$")
	marketplaceCodePattern = regexp.MustCompile("^[A-Z0-9]{2,20}$")
)

func init() {
	validate = validator.New()
	// Amounts validate as floats so min/max/lt tags work on them.
	validate.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{}, decimal.NullDecimal{}, NullableDecimal{})
	validate.RegisterValidation("username", validateUsername)
	validate.RegisterValidation("marketplace_code", validateMarketplaceCode)
	validate.RegisterValidation("toggle", validateToggle)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

func decimalValue(field reflect.Value) interface{} {
	switch v := field.Interface().(type) {
	case decimal.Decimal:
		f, _ := v.Float64()
		return f
	case decimal.NullDecimal:
		if !v.Valid {
			return nil
		}
		f, _ := v.Decimal.Float64()
		return f
	case NullableDecimal:
		if !v.Present || !v.Value.Valid {
			return nil
		}
		f, _ := v.Value.Decimal.Float64()
		return f
	}
	return nil
}

func validateUsername(fl validator.FieldLevel) bool {
	username := fl.Field().String()
	if len(username) < 3 || len(username) > 50 {
		return false
	}
	return usernamePattern.MatchString(username)
}

func validateMarketplaceCode(fl validator.FieldLevel) bool {
	return marketplaceCodePattern.MatchString(fl.Field().String())
}

// validateToggle accepts the tri-state values: inherit, deny and allow.
func validateToggle(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "", "0", "1":
		return true
	}
	return false
}

type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   strings.ToLower(e.Field()),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "min", "gte":
		return e.Field() + " must be at least " + e.Param()
	case "max", "lte":
		return e.Field() + " must be at most " + e.Param()
	case "lt":
		return e.Field() + " must be less than " + e.Param()
	case "oneof":
		return e.Field() + " must be one of " + e.Param()
	case "username":
		return "Username must be 3-50 characters of letters, numbers, dots, dashes or underscores"
	case "toggle":
		return e.Field() + " must be empty, 0 or 1"
	case "marketplace_code":
		return e.Field() + " must be an upper-case marketplace code"
	default:
		return e.Field() + " is invalid"
	}
}
