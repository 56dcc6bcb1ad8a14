package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ridepulse/dispatch/pkg/models"
)

var (
	// Validate is the global validator instance
	Validate *validator.Validate

	phoneRegex = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`) // E.164 format
)

func init() {
	Validate = validator.New()

	// Report fields under their wire names
	Validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = Validate.RegisterValidation("latitude", validateLatitude)
	_ = Validate.RegisterValidation("longitude", validateLongitude)
	_ = Validate.RegisterValidation("phone", validatePhone)
	_ = Validate.RegisterValidation("payment_method", validatePaymentMethod)
	_ = Validate.RegisterValidation("vehicle_type", validateVehicleType)
}

// ValidateStruct validates a struct against its validate tags and returns a
// ValidationError describing every failing field.
func ValidateStruct(s interface{}) error {
	err := Validate.Struct(s)
	if err != nil {
		if fieldErrors, ok := err.(validator.ValidationErrors); ok {
			return newValidationError(fieldErrors)
		}
		return err
	}
	return nil
}

// ValidationError maps failing fields to human-readable messages. Field keys
// follow the JSON wire names, nested fields joined with a dot.
type ValidationError struct {
	Errors map[string]string `json:"errors"`
}

func newValidationError(fieldErrors validator.ValidationErrors) *ValidationError {
	ve := &ValidationError{Errors: make(map[string]string, len(fieldErrors))}
	for _, fe := range fieldErrors {
		ve.Errors[fieldKey(fe)] = messageFor(fe)
	}
	return ve
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Errors))
	for k := range e.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Errors[k])
	}
	return strings.Join(parts, "; ")
}

// AddError records an additional field failure
func (e *ValidationError) AddError(field, message string) {
	if e.Errors == nil {
		e.Errors = make(map[string]string)
	}
	e.Errors[field] = message
}

// HasErrors reports whether any field failed
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// fieldKey strips the root struct name from the namespace, leaving
// "pickup.latitude" style paths.
func fieldKey(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "latitude":
		return "must be between -90 and 90"
	case "longitude":
		return "must be between -180 and 180"
	case "phone":
		return "must be a valid phone number"
	case "payment_method":
		return fmt.Sprintf("unknown payment method: %v", fe.Value())
	case "vehicle_type":
		return fmt.Sprintf("unknown vehicle type: %v", fe.Value())
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lt":
		return "must be less than " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

// validateLatitude checks if latitude is within valid range (-90 to 90)
func validateLatitude(fl validator.FieldLevel) bool {
	latitude := fl.Field().Float()
	return latitude >= -90.0 && latitude <= 90.0
}

// validateLongitude checks if longitude is within valid range (-180 to 180)
func validateLongitude(fl validator.FieldLevel) bool {
	longitude := fl.Field().Float()
	return longitude >= -180.0 && longitude <= 180.0
}

// validatePhone checks if phone number is in E.164 format
func validatePhone(fl validator.FieldLevel) bool {
	return phoneRegex.MatchString(fl.Field().String())
}

func validatePaymentMethod(fl validator.FieldLevel) bool {
	return models.IsValidPaymentMethod(strings.ToLower(strings.TrimSpace(fl.Field().String())))
}

func validateVehicleType(fl validator.FieldLevel) bool {
	return models.IsValidVehicleType(strings.ToLower(strings.TrimSpace(fl.Field().String())))
}

// IsPhone reports whether s looks like an E.164 phone number
func IsPhone(s string) bool {
	return phoneRegex.MatchString(strings.TrimSpace(s))
}

// ValidCoordinates reports whether the pair is a plausible location fix
func ValidCoordinates(latitude, longitude float64) bool {
	return latitude >= -90.0 && latitude <= 90.0 &&
		longitude >= -180.0 && longitude <= 180.0
}
