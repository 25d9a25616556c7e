package common

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

var (
	sharedValidator     *validator.Validate
	sharedValidatorOnce sync.Once
)

// StructValidator returns the process wide validator instance.
func StructValidator() *validator.Validate {
	sharedValidatorOnce.Do(func() {
		sharedValidator = validator.New()
	})
	return sharedValidator
}

// GenericEchoValidator plugs struct tag validation into echo's Context.Validate.
type GenericEchoValidator struct {
	Validator *validator.Validate
}

func (gv *GenericEchoValidator) Validate(i interface{}) error {
	v := gv.Validator
	if v == nil {
		v = StructValidator()
	}
	if err := v.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("received invalid request: %v", err))
	}
	return nil
}

// ValidateStruct validates i against its `validate` tags and reports the
// failures as a ValidationError.
func ValidateStruct(i any) error {
	if err := StructValidator().Struct(i); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	return nil
}
