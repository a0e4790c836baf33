package dto

import (
	"fmt"
	"reflect"

	"github.com/SscSPs/payment_settlement/internal/core/domain"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidators adds the custom binding rules used by the request DTOs to gin's validator.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected binding validator engine %T", binding.Validator.Engine())
	}
	if err := v.RegisterValidation("minor_amount", validateMinorAmount); err != nil {
		return fmt.Errorf("registering minor_amount: %w", err)
	}
	if err := v.RegisterValidation("momo_operator", validateMomoOperator); err != nil {
		return fmt.Errorf("registering momo_operator: %w", err)
	}
	return nil
}

// validateMinorAmount accepts strictly positive integer amounts.
func validateMinorAmount(fl validator.FieldLevel) bool {
	switch fl.Field().Kind() {
	case reflect.Int, reflect.Int32, reflect.Int64:
		return fl.Field().Int() > 0
	}
	return false
}

func validateMomoOperator(fl validator.FieldLevel) bool {
	_, ok := domain.FindMomoService(fl.Field().String())
	return ok
}
