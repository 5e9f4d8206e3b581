package checkout

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"storefront/internal/cart"
	"storefront/internal/models"
)

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(fmt.Sprintf("checkout: register notblank: %v", err))
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateSubmission checks the cart and the shipping form before any write.
func validateSubmission(v *validator.Validate, info models.ShippingInfo, snap cart.Snapshot) error {
	verr := &models.ValidationError{Fields: make(map[string]string)}

	if len(snap.Items) == 0 {
		verr.Fields["cart"] = "is empty"
	}
	for _, it := range snap.Items {
		if it.Product == nil {
			verr.Fields["cart"] = "contains a product that is no longer available"
			break
		}
	}

	if err := v.Struct(info); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			verr.Fields[fe.Field()] = describe(fe)
		}
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return "is invalid"
}
