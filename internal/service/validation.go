package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"sales-service/internal/apperror"
	"sales-service/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// validateStruct turns validator failures into a single validation error
func validateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperror.Wrap(apperror.KindValidation, "Invalid request", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", field, fe.Tag()))
		}
	}
	return apperror.Validation(strings.Join(msgs, "; "))
}

// validatePage checks the listing bounds shared by every paged endpoint
func validatePage(page models.Page) error {
	if page.Before.IsZero() {
		return apperror.Validation("beforeTimestamp is required")
	}
	if page.Size < models.MinPageSize || page.Size > models.MaxPageSize {
		return apperror.Validation(fmt.Sprintf("pageSize must be between %d and %d", models.MinPageSize, models.MaxPageSize))
	}
	return nil
}

// validateID rejects empty and non-UUID record ids before they reach the store
func validateID(name, id string) error {
	if id == "" {
		return apperror.Validation(name + " is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return apperror.Validation(name + " must be a UUID")
	}
	return nil
}
