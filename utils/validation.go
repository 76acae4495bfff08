package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"example.com/backstage/services/provenance/domain"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	RegisterCustomValidations()
}

// ValidateStruct validates a struct using validation tags
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		return err
	}
	return nil
}

// RegisterCustomValidations registers custom validation functions
func RegisterCustomValidations() {
	_ = validate.RegisterValidation("batch_id", func(fl validator.FieldLevel) bool {
		return domain.ValidBatchID(fl.Field().String())
	})
}

// ValidationMessages flattens validator errors into field messages
func ValidationMessages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		if fe.Param() != "" {
			messages = append(messages, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			messages = append(messages, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return messages
}
