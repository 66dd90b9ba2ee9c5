package domain

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/shopspring/decimal"

	"github.com/victornm/examroom/internal/errors"
)

// MaxTitleLength is the maximum number of characters of an exam title.
const MaxTitleLength = 40

// RequiredTotalPoints is the sum the question points of an exam must add up to.
var RequiredTotalPoints = decimal.NewFromInt(100)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", validators.NotBlank)

	return v
}

// FieldError describes why a single field of a definition was rejected.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validate checks a definition before it is stored, either on creation or on edit.
func (d Definition) Validate() error {
	var fields []FieldError

	if err := validate.Struct(d); err != nil {
		var ve validator.ValidationErrors
		if !stderrors.As(err, &ve) {
			return errors.Internal(err)
		}

		for _, fe := range ve {
			fields = append(fields, FieldError{
				Field:   trimNamespace(fe.Namespace()),
				Message: fieldErrorMessage(fe),
			})
		}
	}

	total := decimal.Zero
	for i, q := range d.Questions {
		if !q.Points.IsPositive() {
			fields = append(fields, FieldError{
				Field:   fmt.Sprintf("questions[%d].points", i),
				Message: "must be positive",
			})
		}
		total = total.Add(q.Points)
	}

	if len(d.Questions) > 0 && !total.Equal(RequiredTotalPoints) {
		fields = append(fields, FieldError{
			Field:   "questions",
			Message: fmt.Sprintf("points must add up to %s, got %s", RequiredTotalPoints, total),
		})
	}

	if len(fields) == 0 {
		return nil
	}

	msg := "invalid exam definition"
	if len(fields) == 1 {
		msg = fmt.Sprintf("invalid exam definition: %s %s", fields[0].Field, fields[0].Message)
	}

	return errors.New(errors.CodeInvalidArgument,
		errors.WithMessagef("%s", msg),
		errors.WithDetails(fields),
	)
}

func trimNamespace(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}

	return ns
}

func fieldErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "notblank":
		return "must not be blank"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must have at least %s items", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	default:
		return fmt.Sprintf("failed rule '%s'", fe.Tag())
	}
}
