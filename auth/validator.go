package auth

import (
	"chat-app/errors"
	stderrors "errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

const passwordTag = "password"

var validate = newValidator()

type RegisterRequest struct {
	Email       string `validate:"required,email"`
	Password    string `validate:"required,min=12,max=72,password"`
	DisplayName string `validate:"max=64"`
}

type charClass struct {
	name string
	in   func(rune) bool
}

// A password needs one rune of each class.
var passwordClasses = []charClass{
	{name: "upper case letter", in: unicode.IsUpper},
	{name: "lower case letter", in: unicode.IsLower},
	{name: "digit", in: unicode.IsNumber},
	{name: "symbol", in: func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) }},
}

func newValidator() *validator.Validate {
	v := validator.New()
	// Only fails on an empty tag
	_ = v.RegisterValidation(passwordTag, func(fl validator.FieldLevel) bool {
		return len(missingClasses(fl.Field().String())) == 0
	})
	return v
}

// ValidateRegister checks the request shape. A password lacking a character
// class yields ErrInvalidPassword naming what is missing.
func ValidateRegister(req RegisterRequest) error {
	err := validate.Struct(req)
	var fieldErrs validator.ValidationErrors
	if stderrors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			if fe.Tag() == passwordTag {
				return fmt.Errorf("%w: missing %s", errors.ErrInvalidPassword,
					strings.Join(missingClasses(req.Password), ", "))
			}
		}
	}
	return err
}

func missingClasses(password string) []string {
	return lo.FilterMap(passwordClasses, func(c charClass, _ int) (string, bool) {
		return c.name, !strings.ContainsFunc(password, c.in)
	})
}
