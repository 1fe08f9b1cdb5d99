package bookbot

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidSession wraps validation failures of a BookSession.
var ErrInvalidSession = errors.New("invalid session")

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator, reporting JSON field names.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks the session and trims its free-text fields.
func (s *BookSession) Validate() error {
	s.Goal = strings.TrimSpace(s.Goal)
	s.Language = strings.TrimSpace(s.Language)
	s.Audience = strings.TrimSpace(s.Audience)
	s.Reasoning = strings.TrimSpace(s.Reasoning)
	if err := Validator().Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidSession, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	return nil
}
