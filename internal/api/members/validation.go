package members

import (
	"regexp"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// phonePattern accepts an optional leading + followed by digits with common
// separators, 7 to 20 characters in total.
var phonePattern = regexp.MustCompile(`^\+?[0-9(][0-9 ().-]{5,18}[0-9]$`)

var registerOnce sync.Once

// RegisterValidations adds the custom binding tags used by member requests to
// gin's validator. Safe to call more than once.
func RegisterValidations() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("phone", validatePhone)
		}
	})
}

func validatePhone(fl validator.FieldLevel) bool {
	return phonePattern.MatchString(fl.Field().String())
}
