package validate

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/SplitFi/go-barter/service/persist"
)

var txHashRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ValWithTags is a value paired with the validator tags it must satisfy
type ValWithTags struct {
	value interface{}
	tag   string
}

// ValidationMap maps a field name to the value being validated
type ValidationMap map[string]ValWithTags

// WithTag pairs value with tag
func WithTag(value interface{}, tag string) ValWithTags {
	return ValWithTags{value: value, tag: tag}
}

// ErrInvalidInput lists the fields that failed validation
type ErrInvalidInput struct {
	Parameters []string
	Reasons    []string
}

func (e ErrInvalidInput) Error() string {
	str := "invalid input:\n"
	for i := range e.Parameters {
		str += fmt.Sprintf("    parameter: %s, reason: %s\n", e.Parameters[i], e.Reasons[i])
	}
	return str
}

// Append adds a failed field
func (e *ErrInvalidInput) Append(parameter string, reason string) {
	e.Parameters = append(e.Parameters, parameter)
	e.Reasons = append(e.Reasons, reason)
}

// ValidateFields checks every field of fields against its tags
func ValidateFields(validator *validator.Validate, fields ValidationMap) error {
	validationErr := ErrInvalidInput{}
	foundErrors := false

	for k, v := range fields {
		if err := validator.Var(v.value, v.tag); err != nil {
			foundErrors = true
			validationErr.Append(k, err.Error())
		}
	}

	if foundErrors {
		return validationErr
	}
	return nil
}

// WithCustomValidators returns a validator that knows the custom tags
func WithCustomValidators() *validator.Validate {
	v := validator.New()
	RegisterCustomValidators(v)
	return v
}

// RegisterCustomValidators adds the custom tags to v
func RegisterCustomValidators(v *validator.Validate) {
	v.RegisterValidation("eth_addr", EthValidator)
	v.RegisterValidation("tx_hash", TxHashValidator)
	v.RegisterValidation("trade_status", TradeStatusValidator)
}

// EthValidator validates an ethereum address
var EthValidator validator.Func = func(fl validator.FieldLevel) bool {
	s, ok := stringOf(fl.Field())
	if !ok {
		return false
	}
	return persist.Address(s).IsValid()
}

// TxHashValidator validates a 0x prefixed 32 byte transaction hash
var TxHashValidator validator.Func = func(fl validator.FieldLevel) bool {
	s, ok := stringOf(fl.Field())
	if !ok {
		return false
	}
	return txHashRegex.MatchString(s)
}

// TradeStatusValidator validates a trade status
var TradeStatusValidator validator.Func = func(fl validator.FieldLevel) bool {
	s, ok := stringOf(fl.Field())
	if !ok {
		return false
	}
	return persist.TradeStatus(strings.ToLower(s)).IsValid()
}

func stringOf(v reflect.Value) (string, bool) {
	if v.Kind() != reflect.String {
		return "", false
	}
	return v.String(), true
}

// RegisterGinValidators adds the custom tags to the validator gin uses for binding
func RegisterGinValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		RegisterCustomValidators(v)
	}
}
