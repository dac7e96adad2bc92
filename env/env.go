package env

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var (
	validationsMu sync.Mutex
	validations   = map[string]string{}
	v             = newValidator()
)

// RegisterValidation registers a validator tag that the value of key must satisfy
func RegisterValidation(key, tag string) {
	validationsMu.Lock()
	defer validationsMu.Unlock()
	if existing, ok := validations[key]; ok && existing != tag {
		validations[key] = existing + "," + tag
		return
	}
	validations[key] = tag
}

// ValidateEnv checks every registered key and panics listing the keys that failed
func ValidateEnv() {
	if err := Validate(); err != nil {
		panic(err)
	}
}

// Validate checks every registered key
func Validate() error {
	validationsMu.Lock()
	defer validationsMu.Unlock()

	var failed []string
	for key, tag := range validations {
		if err := v.Var(viper.GetString(key), tag); err != nil {
			failed = append(failed, fmt.Sprintf("%s (%s)", key, tag))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(failed, ", "))
	}
	return nil
}

func GetString(key string) string {
	return viper.GetString(key)
}

func GetInt(key string) int {
	return viper.GetInt(key)
}

func GetInt64(key string) int64 {
	return viper.GetInt64(key)
}

func GetFloat64(key string) float64 {
	return viper.GetFloat64(key)
}

func GetBool(key string) bool {
	return viper.GetBool(key)
}

func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

func GetStringSlice(key string) []string {
	return viper.GetStringSlice(key)
}

func newValidator() *validator.Validate {
	val := validator.New()
	val.RegisterValidation("eth_addr", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return len(s) == 42 && strings.HasPrefix(s, "0x")
	})
	return val
}
