package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/SplitFi/go-barter/service/persist"
)

func TestValidateFields(t *testing.T) {
	a := setupTest(t)
	v := WithCustomValidators()

	t.Run("it accepts valid input", func(t *testing.T) {
		err := ValidateFields(v, ValidationMap{
			"address": WithTag(persist.Address("0x000000000000000000000000000000000000dead"), "required,eth_addr"),
			"txHash":  WithTag("0x"+repeat("ab", 32), "required,tx_hash"),
			"status":  WithTag(persist.TradeStatusPending, "trade_status"),
		})
		a.NoError(err)
	})

	t.Run("it reports each failed field", func(t *testing.T) {
		err := ValidateFields(v, ValidationMap{
			"address": WithTag("0xdead", "required,eth_addr"),
			"txHash":  WithTag("0x1234", "required,tx_hash"),
			"status":  WithTag("open", "trade_status"),
		})
		var invalid ErrInvalidInput
		a.ErrorAs(err, &invalid)
		a.ElementsMatch([]string{"address", "txHash", "status"}, invalid.Parameters)
	})

	t.Run("it rejects a hash without its prefix", func(t *testing.T) {
		err := ValidateFields(v, ValidationMap{"txHash": WithTag(repeat("ab", 32), "tx_hash")})
		a.Error(err)
	})
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

func setupTest(t *testing.T) *assert.Assertions {
	return assert.New(t)
}
