package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/SplitFi/go-barter/service/persist"
)

func TestParseAsset(t *testing.T) {
	a := setupTest(t)

	t.Run("it reads a non-fungible asset", func(t *testing.T) {
		asset, err := parseAsset("0x000000000000000000000000000000000000BEEF:42")
		a.NoError(err)
		a.Equal(persist.NewAddress("0x000000000000000000000000000000000000beef"), asset.Contract)
		a.Equal("42", asset.TokenID)
		a.Equal(persist.TokenStandardERC721, asset.Standard)
		a.Equal(uint64(1), asset.Amount())
	})

	t.Run("it reads a quantity as a multi token asset", func(t *testing.T) {
		asset, err := parseAsset("0x000000000000000000000000000000000000beef:7:3")
		a.NoError(err)
		a.Equal(persist.TokenStandardERC1155, asset.Standard)
		a.Equal(uint64(3), asset.Quantity)
	})

	t.Run("it rejects malformed assets", func(t *testing.T) {
		for _, s := range []string{"0xbeef:1", "0x000000000000000000000000000000000000beef", "0x000000000000000000000000000000000000beef:abc", "0x000000000000000000000000000000000000beef:1:0"} {
			_, err := parseAsset(s)
			a.Error(err, s)
		}
	})
}

func setupTest(t *testing.T) *assert.Assertions {
	return assert.New(t)
}
