package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/SplitFi/go-barter/service/persist"
)

// parseAsset reads contract:tokenId[:quantity]. A quantity marks an ERC-1155 asset.
func parseAsset(s string) (persist.TradeAsset, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return persist.TradeAsset{}, fmt.Errorf("asset %q must look like contract:tokenId[:quantity]", s)
	}

	contract := persist.NewAddress(parts[0])
	if !contract.IsValid() {
		return persist.TradeAsset{}, fmt.Errorf("asset %q has an invalid contract address", s)
	}
	if _, ok := persist.ParseTokenID(parts[1]); !ok {
		return persist.TradeAsset{}, fmt.Errorf("asset %q has an invalid token id", s)
	}

	asset := persist.TradeAsset{Contract: contract, TokenID: parts[1], Standard: persist.TokenStandardERC721}
	if len(parts) == 3 {
		quantity, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil || quantity == 0 {
			return persist.TradeAsset{}, fmt.Errorf("asset %q has an invalid quantity", s)
		}
		asset.Quantity = quantity
		asset.Standard = persist.TokenStandardERC1155
	}
	return asset, nil
}

func parseAssets(raw []string) ([]persist.TradeAsset, error) {
	assets := make([]persist.TradeAsset, 0, len(raw))
	for _, r := range raw {
		a, err := parseAsset(r)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, nil
}

func parseIDs(args []string) []persist.DBID {
	ids := make([]persist.DBID, len(args))
	for i, a := range args {
		ids[i] = persist.DBID(a)
	}
	return ids
}
