package escrow

import (
	"context"

	lru "github.com/hashicorp/golang-lru"

	"github.com/SplitFi/go-barter/service/persist"
)

const defaultCacheSize = 4096

// CachedGateway remembers trades once they reach a terminal state. A terminal chain trade never
// changes again, so these reads can skip the node. Active trades are always read through.
type CachedGateway struct {
	Gateway
	terminal *lru.Cache
}

// NewCachedGateway wraps g with a terminal-trade cache of size entries
func NewCachedGateway(g Gateway, size int) *CachedGateway {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		panic(err)
	}
	return &CachedGateway{Gateway: g, terminal: cache}
}

func (c *CachedGateway) ReadTrade(ctx context.Context, id persist.ChainTradeID) (persist.ChainTrade, error) {
	if cached, ok := c.terminal.Get(id); ok {
		return cached.(persist.ChainTrade), nil
	}
	trade, err := c.Gateway.ReadTrade(ctx, id)
	if err != nil {
		return persist.ChainTrade{}, err
	}
	if trade.State.IsTerminal() {
		c.terminal.Add(id, trade)
	}
	return trade, nil
}
