package trade

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/SplitFi/go-barter/contracts"
	"github.com/SplitFi/go-barter/service/escrow"
	"github.com/SplitFi/go-barter/service/persist"
	"github.com/SplitFi/go-barter/service/signer"
)

var (
	escrowAddress    = persist.NewAddress("0x00000000000000000000000000000000000e5c80")
	unrelatedAddress = persist.NewAddress("0x0000000000000000000000000000000000000bad")
	alice            = persist.NewAddress("0x00000000000000000000000000000000000a11ce")
	bob              = persist.NewAddress("0x0000000000000000000000000000000000000b0b")
	mallory          = persist.NewAddress("0x000000000000000000000000000000000000beef")
	admin            = persist.NewAddress("0x000000000000000000000000000000000000ad01")
	collectionA      = persist.NewAddress("0x000000000000000000000000000000000000000a")
	collectionB      = persist.NewAddress("0x000000000000000000000000000000000000000b")
	oneEther         = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

type fakeSigner struct{ address persist.Address }

func (f fakeSigner) Address() persist.Address { return f.address }

func (f fakeSigner) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	return &bind.TransactOpts{Context: ctx}, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeChain behaves like the escrow contract. Pre-flight failures are returned from the submit
// call; revertOn produces a mined failing receipt instead.
type fakeChain struct {
	mu       sync.Mutex
	clock    *clock
	nextID   persist.ChainTradeID
	trades   map[persist.ChainTradeID]*persist.ChainTrade
	approved map[[2]persist.Address]bool
	receipts map[persist.TxHash]escrow.Receipt
	fee      *big.Int
	txCount  int
	calls    []string
	payments []*big.Int

	revertOn map[string]bool
	// waitErr makes WaitConfirmed fail as if the confirmation was never observed
	waitErr error
	// hideReceipts makes receipts unavailable to TransactionReceipt
	hideReceipts bool
	// dropOnSubmit leaves the chain untouched while still returning a hash
	dropOnSubmit bool
	// stallWaits makes WaitConfirmed block until its context is done
	stallWaits bool
}

func newFakeChain(c *clock) *fakeChain {
	return &fakeChain{
		clock:    c,
		nextID:   1,
		trades:   map[persist.ChainTradeID]*persist.ChainTrade{},
		approved: map[[2]persist.Address]bool{},
		receipts: map[persist.TxHash]escrow.Receipt{},
		fee:      big.NewInt(0),
		revertOn: map[string]bool{},
	}
}

func (f *fakeChain) EscrowAddress() persist.Address { return escrowAddress }

func (f *fakeChain) newHash() persist.TxHash {
	f.txCount++
	return persist.TxHash(fmt.Sprintf("0x%064x", f.txCount))
}

func (f *fakeChain) mine(hash persist.TxHash, ok bool, logs ...*types.Log) {
	f.receipts[hash] = escrow.Receipt{TxHash: hash, BlockNumber: uint64(f.txCount), Succeeded: ok, Logs: logs}
}

func tradeCreatedLog(emitter persist.Address, id persist.ChainTradeID, creator, counterparty persist.Address) *types.Log {
	return &types.Log{
		Address: emitter.Address(),
		Topics: []common.Hash{
			contracts.TradeCreatedTopic(),
			common.BigToHash(id.BigInt()),
			common.BytesToHash(creator.Address().Bytes()),
			common.BytesToHash(counterparty.Address().Bytes()),
		},
	}
}

func (f *fakeChain) CreateTrade(ctx context.Context, s signer.Signer, p escrow.CreateTradeParams) (persist.TxHash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "createTrade")

	if s.Address().Equal(p.Counterparty) {
		return "", errors.New("execution reverted: self trade")
	}
	for _, a := range p.Offered {
		if !a.Vaulted && !f.approved[[2]persist.Address{a.Contract, s.Address()}] {
			return "", errors.New("execution reverted: not approved")
		}
	}

	hash := f.newHash()
	if f.dropOnSubmit {
		return hash, nil
	}
	if f.revertOn["createTrade"] {
		f.mine(hash, false)
		return hash, nil
	}

	id := f.nextID
	f.nextID++
	f.trades[id] = &persist.ChainTrade{
		ID:             id,
		Creator:        s.Address(),
		Counterparty:   p.Counterparty,
		Offered:        p.Offered,
		Requested:      p.Requested,
		OfferedValue:   p.OfferedValue,
		RequestedValue: p.RequestedValue,
		ExpiresAt:      p.ExpiresAt,
		State:          persist.ChainTradeActive,
	}
	// a log with the same signature from another contract precedes the real one
	f.mine(hash, true, tradeCreatedLog(unrelatedAddress, 999, s.Address(), p.Counterparty), tradeCreatedLog(escrowAddress, id, s.Address(), p.Counterparty))
	return hash, nil
}

func (f *fakeChain) transition(method string, id persist.ChainTradeID, check func(*persist.ChainTrade) error, to persist.ChainTradeState) (persist.TxHash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%s:%d", method, id)
	f.calls = append(f.calls, key)

	trade, ok := f.trades[id]
	if !ok {
		return "", errors.New("execution reverted: unknown trade")
	}
	if trade.State != persist.ChainTradeActive {
		return "", errors.New("execution reverted: trade not active")
	}
	if err := check(trade); err != nil {
		return "", err
	}

	hash := f.newHash()
	if f.dropOnSubmit {
		return hash, nil
	}
	if f.revertOn[key] {
		f.mine(hash, false)
		return hash, nil
	}
	trade.State = to
	f.mine(hash, true)
	return hash, nil
}

func (f *fakeChain) AcceptTrade(ctx context.Context, s signer.Signer, id persist.ChainTradeID, payment *big.Int) (persist.TxHash, error) {
	return f.transition("acceptTrade", id, func(t *persist.ChainTrade) error {
		if !t.Counterparty.Equal(s.Address()) {
			return errors.New("execution reverted: not counterparty")
		}
		if orZero(payment).Cmp(orZero(t.RequestedValue)) != 0 {
			return errors.New("execution reverted: wrong payment")
		}
		for _, a := range t.Requested {
			if !f.approved[[2]persist.Address{a.Contract, s.Address()}] {
				return errors.New("execution reverted: not approved")
			}
		}
		f.payments = append(f.payments, payment)
		return nil
	}, persist.ChainTradeAccepted)
}

func (f *fakeChain) DeclineTrade(ctx context.Context, s signer.Signer, id persist.ChainTradeID) (persist.TxHash, error) {
	return f.transition("declineTrade", id, func(t *persist.ChainTrade) error {
		if !t.Counterparty.Equal(s.Address()) {
			return errors.New("execution reverted: not counterparty")
		}
		return nil
	}, persist.ChainTradeDeclined)
}

func (f *fakeChain) CancelTrade(ctx context.Context, s signer.Signer, id persist.ChainTradeID) (persist.TxHash, error) {
	return f.transition("cancelTrade", id, func(t *persist.ChainTrade) error {
		if !t.Creator.Equal(s.Address()) && !s.Address().Equal(admin) {
			return errors.New("execution reverted: not creator")
		}
		return nil
	}, persist.ChainTradeCancelled)
}

func (f *fakeChain) ExpireTrade(ctx context.Context, s signer.Signer, id persist.ChainTradeID) (persist.TxHash, error) {
	return f.transition("expireTrade", id, func(t *persist.ChainTrade) error {
		if f.clock.Now().Before(t.ExpiresAt) {
			return errors.New("execution reverted: not expired")
		}
		return nil
	}, persist.ChainTradeExpired)
}

func (f *fakeChain) ReadTrade(ctx context.Context, id persist.ChainTradeID) (persist.ChainTrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	trade, ok := f.trades[id]
	if !ok {
		return persist.ChainTrade{}, escrow.ErrTradeNotFound{ID: id}
	}
	return *trade, nil
}

func (f *fakeChain) WaitConfirmed(ctx context.Context, hash persist.TxHash) (escrow.Receipt, error) {
	f.mu.Lock()
	if f.stallWaits {
		f.mu.Unlock()
		<-ctx.Done()
		return escrow.Receipt{}, escrow.ErrConfirmationTimeout{TxHash: hash, Err: ctx.Err()}
	}
	defer f.mu.Unlock()
	if f.waitErr != nil {
		return escrow.Receipt{}, escrow.ErrConfirmationTimeout{TxHash: hash, Err: f.waitErr}
	}
	receipt, ok := f.receipts[hash]
	if !ok {
		return escrow.Receipt{}, escrow.ErrConfirmationTimeout{TxHash: hash, Err: context.DeadlineExceeded}
	}
	if !receipt.Succeeded {
		return receipt, escrow.ErrReverted{TxHash: hash}
	}
	return receipt, nil
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, hash persist.TxHash) (escrow.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	receipt, ok := f.receipts[hash]
	if !ok || f.hideReceipts {
		return escrow.Receipt{}, escrow.ErrReceiptNotFound
	}
	return receipt, nil
}

func (f *fakeChain) ProtocolFee(ctx context.Context) (*big.Int, error) {
	return f.fee, nil
}

func (f *fakeChain) SetProtocolFee(ctx context.Context, s signer.Signer, fee *big.Int) (persist.TxHash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fee = fee
	hash := f.newHash()
	f.mine(hash, true)
	return hash, nil
}

func (f *fakeChain) IsApprovedForAll(ctx context.Context, collection, owner persist.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.approved[[2]persist.Address{collection, owner}], nil
}

func (f *fakeChain) SetApprovalForAll(ctx context.Context, s signer.Signer, collection persist.Address) (persist.TxHash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "setApprovalForAll:"+collection.String())
	f.approved[[2]persist.Address{collection, s.Address()}] = true
	hash := f.newHash()
	f.mine(hash, true)
	return hash, nil
}

func (f *fakeChain) state(id persist.ChainTradeID) persist.ChainTradeState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trades[id].State
}

func (f *fakeChain) callCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

type memoryRepo struct {
	mu          sync.Mutex
	clock       *clock
	trades      map[persist.DBID]persist.TradeRecord
	failUpdates bool
	failCreates bool
}

func newMemoryRepo(c *clock) *memoryRepo {
	return &memoryRepo{clock: c, trades: map[persist.DBID]persist.TradeRecord{}}
}

func (m *memoryRepo) Create(ctx context.Context, rec persist.TradeRecord) (persist.DBID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreates {
		return "", errors.New("store unavailable")
	}
	rec.ID = persist.GenerateID()
	rec.CreationTime = m.clock.Now()
	rec.LastUpdated = rec.CreationTime
	m.trades[rec.ID] = rec
	return rec.ID, nil
}

func (m *memoryRepo) GetByID(ctx context.Context, id persist.DBID) (persist.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.trades[id]
	if !ok {
		return persist.TradeRecord{}, persist.ErrTradeNotFound{ID: id}
	}
	return rec, nil
}

func (m *memoryRepo) GetByChainTradeID(ctx context.Context, id persist.ChainTradeID) (persist.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.trades {
		if rec.ChainTradeID != nil && *rec.ChainTradeID == id {
			return rec, nil
		}
	}
	return persist.TradeRecord{}, persist.ErrTradeNotFoundByChainID{ChainTradeID: id}
}

func (m *memoryRepo) Update(ctx context.Context, id persist.DBID, update persist.TradeUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdates {
		return errors.New("store unavailable")
	}
	rec, ok := m.trades[id]
	if !ok {
		return persist.ErrTradeNotFound{ID: id}
	}
	if update.Status != nil {
		rec.Status = *update.Status
	}
	if update.Resolution != nil {
		rec.Resolution = *update.Resolution
	}
	if update.TransactionHash != nil {
		hash := *update.TransactionHash
		rec.TransactionHash = &hash
		rec.TransactionHistory = append(rec.TransactionHistory, hash)
	}
	rec.LastUpdated = m.clock.Now()
	m.trades[id] = rec
	return nil
}

func (m *memoryRepo) sorted(keep func(persist.TradeRecord) bool, limit int64) []persist.TradeRecord {
	out := []persist.TradeRecord{}
	for _, rec := range m.trades {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out
}

func hasStatus(statuses []persist.TradeStatus, s persist.TradeStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func (m *memoryRepo) GetByParticipant(ctx context.Context, address persist.Address, statuses []persist.TradeStatus, limit int64) ([]persist.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(rec persist.TradeRecord) bool {
		return rec.IsParticipant(address) && hasStatus(statuses, rec.Status)
	}, limit), nil
}

func (m *memoryRepo) GetExpiredPending(ctx context.Context, now time.Time, limit int64) ([]persist.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(rec persist.TradeRecord) bool {
		return rec.Status == persist.TradeStatusPending && rec.IsExpired(now)
	}, limit), nil
}

func (m *memoryRepo) List(ctx context.Context, filter persist.TradeFilter) ([]persist.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(rec persist.TradeRecord) bool {
		if filter.Participant != nil && !rec.IsParticipant(*filter.Participant) {
			return false
		}
		if filter.OnChainOnly && !rec.IsOnChain() {
			return false
		}
		return hasStatus(filter.Statuses, rec.Status)
	}, filter.Limit), nil
}

// put stores rec directly, bypassing the coordinator
func (m *memoryRepo) put(rec persist.TradeRecord) persist.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = persist.GenerateID()
	}
	m.trades[rec.ID] = rec
	return rec
}

func (m *memoryRepo) get(id persist.DBID) persist.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trades[id]
}

type fakeAdmins map[persist.Address]bool

func (f fakeAdmins) IsAdmin(ctx context.Context, address persist.Address) (bool, error) {
	return f[address], nil
}
