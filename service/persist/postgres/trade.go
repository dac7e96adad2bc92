package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/lib/pq"

	"github.com/SplitFi/go-barter/service/persist"
)

const tradeColumns = `ID,CREATED_AT,LAST_UPDATED,CHAIN_TRADE_ID::text,PROPOSER,COUNTERPARTY,OFFERED_ASSETS,REQUESTED_ASSETS,OFFERED_VALUE::text,REQUESTED_VALUE::text,STATUS,RESOLUTION,MESSAGE,EXPIRES_AT,TRANSACTION_HASH,TRANSACTION_HISTORY`

// TradeRepository represents the trade records in the postgres database
type TradeRepository struct {
	db                    *sql.DB
	createStmt            *sql.Stmt
	getByIDStmt           *sql.Stmt
	getByChainTradeIDStmt *sql.Stmt
	updateStmt            *sql.Stmt
	getByParticipantStmt  *sql.Stmt
	getExpiredPendingStmt *sql.Stmt
	listStmt              *sql.Stmt
}

// NewTradeRepository creates a new postgres repository for interacting with trades
func NewTradeRepository(db *sql.DB) *TradeRepository {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	createStmt, err := db.PrepareContext(ctx, `INSERT INTO trades (ID,CHAIN_TRADE_ID,PROPOSER,COUNTERPARTY,OFFERED_ASSETS,REQUESTED_ASSETS,OFFERED_VALUE,REQUESTED_VALUE,STATUS,RESOLUTION,MESSAGE,EXPIRES_AT,TRANSACTION_HASH,TRANSACTION_HISTORY)
		VALUES ($1,$2::numeric,$3,$4,$5,$6,$7::numeric,$8::numeric,$9,$10,$11,$12,$13,$14) RETURNING ID;`)
	checkNoErr(err)

	getByIDStmt, err := db.PrepareContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE ID = $1;`)
	checkNoErr(err)

	getByChainTradeIDStmt, err := db.PrepareContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE CHAIN_TRADE_ID = $1::numeric;`)
	checkNoErr(err)

	updateStmt, err := db.PrepareContext(ctx, `UPDATE trades SET
		STATUS = COALESCE($2::varchar, STATUS),
		RESOLUTION = COALESCE($3::varchar, RESOLUTION),
		TRANSACTION_HASH = COALESCE($4::varchar, TRANSACTION_HASH),
		TRANSACTION_HISTORY = CASE WHEN $4::varchar IS NULL THEN TRANSACTION_HISTORY ELSE array_append(TRANSACTION_HISTORY, $4::varchar) END,
		VERSION = VERSION + 1,
		LAST_UPDATED = now()
		WHERE ID = $1;`)
	checkNoErr(err)

	getByParticipantStmt, err := db.PrepareContext(ctx, `SELECT `+tradeColumns+` FROM trades
		WHERE (PROPOSER = $1 OR COUNTERPARTY = $1) AND (cardinality($2::varchar[]) = 0 OR STATUS = ANY($2::varchar[]))
		ORDER BY CREATED_AT DESC LIMIT NULLIF($3::bigint, 0);`)
	checkNoErr(err)

	getExpiredPendingStmt, err := db.PrepareContext(ctx, `SELECT `+tradeColumns+` FROM trades
		WHERE STATUS = 'pending' AND EXPIRES_AT <= $1
		ORDER BY EXPIRES_AT ASC LIMIT NULLIF($2::bigint, 0);`)
	checkNoErr(err)

	listStmt, err := db.PrepareContext(ctx, `SELECT `+tradeColumns+` FROM trades
		WHERE ($1::varchar IS NULL OR PROPOSER = $1::varchar OR COUNTERPARTY = $1::varchar)
		AND (cardinality($2::varchar[]) = 0 OR STATUS = ANY($2::varchar[]))
		AND (NOT $3::bool OR CHAIN_TRADE_ID IS NOT NULL)
		ORDER BY CREATED_AT DESC LIMIT NULLIF($4::bigint, 0) OFFSET $5;`)
	checkNoErr(err)

	return &TradeRepository{
		db:                    db,
		createStmt:            createStmt,
		getByIDStmt:           getByIDStmt,
		getByChainTradeIDStmt: getByChainTradeIDStmt,
		updateStmt:            updateStmt,
		getByParticipantStmt:  getByParticipantStmt,
		getExpiredPendingStmt: getExpiredPendingStmt,
		listStmt:              listStmt,
	}
}

// Create inserts a trade record and returns its generated ID
func (t *TradeRepository) Create(pCtx context.Context, pTrade persist.TradeRecord) (persist.DBID, error) {
	offered, err := marshalAssets(pTrade.OfferedAssets)
	if err != nil {
		return "", err
	}
	requested, err := marshalAssets(pTrade.RequestedAssets)
	if err != nil {
		return "", err
	}

	var chainTradeID sql.NullString
	if pTrade.ChainTradeID != nil {
		chainTradeID = sql.NullString{String: pTrade.ChainTradeID.String(), Valid: true}
	}
	var txHash sql.NullString
	if pTrade.TransactionHash != nil {
		txHash = sql.NullString{String: pTrade.TransactionHash.String(), Valid: true}
	}
	history := make([]string, len(pTrade.TransactionHistory))
	for i, h := range pTrade.TransactionHistory {
		history[i] = h.String()
	}

	var id persist.DBID
	err = t.createStmt.QueryRowContext(pCtx,
		persist.GenerateID(),
		chainTradeID,
		pTrade.Proposer,
		pTrade.Counterparty,
		offered,
		requested,
		bigString(pTrade.OfferedValue),
		bigString(pTrade.RequestedValue),
		pTrade.Status,
		string(pTrade.Resolution),
		pTrade.Message,
		pTrade.ExpiresAt,
		txHash,
		pq.Array(history),
	).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetByID returns the trade record with the given ID
func (t *TradeRepository) GetByID(pCtx context.Context, pID persist.DBID) (persist.TradeRecord, error) {
	rec, err := scanTrade(t.getByIDStmt.QueryRowContext(pCtx, pID))
	if errors.Is(err, sql.ErrNoRows) {
		return persist.TradeRecord{}, persist.ErrTradeNotFound{ID: pID}
	}
	return rec, err
}

// GetByChainTradeID returns the trade record referencing the given chain trade
func (t *TradeRepository) GetByChainTradeID(pCtx context.Context, pID persist.ChainTradeID) (persist.TradeRecord, error) {
	rec, err := scanTrade(t.getByChainTradeIDStmt.QueryRowContext(pCtx, pID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return persist.TradeRecord{}, persist.ErrTradeNotFoundByChainID{ChainTradeID: pID}
	}
	return rec, err
}

// Update applies a partial update. A transaction hash is also appended to the history.
func (t *TradeRepository) Update(pCtx context.Context, pID persist.DBID, pUpdate persist.TradeUpdate) error {
	var status, resolution, txHash sql.NullString
	if pUpdate.Status != nil {
		status = sql.NullString{String: pUpdate.Status.String(), Valid: true}
	}
	if pUpdate.Resolution != nil {
		resolution = sql.NullString{String: string(*pUpdate.Resolution), Valid: true}
	}
	if pUpdate.TransactionHash != nil {
		txHash = sql.NullString{String: pUpdate.TransactionHash.String(), Valid: true}
	}

	res, err := t.updateStmt.ExecContext(pCtx, pID, status, resolution, txHash)
	if err != nil {
		return err
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return persist.ErrTradeNotFound{ID: pID}
	}
	return nil
}

// GetByParticipant returns the trades an address proposed or received, newest first
func (t *TradeRepository) GetByParticipant(pCtx context.Context, pAddress persist.Address, pStatuses []persist.TradeStatus, pLimit int64) ([]persist.TradeRecord, error) {
	rows, err := t.getByParticipantStmt.QueryContext(pCtx, pAddress, pq.Array(statusStrings(pStatuses)), pLimit)
	if err != nil {
		return nil, err
	}
	return scanTrades(rows)
}

// GetExpiredPending returns pending trades whose deadline is at or before now, oldest deadline first
func (t *TradeRepository) GetExpiredPending(pCtx context.Context, pNow time.Time, pLimit int64) ([]persist.TradeRecord, error) {
	rows, err := t.getExpiredPendingStmt.QueryContext(pCtx, pNow, pLimit)
	if err != nil {
		return nil, err
	}
	return scanTrades(rows)
}

// List returns trades matching filter, newest first
func (t *TradeRepository) List(pCtx context.Context, pFilter persist.TradeFilter) ([]persist.TradeRecord, error) {
	var participant sql.NullString
	if pFilter.Participant != nil {
		participant = sql.NullString{String: pFilter.Participant.String(), Valid: true}
	}
	rows, err := t.listStmt.QueryContext(pCtx, participant, pq.Array(statusStrings(pFilter.Statuses)), pFilter.OnChainOnly, pFilter.Limit, pFilter.Offset)
	if err != nil {
		return nil, err
	}
	return scanTrades(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (persist.TradeRecord, error) {
	var rec persist.TradeRecord
	var chainTradeID, message, txHash sql.NullString
	var offered, requested []byte
	var offeredValue, requestedValue string
	var history pq.StringArray

	err := row.Scan(&rec.ID, &rec.CreationTime, &rec.LastUpdated, &chainTradeID, &rec.Proposer, &rec.Counterparty,
		&offered, &requested, &offeredValue, &requestedValue, &rec.Status, &rec.Resolution, &message, &rec.ExpiresAt,
		&txHash, &history)
	if err != nil {
		return persist.TradeRecord{}, err
	}

	if chainTradeID.Valid {
		id, err := persist.ParseChainTradeID(chainTradeID.String)
		if err != nil {
			return persist.TradeRecord{}, err
		}
		rec.ChainTradeID = &id
	}
	if message.Valid {
		rec.Message = &message.String
	}
	if txHash.Valid {
		hash := persist.TxHash(txHash.String)
		rec.TransactionHash = &hash
	}
	if err := json.Unmarshal(offered, &rec.OfferedAssets); err != nil {
		return persist.TradeRecord{}, err
	}
	if err := json.Unmarshal(requested, &rec.RequestedAssets); err != nil {
		return persist.TradeRecord{}, err
	}
	if rec.OfferedValue, err = parseBig(offeredValue); err != nil {
		return persist.TradeRecord{}, err
	}
	if rec.RequestedValue, err = parseBig(requestedValue); err != nil {
		return persist.TradeRecord{}, err
	}
	rec.TransactionHistory = make([]persist.TxHash, len(history))
	for i, h := range history {
		rec.TransactionHistory[i] = persist.TxHash(h)
	}
	return rec, nil
}

func scanTrades(rows *sql.Rows) ([]persist.TradeRecord, error) {
	defer rows.Close()

	trades := make([]persist.TradeRecord, 0, 10)
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return trades, nil
}

func marshalAssets(assets []persist.TradeAsset) ([]byte, error) {
	if assets == nil {
		assets = []persist.TradeAsset{}
	}
	return json.Marshal(assets)
}

func statusStrings(statuses []persist.TradeStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = s.String()
	}
	return out
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value: %s", s)
	}
	return v, nil
}
