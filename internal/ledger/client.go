package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/offsetpool/offsetpool/internal/config"
	"github.com/offsetpool/offsetpool/internal/model"
)

// Reader is the read-only half of the ledger surface. Batch and retirement
// code depends on this interface; tests supply in-memory fakes.
type Reader interface {
	ListSellOrders(ctx context.Context) ([]model.SellOrder, error)
	ListCreditClasses(ctx context.Context) ([]model.CreditClass, error)
	ListProjects(ctx context.Context) ([]model.Project, error)
	GetAllowedDenoms(ctx context.Context) ([]model.AllowedDenom, error)
	GetRetirementByID(ctx context.Context, idOrTxHash string) (*model.Retirement, error)
	WaitForRetirement(ctx context.Context, txHash string, timeout time.Duration) (*model.Retirement, error)
}

// Broadcaster signs and submits messages with the wallet handle.
type Broadcaster interface {
	SignAndBroadcast(ctx context.Context, msgs []sdk.Msg) (*BroadcastResult, error)
	BankBalance(ctx context.Context, denom string) (*big.Int, error)
	Address() string
	HasWallet() bool
}

// Client is the full ledger surface.
type Client interface {
	Reader
	Broadcaster
}

// BroadcastResult is the outcome of a broadcast once the transaction has
// been seen by the chain. Code zero means the messages executed.
type BroadcastResult struct {
	Code   uint32
	TxHash string
	Height int64
	RawLog string
}

const requestTimeout = 15 * time.Second

// client implements Client over the node REST endpoint and the GraphQL
// indexer. Reads are cached in Redis for a short TTL when a client is
// available; the cache is advisory only.
type client struct {
	restURL    string
	indexerURL string
	http       *http.Client
	wallet     *Wallet
	signer     *signer
	rdb        *redis.Client
	cache      config.CacheConfig
	log        zerolog.Logger
}

// New builds a ledger client. wallet may be nil for read-only deployments;
// rdb may be nil to disable caching.
func New(cfg config.Config, wallet *Wallet, rdb *redis.Client, log zerolog.Logger) Client {
	c := &client{
		restURL:    cfg.LedgerRESTURL,
		indexerURL: cfg.LedgerIndexerURL,
		http:       &http.Client{Timeout: requestTimeout},
		wallet:     wallet,
		rdb:        rdb,
		cache:      config.LoadCacheConfig(),
		log:        log.With().Str("component", "ledger").Logger(),
	}
	if wallet != nil {
		c.signer = newSigner(cfg, wallet, c, log)
	}
	return c
}

func (c *client) HasWallet() bool { return c.wallet != nil }

func (c *client) Address() string {
	if c.wallet == nil {
		return ""
	}
	return c.wallet.Address()
}

// --- REST read models -------------------------------------------------------

type sellOrdersResp struct {
	SellOrders []struct {
		ID                string `json:"id"`
		BatchDenom        string `json:"batch_denom"`
		Quantity          string `json:"quantity"`
		AskAmount         string `json:"ask_amount"`
		AskDenom          string `json:"ask_denom"`
		DisableAutoRetire bool   `json:"disable_auto_retire"`
		Expiration        string `json:"expiration"`
	} `json:"sell_orders"`
}

type classesResp struct {
	Classes []struct {
		ID               string `json:"id"`
		Admin            string `json:"admin"`
		CreditTypeAbbrev string `json:"credit_type_abbrev"`
	} `json:"classes"`
}

type projectsResp struct {
	Projects []struct {
		ID           string `json:"id"`
		ClassID      string `json:"class_id"`
		Jurisdiction string `json:"jurisdiction"`
		Metadata     string `json:"metadata"`
	} `json:"projects"`
}

type allowedDenomsResp struct {
	AllowedDenoms []struct {
		BankDenom    string `json:"bank_denom"`
		DisplayDenom string `json:"display_denom"`
		Exponent     uint32 `json:"exponent"`
	} `json:"allowed_denoms"`
}

type balanceResp struct {
	Balance struct {
		Denom  string `json:"denom"`
		Amount string `json:"amount"`
	} `json:"balance"`
}

// ListSellOrders returns every open sell order on the marketplace.
func (c *client) ListSellOrders(ctx context.Context) ([]model.SellOrder, error) {
	var resp sellOrdersResp
	if err := c.getJSON(ctx, "/regen/ecocredit/marketplace/v1/sell-orders?pagination.limit=1000", "sell-orders", &resp); err != nil {
		return nil, err
	}
	out := make([]model.SellOrder, 0, len(resp.SellOrders))
	for _, so := range resp.SellOrders {
		id, err := strconv.ParseUint(so.ID, 10, 64)
		if err != nil {
			c.log.Warn().Str("id", so.ID).Msg("skipping sell order with non-numeric id")
			continue
		}
		ask, ok := new(big.Int).SetString(so.AskAmount, 10)
		if !ok {
			c.log.Warn().Str("id", so.ID).Str("ask", so.AskAmount).Msg("skipping sell order with bad ask amount")
			continue
		}
		out = append(out, model.SellOrder{
			ID:                id,
			BatchDenom:        so.BatchDenom,
			Quantity:          so.Quantity,
			AskAmount:         ask,
			AskDenom:          so.AskDenom,
			DisableAutoRetire: so.DisableAutoRetire,
			Expiration:        so.Expiration,
		})
	}
	return out, nil
}

// ListCreditClasses returns all credit classes.
func (c *client) ListCreditClasses(ctx context.Context) ([]model.CreditClass, error) {
	var resp classesResp
	if err := c.getJSON(ctx, "/regen/ecocredit/v1/classes?pagination.limit=500", "classes", &resp); err != nil {
		return nil, err
	}
	out := make([]model.CreditClass, 0, len(resp.Classes))
	for _, cl := range resp.Classes {
		out = append(out, model.CreditClass{ID: cl.ID, Admin: cl.Admin, CreditTypeAbbrev: cl.CreditTypeAbbrev})
	}
	return out, nil
}

// ListProjects returns all registered projects.
func (c *client) ListProjects(ctx context.Context) ([]model.Project, error) {
	var resp projectsResp
	if err := c.getJSON(ctx, "/regen/ecocredit/v1/projects?pagination.limit=500", "projects", &resp); err != nil {
		return nil, err
	}
	out := make([]model.Project, 0, len(resp.Projects))
	for _, p := range resp.Projects {
		out = append(out, model.Project{ID: p.ID, ClassID: p.ClassID, Jurisdiction: p.Jurisdiction, Metadata: p.Metadata})
	}
	return out, nil
}

// GetAllowedDenoms returns the payment denoms the marketplace accepts.
func (c *client) GetAllowedDenoms(ctx context.Context) ([]model.AllowedDenom, error) {
	var resp allowedDenomsResp
	if err := c.getJSON(ctx, "/regen/ecocredit/marketplace/v1/allowed-denoms", "allowed-denoms", &resp); err != nil {
		return nil, err
	}
	out := make([]model.AllowedDenom, 0, len(resp.AllowedDenoms))
	for _, d := range resp.AllowedDenoms {
		out = append(out, model.AllowedDenom{BankDenom: d.BankDenom, DisplayDenom: d.DisplayDenom, Exponent: d.Exponent})
	}
	return out, nil
}

// BankBalance returns the wallet's balance for one denom in micro-units.
func (c *client) BankBalance(ctx context.Context, denom string) (*big.Int, error) {
	if c.wallet == nil {
		return nil, ErrNoWallet
	}
	path := fmt.Sprintf("/cosmos/bank/v1beta1/balances/%s/by_denom?denom=%s",
		c.wallet.Address(), url.QueryEscape(denom))
	var resp balanceResp
	if err := c.getJSONUncached(ctx, path, &resp); err != nil {
		return nil, err
	}
	if resp.Balance.Amount == "" {
		return big.NewInt(0), nil
	}
	amt, ok := new(big.Int).SetString(resp.Balance.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("%w: bad balance amount %q", ErrRejected, resp.Balance.Amount)
	}
	return amt, nil
}

// --- indexer ----------------------------------------------------------------

type retirementNode struct {
	NodeID       string `json:"nodeId"`
	Amount       string `json:"amount"`
	BatchDenom   string `json:"batchDenom"`
	Owner        string `json:"owner"`
	Jurisdiction string `json:"jurisdiction"`
	Reason       string `json:"reason"`
	Timestamp    string `json:"timestamp"`
	TxHash       string `json:"txHash"`
	BlockHeight  string `json:"blockHeight"`
}

type retirementsGQLResp struct {
	Data struct {
		AllRetirements struct {
			Nodes []retirementNode `json:"nodes"`
		} `json:"allRetirements"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

const retirementsByTxHashQuery = `query ($txHash: String!) {
  allRetirements(condition: {txHash: $txHash}, first: 1) {
    nodes { nodeId amount batchDenom owner jurisdiction reason timestamp txHash blockHeight }
  }
}`

const retirementsByNodeIDQuery = `query ($nodeId: ID!) {
  allRetirements(condition: {nodeId: $nodeId}, first: 1) {
    nodes { nodeId amount batchDenom owner jurisdiction reason timestamp txHash blockHeight }
  }
}`

// GetRetirementByID looks a retirement up by indexer node id or, when that
// misses, by transaction hash. A nil record with nil error means the
// indexer has not seen it.
func (c *client) GetRetirementByID(ctx context.Context, idOrTxHash string) (*model.Retirement, error) {
	rec, err := c.queryRetirement(ctx, retirementsByNodeIDQuery, map[string]any{"nodeId": idOrTxHash})
	if err != nil || rec != nil {
		return rec, err
	}
	return c.queryRetirement(ctx, retirementsByTxHashQuery, map[string]any{"txHash": idOrTxHash})
}

// WaitForRetirement polls the indexer with exponential backoff until a
// retirement for txHash appears or the timeout elapses. A nil result is not
// an error: it means the indexer is lagging and the caller should look the
// record up later by transaction hash.
func (c *client) WaitForRetirement(ctx context.Context, txHash string, timeout time.Duration) (*model.Retirement, error) {
	deadline := time.Now().Add(timeout)
	delay := 2 * time.Second
	for {
		rec, err := c.queryRetirement(ctx, retirementsByTxHashQuery, map[string]any{"txHash": txHash})
		if err != nil {
			// Indexer hiccups are survivable here; the tx is already
			// on chain. Keep polling until the deadline.
			c.log.Warn().Err(err).Str("tx_hash", txHash).Msg("indexer poll failed")
		} else if rec != nil {
			return rec, nil
		}
		if time.Now().Add(delay).After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(delay):
		}
		if delay < 16*time.Second {
			delay *= 2
		}
	}
}

func (c *client) queryRetirement(ctx context.Context, query string, vars map[string]any) (*model.Retirement, error) {
	body, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.indexerURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: indexer: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: indexer status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: indexer status %d", ErrRejected, resp.StatusCode)
	}
	var out retirementsGQLResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: indexer: %v", ErrUnavailable, err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("%w: indexer: %s", ErrRejected, out.Errors[0].Message)
	}
	nodes := out.Data.AllRetirements.Nodes
	if len(nodes) == 0 {
		return nil, nil
	}
	n := nodes[0]
	height, _ := strconv.ParseInt(n.BlockHeight, 10, 64)
	return &model.Retirement{
		NodeID:       n.NodeID,
		Amount:       n.Amount,
		BatchDenom:   n.BatchDenom,
		Owner:        n.Owner,
		Jurisdiction: n.Jurisdiction,
		Reason:       n.Reason,
		Timestamp:    n.Timestamp,
		TxHash:       n.TxHash,
		BlockHeight:  height,
	}, nil
}

// SignAndBroadcast signs the messages with the wallet and submits them,
// then polls until the transaction is committed. See signer.go.
func (c *client) SignAndBroadcast(ctx context.Context, msgs []sdk.Msg) (*BroadcastResult, error) {
	if c.signer == nil {
		return nil, ErrNoWallet
	}
	return c.signer.signAndBroadcast(ctx, msgs)
}

// --- HTTP plumbing ----------------------------------------------------------

// getJSON fetches a REST path with the Redis cache in front of it.
func (c *client) getJSON(ctx context.Context, path, cacheKey string, out any) error {
	if c.rdb != nil && c.cache.Enabled {
		key := c.cache.Prefix + ":" + cacheKey
		if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
			if json.Unmarshal(raw, out) == nil {
				return nil
			}
		}
		if err := c.getJSONUncached(ctx, path, out); err != nil {
			return err
		}
		if raw, err := json.Marshal(out); err == nil {
			c.rdb.Set(ctx, key, raw, c.cache.TTL)
		}
		return nil
	}
	return c.getJSONUncached(ctx, path, out)
}

func (c *client) getJSONUncached(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.restURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d on %s", ErrUnavailable, resp.StatusCode, path)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d on %s: %s", ErrRejected, resp.StatusCode, path, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
