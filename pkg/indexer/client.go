// Package indexer reads account history from a Blockscout-compatible
// indexer REST API.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/campuspay/campuspay/pkg/config"
)

var ErrNotFound = errors.New("indexer: not found")

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Limiter *rate.Limiter
}

// Transaction is one history entry
type Transaction struct {
	Hash        common.Hash     `json:"hash"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to,omitempty"`
	Value       *big.Int        `json:"value"`
	BlockNumber uint64          `json:"block_number"`
	Timestamp   time.Time       `json:"timestamp"`
	Status      string          `json:"status"`
	Method      string          `json:"method,omitempty"`
}

type addressRef struct {
	Hash common.Address `json:"hash"`
}

type rawTransaction struct {
	Hash        common.Hash `json:"hash"`
	From        *addressRef `json:"from"`
	To          *addressRef `json:"to"`
	Value       string      `json:"value"`
	BlockNumber uint64      `json:"block_number"`
	Block       uint64      `json:"block"`
	Timestamp   time.Time   `json:"timestamp"`
	Status      string      `json:"status"`
	Result      string      `json:"result"`
	Method      string      `json:"method"`
}

type page struct {
	Items          []rawTransaction `json:"items"`
	NextPageParams map[string]any   `json:"next_page_params"`
}

func New(endpoint config.Endpoint) *Client {
	return &Client{
		BaseURL: strings.TrimRight(endpoint.URL, "/"),
		Token:   endpoint.Token,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
		// public indexers throttle aggressively
		Limiter: rate.NewLimiter(rate.Limit(5), 1),
	}
}

// AccountTransactions returns up to limit of the account's most recent
// transactions, following pagination as needed.
func (c *Client) AccountTransactions(ctx context.Context, account common.Address, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 25
	}

	path := "/addresses/" + account.Hex() + "/transactions"
	var (
		out   []Transaction
		query url.Values
	)
	for len(out) < limit {
		var p page
		if err := c.fetchJSON(ctx, path, query, &p); err != nil {
			return nil, err
		}
		for _, raw := range p.Items {
			out = append(out, raw.normalize())
			if len(out) == limit {
				break
			}
		}
		if len(p.NextPageParams) == 0 || len(p.Items) == 0 {
			break
		}
		query = pageQuery(p.NextPageParams)
	}
	return out, nil
}

// Transaction looks up one transaction by hash
func (c *Client) Transaction(ctx context.Context, hash common.Hash) (*Transaction, error) {
	var raw rawTransaction
	if err := c.fetchJSON(ctx, "/transactions/"+hash.Hex(), nil, &raw); err != nil {
		return nil, err
	}
	tx := raw.normalize()
	return &tx, nil
}

func (r rawTransaction) normalize() Transaction {
	tx := Transaction{
		Hash:        r.Hash,
		BlockNumber: r.BlockNumber,
		Timestamp:   r.Timestamp,
		Status:      r.Status,
		Method:      r.Method,
		Value:       new(big.Int),
	}
	if tx.BlockNumber == 0 {
		tx.BlockNumber = r.Block
	}
	if tx.Status == "" {
		tx.Status = r.Result
	}
	if r.From != nil {
		tx.From = r.From.Hash
	}
	if r.To != nil {
		to := r.To.Hash
		tx.To = &to
	}
	if v, ok := new(big.Int).SetString(r.Value, 10); ok {
		tx.Value = v
	}
	return tx
}

func pageQuery(params map[string]any) url.Values {
	q := url.Values{}
	for k, v := range params {
		switch val := v.(type) {
		case nil:
		case string:
			q.Set(k, val)
		case float64:
			q.Set(k, big.NewFloat(val).Text('f', -1))
		default:
			q.Set(k, fmt.Sprint(val))
		}
	}
	return q
}

func (c *Client) fetchJSON(ctx context.Context, path string, query url.Values, out any) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	target := c.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		msg := "indexer request failed"
		if body, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
			trimmed := strings.TrimSpace(string(body))
			if trimmed != "" {
				msg = fmt.Sprintf("%s: %s", msg, trimmed)
			}
		}
		return fmt.Errorf("%s (status %d)", msg, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	return nil
}
