package indexer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuspay/campuspay/pkg/config"
)

const (
	account = "0x00000000000000000000000000000000000A11cE"
	hash1   = "0x0000000000000000000000000000000000000000000000000000000000000001"
	hash2   = "0x0000000000000000000000000000000000000000000000000000000000000002"
)

func TestAccountTransactions_Paginates(t *testing.T) {
	var auth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = append(auth, r.Header.Get("Authorization"))
		assert.Equal(t, "/api/v2/addresses/"+common.HexToAddress(account).Hex()+"/transactions", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("block_number") == "" {
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{
						"hash":         hash1,
						"from":         map[string]string{"hash": account},
						"to":           map[string]string{"hash": "0x0000000000000000000000000000000000000b0b"},
						"value":        "1000000000000000000",
						"block_number": 10,
						"timestamp":    "2024-03-01T10:00:00.000000Z",
						"status":       "ok",
						"method":       "contribute",
					},
				},
				"next_page_params": map[string]any{"block_number": 10, "index": 0},
			})
			return
		}

		assert.Equal(t, "0", r.URL.Query().Get("index"))
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{
					"hash":   hash2,
					"from":   map[string]string{"hash": account},
					"to":     nil,
					"value":  "0",
					"block":  9,
					"result": "error",
				},
			},
			"next_page_params": nil,
		})
	}))
	defer srv.Close()

	c := New(config.Endpoint{URL: srv.URL + "/api/v2/", Token: "secret"})
	txs, err := c.AccountTransactions(context.Background(), common.HexToAddress(account), 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, common.HexToHash(hash1), txs[0].Hash)
	assert.Equal(t, "1000000000000000000", txs[0].Value.String())
	assert.Equal(t, uint64(10), txs[0].BlockNumber)
	assert.Equal(t, "ok", txs[0].Status)
	assert.Equal(t, "contribute", txs[0].Method)
	require.NotNil(t, txs[0].To)
	assert.Equal(t, 2024, txs[0].Timestamp.Year())

	assert.Nil(t, txs[1].To)
	assert.Equal(t, uint64(9), txs[1].BlockNumber)
	assert.Equal(t, "error", txs[1].Status)

	assert.Equal(t, []string{"Bearer secret", "Bearer secret"}, auth)
}

func TestAccountTransactions_Limit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"hash": hash1, "value": "1"},
				{"hash": hash2, "value": "2"},
			},
			"next_page_params": map[string]any{"block_number": 1},
		})
	}))
	defer srv.Close()

	c := New(config.Endpoint{URL: srv.URL})
	txs, err := c.AccountTransactions(context.Background(), common.HexToAddress(account), 1)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Equal(t, 1, calls)
}

func TestFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/transactions/"+common.HexToHash("0x01").Hex() {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(config.Endpoint{URL: srv.URL})

	_, err := c.Transaction(context.Background(), common.HexToHash("0x01"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.AccountTransactions(context.Background(), common.HexToAddress(account), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Contains(t, err.Error(), "status 429")
}
