package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/campuspay/campuspay/pkg/blockchain"
	"github.com/campuspay/campuspay/pkg/config"
	"github.com/campuspay/campuspay/pkg/indexer"
	"github.com/campuspay/campuspay/pkg/logger"
	"github.com/campuspay/campuspay/pkg/receipt"
	"github.com/campuspay/campuspay/pkg/store"
	"github.com/campuspay/campuspay/pkg/submitter"
	"github.com/campuspay/campuspay/pkg/wallet"
)

const maxUploadBytes = 32 << 20

type walletSession interface {
	Session() wallet.Session
	Connect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	RefreshBalance(ctx context.Context) error
}

type transactionSubmitter interface {
	Submit(ctx context.Context, req submitter.Request) (*submitter.Result, error)
}

type submissionLister interface {
	ListSubmissions(ctx context.Context, from common.Address, limit int) ([]store.Submission, error)
	GetSubmission(ctx context.Context, id string) (*store.Submission, error)
}

type historySource interface {
	AccountTransactions(ctx context.Context, account common.Address, limit int) ([]indexer.Transaction, error)
	Transaction(ctx context.Context, hash common.Hash) (*indexer.Transaction, error)
}

type contractReader interface {
	TicketPrice(ctx context.Context, eventID uint64) (*big.Int, error)
	Contribution(ctx context.Context, groupID uint64, member common.Address) (*big.Int, error)
	Donation(ctx context.Context, campaignID uint64, donor common.Address) (*big.Int, error)
}

type receiptScanner interface {
	Scan(ctx context.Context, image []byte) (*receipt.Receipt, error)
}

// gatewayDeps are the services behind the HTTP API. Receipts may be nil when
// no receipt model is configured.
type gatewayDeps struct {
	Wallet      walletSession
	Submitter   transactionSubmitter
	Submissions submissionLister
	History     historySource
	Contracts   contractReader
	Receipts    receiptScanner
	Currency    string
}

// transactionRequest is the body of POST /transactions. Amounts are decimal
// strings in the native currency.
type transactionRequest struct {
	Kind     string `json:"kind"`
	To       string `json:"to,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Note     string `json:"note,omitempty"`
	TargetID uint64 `json:"target_id,omitempty"`
	Members  int    `json:"members,omitempty"`
}

// setupGatewayHTTP creates an HTTP server for the gateway API endpoints
func setupGatewayHTTP(cfg *config.Config, deps gatewayDeps) *http.Server {
	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)

	// a submission blocks until confirmed or out of rounds
	rounds := cfg.Submitter.MaxRounds
	if rounds <= 0 {
		rounds = submitter.DefaultMaxRounds
	}
	interval := time.Duration(cfg.Submitter.PollIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = submitter.DefaultPollInterval
	}
	writeTimeout := time.Duration(rounds)*interval + time.Minute

	return &http.Server{
		Addr:              addr,
		Handler:           newGatewayMux(deps),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
	}
}

func newGatewayMux(deps gatewayDeps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "campuspay-gateway",
		})
	})

	mux.HandleFunc("GET /session", func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusOK, newSessionView(deps.Wallet.Session(), deps.Currency))
	})

	sessionAction := func(name string, fn func(ctx context.Context) error) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if err := fn(r.Context()); err != nil {
				logger.WarnCF("gateway", "Session action failed", map[string]any{
					"action": name,
					"error":  err.Error(),
				})
				writeError(w, err)
				return
			}
			writeJSONResponse(w, http.StatusOK, newSessionView(deps.Wallet.Session(), deps.Currency))
		}
	}
	mux.HandleFunc("POST /session/connect", sessionAction("connect", deps.Wallet.Connect))
	mux.HandleFunc("POST /session/reconnect", sessionAction("reconnect", deps.Wallet.Reconnect))
	mux.HandleFunc("POST /session/disconnect", sessionAction("disconnect", deps.Wallet.Disconnect))
	mux.HandleFunc("POST /session/balance", sessionAction("balance", deps.Wallet.RefreshBalance))

	mux.HandleFunc("POST /transactions", func(w http.ResponseWriter, r *http.Request) {
		var body transactionRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
			logger.WarnCF("gateway", "Invalid JSON in transaction request", map[string]any{"error": err.Error()})
			writeErrorMessage(w, http.StatusBadRequest, "invalid JSON")
			return
		}

		req, err := body.toRequest()
		if err != nil {
			writeError(w, err)
			return
		}

		result, err := deps.Submitter.Submit(r.Context(), req)
		if err != nil {
			status := statusFor(err)
			resp := map[string]any{"error": err.Error()}
			if result != nil {
				resp["result"] = result
			}
			writeJSONResponse(w, status, resp)
			return
		}

		logger.InfoCF("gateway", "Transaction confirmed", map[string]any{
			"kind":    string(req.Kind),
			"tx_hash": result.Hash.Hex(),
		})
		writeJSONResponse(w, http.StatusOK, result)
	})

	mux.HandleFunc("GET /transactions", func(w http.ResponseWriter, r *http.Request) {
		account, err := queryAccount(r, deps.Wallet, false)
		if err != nil {
			writeError(w, err)
			return
		}
		subs, err := deps.Submissions.ListSubmissions(r.Context(), account, queryLimit(r, 50))
		if err != nil {
			writeError(w, err)
			return
		}
		if subs == nil {
			subs = []store.Submission{}
		}
		writeJSONResponse(w, http.StatusOK, subs)
	})

	mux.HandleFunc("GET /transactions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sub, err := deps.Submissions.GetSubmission(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, sub)
	})

	mux.HandleFunc("GET /history", func(w http.ResponseWriter, r *http.Request) {
		account, err := queryAccount(r, deps.Wallet, true)
		if err != nil {
			writeError(w, err)
			return
		}
		txs, err := deps.History.AccountTransactions(r.Context(), account, queryLimit(r, 20))
		if err != nil {
			writeError(w, err)
			return
		}
		if txs == nil {
			txs = []indexer.Transaction{}
		}
		writeJSONResponse(w, http.StatusOK, txs)
	})

	mux.HandleFunc("GET /history/{hash}", func(w http.ResponseWriter, r *http.Request) {
		hash, err := parseHash(r.PathValue("hash"))
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		tx, err := deps.History.Transaction(r.Context(), hash)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, tx)
	})

	mux.HandleFunc("GET /tickets/{id}/price", func(w http.ResponseWriter, r *http.Request) {
		id, err := parseTargetID(r.PathValue("id"))
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		price, err := deps.Contracts.TicketPrice(r.Context(), id)
		writeAmount(w, map[string]any{"event_id": id}, price, err, deps.Currency)
	})

	accountLookup := func(fn func(ctx context.Context, id uint64, account common.Address) (*big.Int, error)) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			id, err := parseTargetID(r.PathValue("id"))
			if err != nil {
				writeErrorMessage(w, http.StatusBadRequest, err.Error())
				return
			}
			account, err := queryAccount(r, deps.Wallet, true)
			if err != nil {
				writeError(w, err)
				return
			}
			amount, err := fn(r.Context(), id, account)
			writeAmount(w, map[string]any{"id": id, "account": account.Hex()}, amount, err, deps.Currency)
		}
	}
	mux.HandleFunc("GET /splits/{id}/contribution", accountLookup(
		func(ctx context.Context, id uint64, account common.Address) (*big.Int, error) {
			return deps.Contracts.Contribution(ctx, id, account)
		}))
	mux.HandleFunc("GET /campaigns/{id}/donation", accountLookup(
		func(ctx context.Context, id uint64, account common.Address) (*big.Int, error) {
			return deps.Contracts.Donation(ctx, id, account)
		}))

	mux.HandleFunc("POST /receipts/scan", func(w http.ResponseWriter, r *http.Request) {
		if deps.Receipts == nil {
			writeErrorMessage(w, http.StatusServiceUnavailable, "receipt scanning is not configured")
			return
		}

		image, err := readImage(w, r)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, err.Error())
			return
		}

		rec, err := deps.Receipts.Scan(r.Context(), image)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, rec)
	})

	return mux
}

func (b transactionRequest) toRequest() (submitter.Request, error) {
	kind, err := submitter.ParseKind(b.Kind)
	if err != nil {
		return submitter.Request{}, err
	}
	req := submitter.Request{
		Kind:     kind,
		Note:     b.Note,
		TargetID: b.TargetID,
	}

	if b.To != "" {
		if !common.IsHexAddress(b.To) {
			return submitter.Request{}, errBadRequest(fmt.Sprintf("invalid recipient %q", b.To))
		}
		req.To = common.HexToAddress(b.To)
	}

	if b.Amount != "" {
		if req.Amount, err = blockchain.ParseAmount(b.Amount, blockchain.NativeDecimals); err != nil {
			return submitter.Request{}, err
		}
	}

	if kind == submitter.KindSplit && b.Members > 0 {
		if req.Amount, err = submitter.SplitShare(req.Amount, b.Members); err != nil {
			return submitter.Request{}, err
		}
	}
	return req, nil
}

// queryAccount reads ?account=, falling back to the connected account. When
// required is false and nothing is connected the zero address is returned.
func queryAccount(r *http.Request, session walletSession, required bool) (common.Address, error) {
	if v := r.URL.Query().Get("account"); v != "" {
		if !common.IsHexAddress(v) {
			return common.Address{}, errBadRequest(fmt.Sprintf("invalid account %q", v))
		}
		return common.HexToAddress(v), nil
	}
	if s := session.Session(); s.Connected() {
		return *s.Account, nil
	}
	if required {
		return common.Address{}, wallet.ErrNotConnected
	}
	return common.Address{}, nil
}

func queryLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n > 200 {
		return def
	}
	return n
}

// readImage accepts either a raw image body or a multipart "image" field
func readImage(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("image")
		if err != nil {
			return nil, fmt.Errorf("missing image field: %w", err)
		}
		defer file.Close()
		return io.ReadAll(file)
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty body")
	}
	return data, nil
}

type errBadRequest string

func (e errBadRequest) Error() string { return string(e) }

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	var bad errBadRequest
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest
	case errors.Is(err, wallet.ErrNotConnected),
		errors.Is(err, wallet.ErrNoAccounts),
		errors.Is(err, wallet.ErrWalletNotCreated):
		return http.StatusConflict
	case errors.Is(err, wallet.ErrPINRequired),
		errors.Is(err, wallet.ErrInvalidPIN):
		return http.StatusUnauthorized
	case errors.Is(err, blockchain.ErrInvalidAmount),
		errors.Is(err, submitter.ErrUnknownKind),
		errors.Is(err, submitter.ErrMissingRecipient),
		errors.Is(err, submitter.ErrNoteTooLong),
		errors.Is(err, submitter.ErrInvalidMembers),
		errors.Is(err, submitter.ErrContractNotConfigured):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, indexer.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, receipt.ErrNotImage), errors.Is(err, receipt.ErrUnsupportedImage):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, receipt.ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, submitter.ErrReverted), errors.Is(err, receipt.ErrUnreadable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, submitter.ErrNotConfirmed),
		errors.Is(err, wallet.ErrPairingTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeAmount(w http.ResponseWriter, view map[string]any, amount *big.Int, err error, currency string) {
	if err != nil {
		writeError(w, err)
		return
	}
	view["amount"] = blockchain.FormatAmount(amount, blockchain.NativeDecimals)
	view["amount_wei"] = amount.String()
	view["currency"] = currency
	writeJSONResponse(w, http.StatusOK, view)
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorMessage(w, statusFor(err), err.Error())
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSONResponse(w, status, map[string]string{"error": msg})
}

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnCF("gateway", "Failed to write response", map[string]any{"error": err.Error()})
	}
}
