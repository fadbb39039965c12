package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mdp/qrterminal/v3"

	"github.com/campuspay/campuspay/pkg/logger"
)

// Relay methods
const (
	methodRequestPair = "session_request_pair"
	methodApprove     = "session_approve"
	methodResume      = "session_resume"
	methodDelete      = "session_delete"
	methodAccounts    = "accounts_changed"
	methodSignTx      = "eth_signTransaction"
)

const relayWriteTimeout = 10 * time.Second

// RelayConfig configures a RelayConnector
type RelayConfig struct {
	URL         string
	PairTimeout time.Duration
	Store       SessionStore
	// ProjectID is sent as the X-Project-ID handshake header when set
	ProjectID string
	// QRWriter receives the pairing QR code; nil disables it.
	QRWriter io.Writer
	Dialer   *websocket.Dialer
}

// RelayConnector reaches a remote wallet through a websocket relay. Pairing
// shows a URI the wallet scans; the wallet then approves with its accounts.
type RelayConnector struct {
	cfg RelayConfig

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan relayMessage
	topic   string

	writeMu   sync.Mutex
	approvals chan approvalParams
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

type relayMessage struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *relayError     `json:"error,omitempty"`
}

type relayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *relayError) Error() string {
	return fmt.Sprintf("relay error %d: %s", e.Code, e.Message)
}

type pairResult struct {
	Topic string `json:"topic"`
	URI   string `json:"uri"`
}

type topicParams struct {
	Topic string `json:"topic"`
}

type approvalParams struct {
	Topic    string           `json:"topic"`
	Accounts []common.Address `json:"accounts"`
}

type signParams struct {
	Topic   string         `json:"topic"`
	From    common.Address `json:"from"`
	ChainID *hexutil.Big   `json:"chainId"`
	Raw     hexutil.Bytes  `json:"raw"`
}

type signResult struct {
	Raw hexutil.Bytes `json:"raw"`
}

// NewRelayConnector creates a connector; the socket is dialed on first use
func NewRelayConnector(cfg RelayConfig) *RelayConnector {
	if cfg.PairTimeout <= 0 {
		cfg.PairTimeout = 2 * time.Minute
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &RelayConnector{
		cfg:       cfg,
		pending:   make(map[string]chan relayMessage),
		approvals: make(chan approvalParams, 1),
		events:    make(chan Event, 8),
		done:      make(chan struct{}),
	}
}

func (c *RelayConnector) Name() string { return ConnectorRelay }

func (c *RelayConnector) Events() <-chan Event { return c.events }

// Connect requests a pairing, shows its URI and waits for the wallet to approve
func (c *RelayConnector) Connect(ctx context.Context) ([]common.Address, error) {
	var pair pairResult
	if err := c.call(ctx, methodRequestPair, nil, &pair); err != nil {
		return nil, err
	}

	logger.InfoCF("wallet", "Waiting for wallet approval", map[string]any{
		"topic": pair.Topic,
	})
	if c.cfg.QRWriter != nil {
		fmt.Fprintln(c.cfg.QRWriter, "Scan with your wallet to connect:")
		qrterminal.GenerateHalfBlock(pair.URI, qrterminal.L, c.cfg.QRWriter)
		fmt.Fprintln(c.cfg.QRWriter, pair.URI)
	}

	timer := time.NewTimer(c.cfg.PairTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrPairingTimeout
		case <-c.done:
			return nil, ErrRelayClosed
		case approval := <-c.approvals:
			if approval.Topic != pair.Topic {
				continue
			}
			if len(approval.Accounts) == 0 {
				return nil, ErrNoAccounts
			}
			c.setTopic(ctx, approval.Topic, approval.Accounts[0])
			return approval.Accounts, nil
		}
	}
}

// Reconnect resumes the persisted topic. A topic the relay no longer knows is
// forgotten and treated as no prior session.
func (c *RelayConnector) Reconnect(ctx context.Context) ([]common.Address, error) {
	if c.cfg.Store == nil {
		return nil, nil
	}

	stored, err := c.cfg.Store.LoadSession(ctx, ConnectorRelay)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if stored == nil || stored.Topic == "" {
		return nil, nil
	}

	var resumed approvalParams
	err = c.call(ctx, methodResume, topicParams{Topic: stored.Topic}, &resumed)
	if err != nil {
		var relayErr *relayError
		if errors.As(err, &relayErr) {
			logger.WarnCF("wallet", "Relay rejected stored session", map[string]any{
				"topic": stored.Topic,
				"error": err.Error(),
			})
			return nil, c.cfg.Store.DeleteSession(ctx, ConnectorRelay)
		}
		return nil, err
	}
	if len(resumed.Accounts) == 0 {
		return nil, c.cfg.Store.DeleteSession(ctx, ConnectorRelay)
	}

	c.setTopic(ctx, stored.Topic, resumed.Accounts[0])
	return resumed.Accounts, nil
}

// Disconnect deletes the session on the relay and locally. Without a live
// topic the persisted one is deleted.
func (c *RelayConnector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	topic := c.topic
	c.topic = ""
	c.mu.Unlock()

	if topic == "" && c.cfg.Store != nil {
		if stored, err := c.cfg.Store.LoadSession(ctx, ConnectorRelay); err == nil && stored != nil {
			topic = stored.Topic
		}
	}

	var callErr error
	if topic != "" {
		callErr = c.call(ctx, methodDelete, topicParams{Topic: topic}, nil)
	}
	if c.cfg.Store != nil {
		if err := c.cfg.Store.DeleteSession(ctx, ConnectorRelay); err != nil && callErr == nil {
			callErr = err
		}
	}
	return callErr
}

// SignTransactions sends each transaction to the wallet for signature and
// checks that the returned payload is signed by from.
func (c *RelayConnector) SignTransactions(
	ctx context.Context,
	from common.Address,
	chainID *big.Int,
	txs []*types.Transaction,
) ([]*types.Transaction, error) {
	c.mu.Lock()
	topic := c.topic
	c.mu.Unlock()
	if topic == "" {
		return nil, ErrNotConnected
	}

	signer := types.LatestSignerForChainID(chainID)
	signed := make([]*types.Transaction, 0, len(txs))
	for _, tx := range txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, err
		}

		var res signResult
		err = c.call(ctx, methodSignTx, signParams{
			Topic:   topic,
			From:    from,
			ChainID: (*hexutil.Big)(chainID),
			Raw:     raw,
		}, &res)
		if err != nil {
			return nil, err
		}

		out := new(types.Transaction)
		if err := out.UnmarshalBinary(res.Raw); err != nil {
			return nil, fmt.Errorf("decode signed transaction: %w", err)
		}
		sender, err := types.Sender(signer, out)
		if err != nil || sender != from {
			return nil, ErrSignerMismatch
		}
		signed = append(signed, out)
	}
	return signed, nil
}

// Close drops the relay socket; the remote session is kept for Reconnect
func (c *RelayConnector) Close() error {
	c.closeOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *RelayConnector) setTopic(ctx context.Context, topic string, account common.Address) {
	c.mu.Lock()
	c.topic = topic
	c.mu.Unlock()

	if c.cfg.Store == nil {
		return
	}
	err := c.cfg.Store.SaveSession(ctx, StoredSession{
		Connector: ConnectorRelay,
		Account:   account,
		Topic:     topic,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		logger.WarnCF("wallet", "Failed to persist session", map[string]any{
			"error": err.Error(),
		})
	}
}

// dial returns the live socket, dialing and starting the read loop if needed
func (c *RelayConnector) dial(ctx context.Context) (*websocket.Conn, error) {
	select {
	case <-c.done:
		return nil, ErrRelayClosed
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}

	var header http.Header
	if c.cfg.ProjectID != "" {
		header = http.Header{"X-Project-ID": []string{c.cfg.ProjectID}}
	}
	conn, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", c.cfg.URL, err)
	}
	c.conn = conn
	go c.readLoop(conn)

	logger.DebugCF("wallet", "Relay connected", map[string]any{
		"url": c.cfg.URL,
	})
	return conn, nil
}

func (c *RelayConnector) call(ctx context.Context, method string, params, result any) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	msg := relayMessage{ID: uuid.NewString(), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return err
		}
		msg.Params = raw
	}

	reply := make(chan relayMessage, 1)
	c.mu.Lock()
	c.pending[msg.ID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(relayWriteTimeout))
	err = conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrRelayClosed
	case resp, ok := <-reply:
		if !ok {
			return ErrRelayClosed
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	}
}

func (c *RelayConnector) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		var msg relayMessage
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				logger.WarnCF("wallet", "Relay read failed", map[string]any{
					"error": err.Error(),
				})
			}
			return
		}

		if msg.Method == "" {
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
			continue
		}

		c.handleNotification(msg)
	}
}

func (c *RelayConnector) handleNotification(msg relayMessage) {
	switch msg.Method {
	case methodApprove:
		var p approvalParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return
		}
		select {
		case c.approvals <- p:
		default:
		}

	case methodDelete:
		var p topicParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return
		}
		c.mu.Lock()
		current := c.topic
		if p.Topic == current {
			c.topic = ""
		}
		c.mu.Unlock()
		if current == "" || p.Topic != current {
			return
		}
		if c.cfg.Store != nil {
			if err := c.cfg.Store.DeleteSession(context.Background(), ConnectorRelay); err != nil {
				logger.WarnCF("wallet", "Failed to delete session", map[string]any{
					"error": err.Error(),
				})
			}
		}
		c.emit(Event{Type: EventDisconnected})

	case methodAccounts:
		var p approvalParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return
		}
		c.mu.Lock()
		match := p.Topic == c.topic && c.topic != ""
		c.mu.Unlock()
		if match {
			c.emit(Event{Type: EventAccountsChanged, Accounts: p.Accounts})
		}
	}
}

func (c *RelayConnector) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		logger.WarnCF("wallet", "Dropping relay event", map[string]any{
			"event": string(ev.Type),
		})
	}
}
