package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/campuspay/campuspay/pkg/wallet"
)

var _ wallet.SessionStore = (*Store)(nil)

// LoadSession returns the persisted session for connector, or nil when none
func (s *Store) LoadSession(ctx context.Context, connector string) (*wallet.StoredSession, error) {
	var (
		account   string
		topic     string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT account, topic, updated_at FROM wallet_sessions WHERE connector = ?`,
		connector,
	).Scan(&account, &topic, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &wallet.StoredSession{
		Connector: connector,
		Account:   common.HexToAddress(account),
		Topic:     topic,
		UpdatedAt: time.UnixMilli(updatedAt),
	}, nil
}

// SaveSession replaces the connector's session
func (s *Store) SaveSession(ctx context.Context, session wallet.StoredSession) error {
	updatedAt := session.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_sessions (connector, account, topic, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (connector) DO UPDATE SET
			account = excluded.account,
			topic = excluded.topic,
			updated_at = excluded.updated_at`,
		session.Connector, session.Account.Hex(), session.Topic, updatedAt.UnixMilli(),
	)
	return err
}

func (s *Store) DeleteSession(ctx context.Context, connector string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM wallet_sessions WHERE connector = ?`, connector)
	return err
}
