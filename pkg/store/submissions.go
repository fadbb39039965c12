package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Submission is the local record of a transaction sent through campuspay
type Submission struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	Amount      string         `json:"amount"`
	Note        string         `json:"note,omitempty"`
	TargetID    uint64         `json:"target_id,omitempty"`
	Hash        common.Hash    `json:"hash"`
	Status      string         `json:"status"`
	BlockNumber uint64         `json:"block_number,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// RecordSubmission inserts a new submission
func (s *Store) RecordSubmission(ctx context.Context, sub Submission) error {
	now := time.Now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (
			id, kind, from_address, to_address, amount, note, target_id,
			tx_hash, status, block_number, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Kind, sub.From.Hex(), sub.To.Hex(), sub.Amount, sub.Note, int64(sub.TargetID),
		sub.Hash.Hex(), sub.Status, int64(sub.BlockNumber), sub.Error,
		sub.CreatedAt.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	return nil
}

// UpdateSubmission sets the outcome of a submission
func (s *Store) UpdateSubmission(ctx context.Context, id, status string, block uint64, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE submissions SET status = ?, block_number = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		status, int64(block), errMsg, time.Now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetSubmission returns one submission by id
func (s *Store) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	rows, err := s.db.QueryContext(ctx, selectSubmissions+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	subs, err := scanSubmissions(rows)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	return &subs[0], nil
}

// ListSubmissions returns the newest submissions sent from account. A zero
// account lists every sender.
func (s *Store) ListSubmissions(ctx context.Context, from common.Address, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 50
	}

	query := selectSubmissions
	args := []any{}
	if from != (common.Address{}) {
		query += ` WHERE from_address = ?`
		args = append(args, from.Hex())
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanSubmissions(rows)
}

const selectSubmissions = `
	SELECT id, kind, from_address, to_address, amount, note, target_id,
		tx_hash, status, block_number, error, created_at, updated_at
	FROM submissions`

func scanSubmissions(rows *sql.Rows) ([]Submission, error) {
	defer rows.Close()

	var subs []Submission
	for rows.Next() {
		var (
			sub                  Submission
			from, to, hash       string
			targetID, block      int64
			createdAt, updatedAt int64
		)
		err := rows.Scan(&sub.ID, &sub.Kind, &from, &to, &sub.Amount, &sub.Note, &targetID,
			&hash, &sub.Status, &block, &sub.Error, &createdAt, &updatedAt)
		if err != nil {
			return nil, err
		}
		sub.From = common.HexToAddress(from)
		sub.To = common.HexToAddress(to)
		sub.Hash = common.HexToHash(hash)
		sub.TargetID = uint64(targetID)
		sub.BlockNumber = uint64(block)
		sub.CreatedAt = time.UnixMilli(createdAt)
		sub.UpdatedAt = time.UnixMilli(updatedAt)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
