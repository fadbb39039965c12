package wallet_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuspay/campuspay/pkg/wallet"
)

func TestBalanceRefresher_Schedule(t *testing.T) {
	network, _ := newTestNetwork()
	m := wallet.NewManager(newFakeConnector(t), network)

	_, err := wallet.NewBalanceRefresher(m, "every minute")
	assert.ErrorIs(t, err, wallet.ErrInvalidSchedule)

	r, err := wallet.NewBalanceRefresher(m, "*/5 * * * *")
	require.NoError(t, err)

	ref := time.Date(2024, 3, 1, 10, 2, 30, 0, time.UTC)
	next, err := r.Next(ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC), next)
}

func TestBalanceRefresher_StopsOnCancel(t *testing.T) {
	network, _ := newTestNetwork()
	m := wallet.NewManager(newFakeConnector(t), network)
	r, err := wallet.NewBalanceRefresher(m, "0 * * * *")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop")
	}
}
