package wallet

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func walletContract(t *testing.T, w Service, user string) {
	ctx := context.Background()

	b, err := w.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "100.00", b.StringFixed(2))

	b, err = w.Debit(ctx, user, decimal.RequireFromString("25.50"))
	require.NoError(t, err)
	assert.Equal(t, "74.50", b.StringFixed(2))

	b, err = w.Debit(ctx, user, decimal.NewFromInt(75))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, "74.50", b.StringFixed(2))

	b, err = w.Credit(ctx, user, decimal.RequireFromString("0.50"))
	require.NoError(t, err)
	assert.Equal(t, "75.00", b.StringFixed(2))

	_, err = w.Debit(ctx, user, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = w.Credit(ctx, "", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestMemWallet(t *testing.T) {
	walletContract(t, NewMemWallet(decimal.NewFromInt(100)), "alice")
}

func TestRedisWallet(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	prefix := "test-wallet:" + time.Now().Format("150405.000000")
	t.Cleanup(func() { client.Del(context.Background(), prefix+":alice") })
	walletContract(t, NewRedisWallet(client, prefix, decimal.NewFromInt(100), time.Second), "alice")
}
