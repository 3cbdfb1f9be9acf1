package wallet

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisWallet stores balances as integer cents under <prefix>:<user>.
type RedisWallet struct {
	client  *redis.Client
	prefix  string
	initial int64
	timeout time.Duration
}

func NewRedisWallet(client *redis.Client, prefix string, initial decimal.Decimal, timeout time.Duration) *RedisWallet {
	if prefix == "" {
		prefix = "wallet"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RedisWallet{client: client, prefix: prefix, initial: toCents(initial), timeout: timeout}
}

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

func (w *RedisWallet) key(userID string) string {
	return w.prefix + ":" + userID
}

// Returns the new balance, or -1 - balance when funds are short.
var debitScript = redis.NewScript(`
redis.call("SET", KEYS[1], ARGV[2], "NX")
local bal = tonumber(redis.call("GET", KEYS[1]))
local amount = tonumber(ARGV[1])
if bal < amount then
  return -1 - bal
end
return redis.call("DECRBY", KEYS[1], amount)
`)

var creditScript = redis.NewScript(`
redis.call("SET", KEYS[1], ARGV[2], "NX")
return redis.call("INCRBY", KEYS[1], ARGV[1])
`)

func (w *RedisWallet) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	if userID == "" {
		return decimal.Zero, ErrNoUser
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := w.client.SetNX(ctx, w.key(userID), w.initial, 0).Err(); err != nil {
		return decimal.Zero, err
	}
	cents, err := w.client.Get(ctx, w.key(userID)).Int64()
	if err != nil {
		return decimal.Zero, err
	}
	return fromCents(cents), nil
}

func (w *RedisWallet) Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validate(userID, amount); err != nil {
		return decimal.Zero, err
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	res, err := debitScript.Run(ctx, w.client, []string{w.key(userID)}, toCents(amount), w.initial).Int64()
	if err != nil {
		return decimal.Zero, err
	}
	if res < 0 {
		return fromCents(-1 - res), ErrInsufficientFunds
	}
	return fromCents(res), nil
}

func (w *RedisWallet) Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validate(userID, amount); err != nil {
		return decimal.Zero, err
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	res, err := creditScript.Run(ctx, w.client, []string{w.key(userID)}, toCents(amount), w.initial).Int64()
	if err != nil {
		return decimal.Zero, err
	}
	return fromCents(res), nil
}
