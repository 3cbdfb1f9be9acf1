package grid

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManadaHerath/pixelmap-server/internal/log"
)

type RedisStore struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisStore keeps all keys under prefix, "pixels" when empty.
func NewRedisStore(client *redis.Client, prefix string, timeout time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "pixels"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RedisStore{client: client, prefix: prefix, timeout: timeout}
}

func (s *RedisStore) cellsKey() string {
	return s.prefix + ":cells"
}

func (s *RedisStore) historyKey(x, y int) string {
	return s.prefix + ":history:" + CoordKey(x, y)
}

func (s *RedisStore) eventsChannel() string {
	return s.prefix + ":events"
}

var claimScript = redis.NewScript(`
local cKey = KEYS[1]
local hKey = KEYS[2]
local field = ARGV[1]
local val = ARGV[2]
local ev = ARGV[3]
local channel = ARGV[4]

local existing = redis.call("HGET", cKey, field)
if existing ~= false and existing ~= nil then
  return 0
end

redis.call("HSET", cKey, field, val)
redis.call("RPUSH", hKey, ev)
redis.call("PUBLISH", channel, ev)
return 1
`)

// updateScript swaps a cell's value only if it still holds the value the
// caller read.
var updateScript = redis.NewScript(`
local cKey = KEYS[1]
local hKey = KEYS[2]
local field = ARGV[1]
local expected = ARGV[2]
local val = ARGV[3]
local ev = ARGV[4]
local channel = ARGV[5]

if redis.call("HGET", cKey, field) ~= expected then
  return 0
end

redis.call("HSET", cKey, field, val)
redis.call("RPUSH", hKey, ev)
redis.call("PUBLISH", channel, ev)
return 1
`)

const maxUpdateAttempts = 5

func (s *RedisStore) Get(ctx context.Context, x, y int) (*SoldPixel, error) {
	_, p, err := s.get(ctx, x, y)
	return p, err
}

// get also returns the stored JSON for compare-and-swap.
func (s *RedisStore) get(ctx context.Context, x, y int) (string, *SoldPixel, error) {
	if err := checkCoord(x, y); err != nil {
		return "", nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.client.HGet(ctx, s.cellsKey(), CoordKey(x, y)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil, ErrPixelNotFound
	}
	if err != nil {
		return "", nil, err
	}
	var p SoldPixel
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return "", nil, err
	}
	return raw, &p, nil
}

func (s *RedisStore) List(ctx context.Context) ([]SoldPixel, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	entries, err := s.client.HGetAll(ctx, s.cellsKey()).Result()
	if err != nil {
		return nil, err
	}

	pixels := make([]SoldPixel, 0, len(entries))
	for k, v := range entries {
		var p SoldPixel
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			log.Warnf("grid: skipping unreadable pixel %s: %v", k, err)
			continue
		}
		pixels = append(pixels, p)
	}
	sortPixels(pixels)
	return pixels, nil
}

func (s *RedisStore) Claim(ctx context.Context, p SoldPixel) (Event, error) {
	if err := checkCoord(p.X, p.Y); err != nil {
		return Event{}, err
	}
	now := time.Now().UTC()
	if p.PurchasedAt.IsZero() {
		p.PurchasedAt = now
	}
	p.UpdatedAt = now
	ev := newEvent(EventClaimed, p)

	valBytes, err := json.Marshal(p)
	if err != nil {
		return Event{}, err
	}
	evBytes, err := json.Marshal(ev)
	if err != nil {
		return Event{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	keys := []string{s.cellsKey(), s.historyKey(p.X, p.Y)}
	res, err := claimScript.Run(ctx, s.client, keys, p.Key(), string(valBytes), string(evBytes), s.eventsChannel()).Int()
	if err != nil {
		return Event{}, err
	}
	if res == 0 {
		return Event{}, ErrPixelTaken
	}
	return ev, nil
}

func (s *RedisStore) Put(ctx context.Context, p SoldPixel) (Event, error) {
	if err := checkCoord(p.X, p.Y); err != nil {
		return Event{}, err
	}
	typ := EventClaimed
	old, err := s.Get(ctx, p.X, p.Y)
	switch {
	case err == nil:
		typ = EventUpdated
		if p.PurchasedAt.IsZero() {
			p.PurchasedAt = old.PurchasedAt
		}
	case !errors.Is(err, ErrPixelNotFound):
		return Event{}, err
	}
	p.UpdatedAt = time.Now().UTC()
	ev := newEvent(typ, p)

	if err := s.write(ctx, p.X, p.Y, &p, ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

func (s *RedisStore) Update(ctx context.Context, p SoldPixel) (Event, error) {
	if err := checkCoord(p.X, p.Y); err != nil {
		return Event{}, err
	}
	keys := []string{s.cellsKey(), s.historyKey(p.X, p.Y)}
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		raw, cur, err := s.get(ctx, p.X, p.Y)
		if err != nil {
			return Event{}, err
		}
		if cur.OwnerID != p.OwnerID {
			return Event{}, ErrNotOwner
		}
		next := customize(*cur, p)
		ev := newEvent(EventUpdated, next)

		valBytes, err := json.Marshal(next)
		if err != nil {
			return Event{}, err
		}
		evBytes, err := json.Marshal(ev)
		if err != nil {
			return Event{}, err
		}

		runCtx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := updateScript.Run(runCtx, s.client, keys, p.Key(), raw, string(valBytes), string(evBytes), s.eventsChannel()).Int()
		cancel()
		if err != nil {
			return Event{}, err
		}
		if res == 1 {
			return ev, nil
		}
		log.WithField("cell", p.Key()).Debug("grid: update lost a race, retrying")
	}
	return Event{}, ErrConflict
}

func (s *RedisStore) Release(ctx context.Context, x, y int) error {
	p, err := s.Get(ctx, x, y)
	if err != nil {
		return err
	}
	return s.write(ctx, x, y, nil, newEvent(EventReleased, *p))
}

// write stores p (or deletes the cell when p is nil) and records ev in one
// MULTI/EXEC.
func (s *RedisStore) write(ctx context.Context, x, y int, p *SoldPixel, ev Event) error {
	evBytes, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	var valBytes []byte
	if p != nil {
		if valBytes, err = json.Marshal(p); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if p != nil {
			pipe.HSet(ctx, s.cellsKey(), CoordKey(x, y), string(valBytes))
		} else {
			pipe.HDel(ctx, s.cellsKey(), CoordKey(x, y))
		}
		pipe.RPush(ctx, s.historyKey(x, y), string(evBytes))
		pipe.Publish(ctx, s.eventsChannel(), string(evBytes))
		return nil
	})
	return err
}

func (s *RedisStore) History(ctx context.Context, x, y int) ([]Event, error) {
	if err := checkCoord(x, y); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.client.LRange(ctx, s.historyKey(x, y), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(raw))
	for _, r := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *RedisStore) Subscribe(ctx context.Context) (<-chan Event, error) {
	sub := s.client.Subscribe(ctx, s.eventsChannel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Warnf("grid: bad event payload: %v", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
