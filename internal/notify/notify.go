package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/DoyleJ11/series-draft/internal/logging"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "draft:session:"

// Notifier tells other server instances that a session moved to a new
// version so they can reload it. Observers never rely on it for ordering;
// each instance reloads from the store.
type Notifier interface {
	Publish(ctx context.Context, sessionID string, version int) error
}

type Nop struct{}

func (Nop) Publish(context.Context, string, int) error { return nil }

// Change is the payload published on a session's channel.
type Change struct {
	Origin    string `json:"origin"`
	SessionID string `json:"session_id"`
	Version   int    `json:"version"`
}

func Channel(sessionID string) string { return channelPrefix + sessionID }

func sessionOf(channel string) (string, bool) {
	id, ok := strings.CutPrefix(channel, channelPrefix)
	return id, ok && id != ""
}

type Redis struct {
	rdb    *redis.Client
	origin string
}

var _ Notifier = (*Redis)(nil)

// NewRedis connects and pings, the same way the rest of the stack checks
// its dependencies at startup.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	logging.FromContext(ctx).Infow("connected to redis", "addr", addr)
	return &Redis{rdb: rdb, origin: uuid.NewString()}, nil
}

func (r *Redis) Publish(ctx context.Context, sessionID string, version int) error {
	payload, err := json.Marshal(Change{Origin: r.origin, SessionID: sessionID, Version: version})
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, Channel(sessionID), payload).Err()
}

// Subscribe calls fn for every change published by another instance until
// ctx is done.
func (r *Redis) Subscribe(ctx context.Context, fn func(Change)) error {
	logger := logging.FromContext(ctx)
	sub := r.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			c, ok := r.decode(msg.Channel, msg.Payload)
			if !ok {
				logger.Warnw("dropping malformed change", "channel", msg.Channel)
				continue
			}
			if c.Origin == r.origin {
				continue
			}
			fn(c)
		}
	}
}

func (r *Redis) decode(channel, payload string) (Change, bool) {
	id, ok := sessionOf(channel)
	if !ok {
		return Change{}, false
	}
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil || c.SessionID != id {
		return Change{}, false
	}
	return c, true
}

func (r *Redis) Close() error { return r.rdb.Close() }
