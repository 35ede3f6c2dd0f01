package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"duocall/internal/core/domain"
	"duocall/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	docPrefix     = "duocall:doc:"
	orderKey      = "duocall:order"
	eventsChannel = "duocall:events"
)

// changeEvent is the pub/sub wire format for store notifications.
type changeEvent struct {
	Kind  string `json:"kind"`
	Key   string `json:"key"`
	Value []byte `json:"value,omitempty"`
}

// Store is a Redis-backed SignalingStore. Documents live under
// duocall:doc:<key>, a shared list preserves append order for List,
// and change events fan out over one pub/sub channel. Watch replays
// existing documents after subscribing, so a write racing the replay
// may be delivered twice; callers tolerate duplicates.
type Store struct {
	client *redis.Client
	logger *zap.SugaredLogger

	// Serializes Update read-modify-write cycles from this process.
	// Cross-process writers still race, which the signaling protocol
	// absorbs through idempotent application.
	updateMu sync.Mutex
}

func NewStore(client *redis.Client, logger *zap.SugaredLogger) *Store {
	return &Store{client: client, logger: logger}
}

var _ ports.SignalingStore = (*Store)(nil)

func docKey(key string) string {
	return docPrefix + key
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, docKey(key)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document from Redis: %w", err)
	}
	return data, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	exists, err := s.client.Exists(ctx, docKey(key)).Result()
	if err != nil {
		return fmt.Errorf("failed to check document existence: %w", err)
	}

	if err := s.client.Set(ctx, docKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set document in Redis: %w", err)
	}

	if exists == 0 {
		if err := s.client.RPush(ctx, orderKey, key).Err(); err != nil {
			return fmt.Errorf("failed to record document order: %w", err)
		}
	}

	return s.publish(ctx, changeEvent{Kind: "put", Key: key, Value: value})
}

func (s *Store) Update(ctx context.Context, key string, mutate func(old []byte) ([]byte, error)) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	old, err := s.Get(ctx, key)
	if err != nil && err != domain.ErrKeyNotFound {
		return err
	}

	updated, err := mutate(old)
	if err != nil {
		return err
	}

	if updated == nil {
		return s.Delete(ctx, key)
	}
	return s.Set(ctx, key, updated)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	removed, err := s.client.Del(ctx, docKey(key)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete document from Redis: %w", err)
	}
	if removed == 0 {
		return nil
	}

	if err := s.client.LRem(ctx, orderKey, 1, key).Err(); err != nil {
		return fmt.Errorf("failed to remove document order entry: %w", err)
	}

	return s.publish(ctx, changeEvent{Kind: "delete", Key: key})
}

func (s *Store) List(ctx context.Context, prefix string) ([]ports.Document, error) {
	keys, err := s.client.LRange(ctx, orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list document order: %w", err)
	}

	var docs []ports.Document
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		value, err := s.Get(ctx, key)
		if err == domain.ErrKeyNotFound {
			// Deleted between LRANGE and GET
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, ports.Document{Key: key, Value: value})
	}
	return docs, nil
}

// Watch subscribes first and replays afterwards, so no change is lost
// between the snapshot and the live feed. The overlap can surface as a
// duplicate put, which downstream application logic already drops.
func (s *Store) Watch(ctx context.Context, prefix string, fn func(ports.StoreEvent)) (ports.CancelFunc, error) {
	sub := s.client.Subscribe(ctx, eventsChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to store events: %w", err)
	}

	docs, err := s.List(ctx, prefix)
	if err != nil {
		sub.Close()
		return nil, err
	}

	go func() {
		for _, doc := range docs {
			fn(ports.StoreEvent{Kind: ports.EventPut, Doc: doc})
		}

		for msg := range sub.Channel() {
			var ev changeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.logger.Warnw("dropping malformed store event", "error", err)
				continue
			}
			if !strings.HasPrefix(ev.Key, prefix) {
				continue
			}

			kind := ports.EventPut
			if ev.Kind == "delete" {
				kind = ports.EventDelete
			}
			fn(ports.StoreEvent{
				Kind: kind,
				Doc:  ports.Document{Key: ev.Key, Value: ev.Value},
			})
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := sub.Close(); err != nil {
				s.logger.Debugw("failed to close store subscription", "error", err)
			}
		})
	}

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return cancel, nil
}

func (s *Store) publish(ctx context.Context, ev changeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal store event: %w", err)
	}
	if err := s.client.Publish(ctx, eventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish store event: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}
