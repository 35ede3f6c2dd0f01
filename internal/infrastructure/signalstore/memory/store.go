package memory

import (
	"context"
	"strings"
	"sync"

	"duocall/internal/core/domain"
	"duocall/internal/core/ports"
)

// Store is an in-memory SignalingStore with live change notification.
// It is the fallback backend when Redis is unavailable and the backend
// used by the test suite. Mutations and event fan-out happen under one
// lock, so every watcher observes changes in append order.
type Store struct {
	mu      sync.Mutex
	docs    map[string][]byte
	order   []string
	subs    map[int]*subscription
	nextSub int
	closed  bool
}

func NewStore() *Store {
	return &Store{
		docs: make(map[string][]byte),
		subs: make(map[int]*subscription),
	}
}

var _ ports.SignalingStore = (*Store)(nil)

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.docs[key]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[key]; !exists {
		s.order = append(s.order, key)
	}
	s.docs[key] = stored
	s.notifyLocked(ports.StoreEvent{
		Kind: ports.EventPut,
		Doc:  ports.Document{Key: key, Value: stored},
	})
	return nil
}

func (s *Store) Update(ctx context.Context, key string, mutate func(old []byte) ([]byte, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated, err := mutate(s.docs[key])
	if err != nil {
		return err
	}

	if updated == nil {
		s.deleteLocked(key)
		return nil
	}

	if _, exists := s.docs[key]; !exists {
		s.order = append(s.order, key)
	}
	s.docs[key] = updated
	s.notifyLocked(ports.StoreEvent{
		Kind: ports.EventPut,
		Doc:  ports.Document{Key: key, Value: updated},
	})
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(key)
	return nil
}

func (s *Store) deleteLocked(key string) {
	if _, exists := s.docs[key]; !exists {
		return
	}
	delete(s.docs, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.notifyLocked(ports.StoreEvent{
		Kind: ports.EventDelete,
		Doc:  ports.Document{Key: key},
	})
}

func (s *Store) List(ctx context.Context, prefix string) ([]ports.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var docs []ports.Document
	for _, key := range s.order {
		if strings.HasPrefix(key, prefix) {
			value := s.docs[key]
			out := make([]byte, len(value))
			copy(out, value)
			docs = append(docs, ports.Document{Key: key, Value: out})
		}
	}
	return docs, nil
}

// Watch registers a subscription and replays existing documents as put
// events ahead of live changes. The handler runs on a dedicated
// goroutine; delivery order matches append order.
func (s *Store) Watch(ctx context.Context, prefix string, fn func(ports.StoreEvent)) (ports.CancelFunc, error) {
	sub := newSubscription(prefix)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrStoreUnavailable
	}

	for _, key := range s.order {
		if strings.HasPrefix(key, prefix) {
			sub.enqueue(ports.StoreEvent{
				Kind: ports.EventPut,
				Doc:  ports.Document{Key: key, Value: s.docs[key]},
			})
		}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.mu.Unlock()

	go sub.deliver(fn)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			sub.stop()
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

func (s *Store) notifyLocked(ev ports.StoreEvent) {
	for _, sub := range s.subs {
		if strings.HasPrefix(ev.Doc.Key, sub.prefix) {
			sub.enqueue(ev)
		}
	}
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	subs := s.subs
	s.subs = make(map[int]*subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

// subscription buffers events for one watcher without bounding the
// queue: blocking the store while a watcher is slow would stall the
// peer's writes.
type subscription struct {
	prefix  string
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []ports.StoreEvent
	stopped bool
}

func newSubscription(prefix string) *subscription {
	sub := &subscription{prefix: prefix}
	sub.cond = sync.NewCond(&sub.mu)
	return sub
}

func (sub *subscription) enqueue(ev ports.StoreEvent) {
	sub.mu.Lock()
	if !sub.stopped {
		sub.queue = append(sub.queue, ev)
		sub.cond.Signal()
	}
	sub.mu.Unlock()
}

func (sub *subscription) deliver(fn func(ports.StoreEvent)) {
	for {
		sub.mu.Lock()
		for len(sub.queue) == 0 && !sub.stopped {
			sub.cond.Wait()
		}
		if sub.stopped && len(sub.queue) == 0 {
			sub.mu.Unlock()
			return
		}
		ev := sub.queue[0]
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		fn(ev)
	}
}

func (sub *subscription) stop() {
	sub.mu.Lock()
	sub.stopped = true
	sub.queue = nil
	sub.cond.Broadcast()
	sub.mu.Unlock()
}
