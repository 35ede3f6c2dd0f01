package ports

import "context"

// Document is one record in the signaling store.
type Document struct {
	Key   string
	Value []byte
}

type EventKind int

const (
	EventPut EventKind = iota
	EventDelete
)

// StoreEvent is a change notification delivered by a watch.
type StoreEvent struct {
	Kind EventKind
	Doc  Document
}

// CancelFunc stops a watch. Safe to call more than once.
type CancelFunc func()

// SignalingStore is the persistence and notification substrate used to
// relay the out-of-band handshake. It guarantees in-order delivery of
// events within one collection but nothing across collections, and it
// may echo the writer's own writes back through a watch.
type SignalingStore interface {
	// Get returns the value at key or domain.ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes or overwrites the document at key.
	Set(ctx context.Context, key string, value []byte) error

	// Update performs a read-modify-write at key. mutate receives nil
	// when the document is absent; returning a nil value deletes the
	// document. The memory backend applies the mutation atomically.
	Update(ctx context.Context, key string, mutate func(old []byte) ([]byte, error)) error

	// Delete removes the document at key. Deleting an absent key is
	// not an error.
	Delete(ctx context.Context, key string) error

	// List returns all documents whose key starts with prefix, in
	// append order.
	List(ctx context.Context, prefix string) ([]Document, error)

	// Watch subscribes to changes under prefix. Existing documents are
	// replayed as put events before live changes; a replayed document
	// may also arrive as a live event, so handlers must tolerate
	// duplicates. fn is invoked sequentially per watch.
	Watch(ctx context.Context, prefix string, fn func(StoreEvent)) (CancelFunc, error)

	Close() error
}
