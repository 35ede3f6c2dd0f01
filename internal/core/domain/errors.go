package domain

import "errors"

var (
	ErrRoomFull         = errors.New("room is full")
	ErrRoomNotFound     = errors.New("room not found")
	ErrKeyNotFound      = errors.New("key not found")
	ErrStaleMessage     = errors.New("stale signaling message")
	ErrPeerNotBound     = errors.New("peer identity not bound")
	ErrSessionClosed    = errors.New("session closed")
	ErrSessionNotFound  = errors.New("session not found")
	ErrTransportClosed  = errors.New("transport closed")
	ErrStoreUnavailable = errors.New("signaling store unavailable")
)
