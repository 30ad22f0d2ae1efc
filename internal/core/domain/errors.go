package domain

import "errors"

var (
	ErrPeerAlreadyExists = errors.New("peer already exists")
	ErrPeerNotFound      = errors.New("peer not found")
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrSendQueueFull     = errors.New("send queue full")
	ErrUnauthorized      = errors.New("unauthorized")
)
