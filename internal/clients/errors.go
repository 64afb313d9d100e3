package clients

import "errors"

var (
	ErrUnknownPeer       = errors.New("unknown peer")
	ErrAlreadyRegistered = errors.New("endpoint already registered")
)
