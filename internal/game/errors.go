package game

import "errors"

var (
	ErrOwnershipViolation = errors.New("ownership violation")
	ErrNotNetworked       = errors.New("representation is not networked")
	ErrUnexpectedMessage  = errors.New("unexpected message")
	ErrNoPlayer           = errors.New("player entity not spawned")
	ErrNotConnected       = errors.New("not connected to a server")
)
