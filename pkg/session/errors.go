package session

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrLockTimeout     = errors.New("lock acquisition timeout")
	ErrNameNotFound    = errors.New("session name not found")
)
