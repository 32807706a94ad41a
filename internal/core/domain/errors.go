package domain

import "errors"

var (
	ErrValidation             = errors.New("validation error")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrCalleeUnreachable      = errors.New("callee unreachable")
	ErrAlreadyInCall          = errors.New("already in call")
	ErrOffline                = errors.New("recipient offline")
	ErrAlreadyBound           = errors.New("connection already bound to another user")
	ErrConnectionNotFound     = errors.New("connection not found")
	ErrSessionNotFound        = errors.New("call session not found")
	ErrNotParticipant         = errors.New("user is not a participant of the call")
	ErrUserNotFound           = errors.New("user not found")
	ErrGroupNotFound          = errors.New("group not found")
)
