package service

import "errors"

var (
	ErrNoActiveSession = errors.New("no active session for connection")
	ErrValidation      = errors.New("invalid payload")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrDuplicateObject = errors.New("object id already exists in space")
	ErrModelNotFound   = errors.New("model not found")
	ErrScreenBusy      = errors.New("screen share already active")
	ErrInternalServer  = errors.New("internal server error")
)
