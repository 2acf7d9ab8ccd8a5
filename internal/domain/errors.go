package domain

import "errors"

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrAppNotFound     = errors.New("app not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidSlug     = errors.New("invalid app slug")
)
