package accounts

import "errors"

var (
	ErrEmailTaken           = errors.New("email already registered")
	ErrUnknownAccount       = errors.New("unknown account")
	ErrBadCredentials       = errors.New("bad credentials")
	ErrInvalidEmail         = errors.New("invalid email")
	ErrWeakPassword         = errors.New("password too short")
	ErrInvalidServiceConfig = errors.New("invalid accounts service configuration")
)
