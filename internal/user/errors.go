package user

import "errors"

var (
	ErrNotFound           = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRoleMismatch       = errors.New("role mismatch")
	ErrEmailTaken         = errors.New("email already registered")
	ErrNMCTaken           = errors.New("nmc number already registered")
	ErrInvalidInput       = errors.New("invalid input")
)
