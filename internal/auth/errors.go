package auth

import "errors"

var (
	ErrAccountNotFound = errors.New("auth: account not found")
	ErrAccountExists   = errors.New("auth: phone already registered to another account")
	ErrSecretTooShort  = errors.New("auth: signing secret is too short")
	ErrEmptyTokenID    = errors.New("auth: token id is empty")
)
