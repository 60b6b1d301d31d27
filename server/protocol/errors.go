package protocol

import "errors"

// errors for parsing, both are fatal for the conn
var (
	ErrInvalid  = errors.New("invalid request")
	ErrTooLarge = errors.New("request too large")
)
