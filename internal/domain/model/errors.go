package model

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionFailed is terminal for the whole run and every pending exchange.
	ErrConnectionFailed = errors.New("relay: connection failed")
	ErrConnectionClosed = errors.New("relay: connection closed")

	// ErrMalformedFrame is absorbed at the dispatch boundary and never reaches callers.
	ErrMalformedFrame = errors.New("relay: malformed frame")
	ErrUnknownVerb    = fmt.Errorf("%w: unknown verb", ErrMalformedFrame)

	ErrDuplicateKey = errors.New("relay: duplicate correlation key")
	ErrNoResponse   = errors.New("relay: no response")
)
