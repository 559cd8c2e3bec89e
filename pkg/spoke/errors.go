package spoke

import "errors"

var (
	ErrUnknownRootBundle   = errors.New("unknown root bundle")
	ErrRelayFilled         = errors.New("relay already filled")
	ErrExpiredFillDeadline = errors.New("relay fill deadline has passed")
)
