package domain

import "errors"

var (
	ErrProfileNotFound  = errors.New("profile not found")
	ErrMissingToken     = errors.New("missing token")
	ErrInvalidToken     = errors.New("invalid token")
	ErrUnknownEventKind = errors.New("unknown event kind")
	ErrUnknownTopic     = errors.New("unknown producer topic")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrPayloadNotObject = errors.New("payload is not a JSON object")
)
