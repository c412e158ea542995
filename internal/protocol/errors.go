package protocol

import "errors"

var (
	ErrEmptyPayload     = errors.New("protocol: empty payload")
	ErrShortPayload     = errors.New("protocol: payload too short")
	ErrLengthOutOfRange = errors.New("protocol: read length out of range")
)
