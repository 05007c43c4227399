package scan

import "errors"

var (
	ErrInvalidRange  = errors.New("invalid nonce range")
	ErrInvalidTarget = errors.New("invalid target operation")
)
