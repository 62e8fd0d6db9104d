package contract

import "errors"

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
)
