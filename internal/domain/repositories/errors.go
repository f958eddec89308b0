package repositories

import "errors"

// Sentinel errors returned by entity store adapters
var (
	ErrNotFound        = errors.New("entity not found")
	ErrConditionNotMet = errors.New("conditional update did not match")
	ErrDuplicate       = errors.New("duplicate entity")
	ErrOverlap         = errors.New("overlapping slot")
)
