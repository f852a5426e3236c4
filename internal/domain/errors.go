package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrSettlementReplay = errors.New("position already settled")
)
