package pairstate

import "errors"

var (
	errMultipleActiveSlots  = errors.New("pairstate: more than one of position/pending_entry/pending_exit is set")
	errSpreadHistoryOverflow = errors.New("pairstate: spread_history exceeds metrics_window")
)
