// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package registry

import "errors"

var (
	// ErrNoFileProvided is returned when a sample carries no content at all.
	ErrNoFileProvided = errors.New("no file provided")
	// ErrPayloadTooLarge is returned when a sample exceeds the configured
	// size ceiling.
	ErrPayloadTooLarge = errors.New("file too large")
	// ErrAnalysisFailed wraps any unexpected fault during analysis. No
	// verdict is produced in this case.
	ErrAnalysisFailed = errors.New("analysis failed")
)
