package ocr

import "errors"

var (
	// ErrNoText is returned when no engine produced any readable text.
	ErrNoText = errors.New("no text recognized")
	// ErrEngineUnavailable is returned when an engine cannot run in this build or is tripped.
	ErrEngineUnavailable = errors.New("ocr engine unavailable")
	// ErrEmptyImage is returned for nil or zero-sized images.
	ErrEmptyImage = errors.New("empty image")
)
