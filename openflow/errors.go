package openflow

import "errors"

var (
	errShortAction       = errors.New("openflow: short action")
	errUnsupportedAction = errors.New("openflow: unsupported action")
)
