package model

import "errors"

// Delivery outcomes seen by the collector side.
var (
	// ErrBatchRejected means the server refused the batch; resending it cannot succeed.
	ErrBatchRejected = errors.New("batch rejected")
	// ErrRelayClosed means no relay is accepting batches anymore.
	ErrRelayClosed = errors.New("relay closed")
)

// Ack is a relay's answer to one forwarded batch.
type Ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	// Permanent marks a rejection that a retry would repeat.
	Permanent bool `json:"-"`
}
