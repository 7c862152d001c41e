package listener

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed listener
var ErrClosed = errors.New("listener closed")

// Stage names the decoding step that rejected a frame
type Stage string

const (
	StagePort30003  Stage = "port30003"
	StageModeS      Stage = "modes"
	StageAdsb       Stage = "adsb"
	StageRaw        Stage = "raw"
	StageCompressed Stage = "compressed"
)

// DecodeError is a frame that a decoding stage could not handle. Errors from
// the raw stage always end the connection, the others only when bad messages
// are not being ignored.
type DecodeError struct {
	Stage Stage
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s decode: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// HandlerError is a failure inside an event handler. It always ends the
// connection.
type HandlerError struct {
	Event string
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s handler: %v", e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
