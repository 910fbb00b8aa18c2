// Package errkind defines the cross-cutting vocabulary of error kinds that
// every component agrees on when logging, surfacing status, or deciding
// whether a failure is locally recoverable.
package errkind

import "errors"

// Kind identifies the category of an error, independent of its message.
type Kind string

const (
	ConfigInvalid          Kind = "ConfigInvalid"
	DeviceUnavailable      Kind = "DeviceUnavailable"
	DeviceTransient        Kind = "DeviceTransient"
	EncoderInit            Kind = "EncoderInit"
	EncoderMemoryExhausted Kind = "EncoderMemoryExhausted"
	NpuUnavailable         Kind = "NpuUnavailable"
	ModelMissing           Kind = "ModelMissing"
	FrameCorrupt           Kind = "FrameCorrupt"
	BackpressureDisconnect Kind = "BackpressureDisconnect"
	IoTemporary            Kind = "IoTemporary"
	IoFatal                Kind = "IoFatal"
	ProtocolError          Kind = "ProtocolError"
	ChildRestartStorm      Kind = "ChildRestartStorm"
)

// sentinel is a *Kind-tagged error usable with errors.Is/errors.As.
type sentinel struct {
	kind Kind
	msg  string
}

func (e *sentinel) Error() string { return e.msg }

// New creates a sentinel error for kind with the given message.
func New(kind Kind, msg string) error {
	return &sentinel{kind: kind, msg: msg}
}

// Is reports whether err (or any error it wraps) carries kind.
func Is(err error, kind Kind) bool {
	var s *sentinel
	if errors.As(err, &s) {
		return s.kind == kind
	}
	return false
}

// Of extracts the Kind from err, ok=false if err was not produced by New.
func Of(err error) (Kind, bool) {
	var s *sentinel
	if errors.As(err, &s) {
		return s.kind, true
	}
	return "", false
}

var (
	ErrDeviceUnavailable = New(DeviceUnavailable, "device unavailable")
	ErrEncoderUnavailable = New(EncoderInit, "hardware encoder unavailable")
	ErrNpuUnavailable     = New(NpuUnavailable, "NPU runtime unavailable")
	ErrModelMissing       = New(ModelMissing, "model set not installed")
)
