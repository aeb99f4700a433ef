package domain

import (
	"errors"
	"fmt"
)

type ConnectionMode string

const (
	ModeMQTT     ConnectionMode = "mqtt"
	ModeHTTP     ConnectionMode = "http"
	ModeDocStore ConnectionMode = "docstore"
)

func ParseConnectionMode(s string) (ConnectionMode, error) {
	switch m := ConnectionMode(s); m {
	case ModeMQTT, ModeHTTP, ModeDocStore:
		return m, nil
	}
	return "", fmt.Errorf("unknown connection mode %q", s)
}

// Stateful reports whether the transport keeps a persistent connection and
// therefore can only accept sends while connected.
func (m ConnectionMode) Stateful() bool {
	return m == ModeMQTT
}

type StateKind int

const (
	StateInitial StateKind = iota
	StateIdle
	StateConnecting
	StateConnected
	StateDisconnected
	StateError
)

var stateNames = map[StateKind]string{
	StateInitial:      "INITIAL",
	StateIdle:         "IDLE",
	StateConnecting:   "CONNECTING",
	StateConnected:    "CONNECTED",
	StateDisconnected: "DISCONNECTED",
	StateError:        "ERROR",
}

func (k StateKind) String() string {
	if s, ok := stateNames[k]; ok {
		return s
	}
	return "UNKNOWN"
}

// EndpointState is the connectivity of the active transport. Reason is only
// set for StateError.
type EndpointState struct {
	Kind   StateKind
	Reason string
}

var (
	Initial      = EndpointState{Kind: StateInitial}
	Idle         = EndpointState{Kind: StateIdle}
	Connecting   = EndpointState{Kind: StateConnecting}
	Connected    = EndpointState{Kind: StateConnected}
	Disconnected = EndpointState{Kind: StateDisconnected}
)

func ErrorState(reason string) EndpointState {
	return EndpointState{Kind: StateError, Reason: reason}
}

func ErrorStateFrom(err error) EndpointState {
	if err == nil {
		return ErrorState("unknown error")
	}
	return ErrorState(err.Error())
}

func (s EndpointState) String() string {
	if s.Kind == StateError && s.Reason != "" {
		return s.Kind.String() + "(" + s.Reason + ")"
	}
	return s.Kind.String()
}

// Send failure taxonomy. Endpoints wrap the underlying cause so callers can
// classify with errors.Is.
var (
	ErrNotReady                = errors.New("endpoint not ready")
	ErrConfigurationIncomplete = errors.New("configuration incomplete")
	ErrTransport               = errors.New("transport error")
	ErrCancelled               = errors.New("send cancelled")
)

func NotReady(reason string) error {
	return fmt.Errorf("%w: %s", ErrNotReady, reason)
}

func ConfigurationIncomplete(err error) error {
	return fmt.Errorf("%w: %w", ErrConfigurationIncomplete, err)
}

func TransportFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

func Cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}
