package conn

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid transition")

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type trigger string

const (
	trigEnsure    trigger = "ensure"    // first EnsureConnected
	trigHandshake trigger = "handshake" // transport dialed
	trigFailure   trigger = "failure"   // dial error, read error, remote close
	trigRetry     trigger = "retry"     // reconnect delay elapsed
	trigShutdown  trigger = "shutdown"
)

/*
	Idle         -ensure->    Connecting
	Connecting   -handshake-> Open
	Connecting   -failure->   Reconnecting
	Open         -failure->   Reconnecting
	Reconnecting -retry->     Connecting
	any          -shutdown->  Closed (terminal)
*/

func next(s State, t trigger) (State, error) {
	if s == StateClosed {
		return s, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, t, s)
	}

	switch t {
	case trigShutdown:
		return StateClosed, nil
	case trigEnsure:
		if s == StateIdle {
			return StateConnecting, nil
		}
	case trigHandshake:
		if s == StateConnecting {
			return StateOpen, nil
		}
	case trigFailure:
		if s == StateConnecting || s == StateOpen {
			return StateReconnecting, nil
		}
	case trigRetry:
		if s == StateReconnecting {
			return StateConnecting, nil
		}
	}
	return s, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, t, s)
}
