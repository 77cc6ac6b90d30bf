package entity

import (
	"errors"
	"fmt"
)

var (
	ErrKeyMaterial        = errors.New("missing or malformed key material")
	ErrAuthRejected       = errors.New("authentication rejected by exchange")
	ErrHeartbeatTimeout   = errors.New("heartbeat timeout")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrUnknownMessage     = errors.New("unknown message type")
	ErrLinkNotFound       = errors.New("exchange link not found")
	ErrLinkNotFailed      = errors.New("exchange link has not failed")
)

// CredentialError is fatal for the session of one exchange.
type CredentialError struct {
	Exchange ExchangeName
	Err      error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential error for %s: %v", e.Exchange, e.Err)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// TransportError is recoverable: the session degrades and reconnects.
type TransportError struct {
	Exchange ExchangeName
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error for %s on %s: %v", e.Exchange, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError drops one frame and never ends the session.
type ProtocolError struct {
	Exchange    ExchangeName
	MessageType string
	Unknown     bool
	Err         error
}

func (e *ProtocolError) Error() string {
	if e.MessageType == "" {
		return fmt.Sprintf("protocol error for %s: %v", e.Exchange, e.Err)
	}

	return fmt.Sprintf("protocol error for %s on %q: %v", e.Exchange, e.MessageType, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func NewUnknownMessageError(exchange ExchangeName, messageType string) *ProtocolError {
	return &ProtocolError{
		Exchange:    exchange,
		MessageType: messageType,
		Unknown:     true,
		Err:         ErrUnknownMessage,
	}
}

type RejectReason string

const (
	RejectUnknownInstrument  RejectReason = "unknown_instrument"
	RejectMalformedPrice     RejectReason = "malformed_price"
	RejectMalformedSize      RejectReason = "malformed_size"
	RejectOutOfOrder         RejectReason = "out_of_order"
	RejectStaleGeneration    RejectReason = "stale_generation"
	RejectUnsupportedMessage RejectReason = "unsupported_message"
)

// NormalizationRejection drops a single event; it is counted, never fatal.
type NormalizationRejection struct {
	Reason RejectReason
	Symbol string
	Detail string
}

func (e *NormalizationRejection) Error() string {
	return fmt.Sprintf("rejected %s event: %s (%s)", e.Symbol, e.Reason, e.Detail)
}
