package adapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrorKind classifies a transport failure.
type ErrorKind string

const (
	// KindRequestRejected: the upstream refused the request; no content is valid.
	KindRequestRejected ErrorKind = "request_rejected"
	// KindStreamInterrupted: the stream broke after the handshake; Partial holds what was emitted.
	KindStreamInterrupted ErrorKind = "stream_interrupted"
	// KindCancelled: the caller cancelled; Partial holds what was emitted.
	KindCancelled ErrorKind = "cancelled"
)

var (
	ErrRequestRejected   = errors.New("adapter: request rejected")
	ErrStreamInterrupted = errors.New("adapter: stream interrupted")
	ErrCancelled         = errors.New("adapter: cancelled")
)

const maxErrorBody = 64 * 1024

// TransportError is returned by every StreamingChatAdapter failure path.
type TransportError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	// Partial and PartialReasoning hold text already delivered through DeltaFunc.
	Partial          string
	PartialReasoning string
	Err              error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (http %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is lets callers match on the kind sentinels with errors.Is.
func (e *TransportError) Is(target error) bool {
	switch target {
	case ErrRequestRejected:
		return e.Kind == KindRequestRejected
	case ErrStreamInterrupted:
		return e.Kind == KindStreamInterrupted
	case ErrCancelled:
		return e.Kind == KindCancelled
	}
	return false
}

// Rejected builds a KindRequestRejected error.
func Rejected(status int, message string, err error) *TransportError {
	return &TransportError{Kind: KindRequestRejected, StatusCode: status, Message: message, Err: err}
}

// Interrupted builds a KindStreamInterrupted error carrying partial output.
func Interrupted(content, reasoning string, err error) *TransportError {
	return &TransportError{Kind: KindStreamInterrupted, Partial: content, PartialReasoning: reasoning, Err: err}
}

// Cancelled builds a KindCancelled error carrying partial output.
func Cancelled(content, reasoning string, err error) *TransportError {
	return &TransportError{Kind: KindCancelled, Partial: content, PartialReasoning: reasoning, Err: err}
}

// AsTransportError unwraps err into a *TransportError when possible.
func AsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// RejectedFromResponse reads a non-2xx response body and extracts the most
// useful server message. It understands {"error":{"message":...}} (OpenAI),
// {"error":"..."} (Ollama) and falls back to the raw body.
func RejectedFromResponse(resp *http.Response) *TransportError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return Rejected(resp.StatusCode, errorMessage(resp.StatusCode, body), nil)
}

func errorMessage(status int, body []byte) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	var flat struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &flat); err == nil {
		if flat.Error != "" {
			return flat.Error
		}
		if flat.Message != "" {
			return flat.Message
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return fmt.Sprintf("HTTP error! status: %d", status)
}
