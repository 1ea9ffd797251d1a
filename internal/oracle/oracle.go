// Package oracle is the adapter to the external reasoning service used by
// ingestion, validation, approval and payment. Callers get a Result that is
// either decoded JSON content or a classified Error, and every stage decides
// its own fallback.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one oracle call.
type Request struct {
	Messages  []Message
	JSONOnly  bool
	MaxTokens int
	// Purpose labels the call in logs and progress events.
	Purpose string
}

// Kind classifies an oracle failure.
type Kind string

const (
	KindTimeout   Kind = "timeout"
	KindTransport Kind = "transport"
	KindMalformed Kind = "malformed"
)

// Error is a failed oracle call.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oracle %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("oracle %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Unavailable is true when the service could not be reached in time.
func (e *Error) Unavailable() bool {
	return e.Kind == KindTimeout || e.Kind == KindTransport
}

// Result holds either the cleaned JSON object returned by the oracle or the
// error that prevented it.
type Result struct {
	Content json.RawMessage
	Err     *Error
}

// Ok builds a successful result.
func Ok(content json.RawMessage) Result {
	return Result{Content: content}
}

// Fail builds a failed result.
func Fail(kind Kind, message string, err error) Result {
	return Result{Err: &Error{Kind: kind, Message: message, Err: err}}
}

func (r Result) OK() bool { return r.Err == nil }

// Decode unmarshals the content into v. A decode failure is reported as a
// malformed-output error.
func (r Result) Decode(v any) *Error {
	if r.Err != nil {
		return r.Err
	}
	if err := json.Unmarshal(r.Content, v); err != nil {
		return &Error{Kind: KindMalformed, Message: "response does not match expected shape", Err: err}
	}
	return nil
}

// Oracle answers a request with a JSON object.
type Oracle interface {
	Complete(ctx context.Context, req Request) Result
}

// Disabled is used when no API key is configured. Every call fails as
// unavailable so each stage takes its deterministic path.
type Disabled struct{}

func (Disabled) Complete(context.Context, Request) Result {
	return Fail(KindTransport, "oracle not configured", nil)
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, req Request) Result

func (f Func) Complete(ctx context.Context, req Request) Result {
	return f(ctx, req)
}
