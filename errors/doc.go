// Package errors provides the structured error type shared by the binding
// generator and the runtime engine.
//
// Every error carries the Phase in which it happened (collecting
// declarations, linking, generating, encoding, dispatching, ...) and a Kind
// that callers can match on:
//
//	if errors.Is(err, bgerrors.ErrDoubleRelease) { ... }
//
// Kind sentinels match regardless of phase. Two *Error values with both a
// phase and a kind set only match when both are equal.
package errors
