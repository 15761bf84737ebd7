package types

import (
	"errors"
	"testing"
)

func Test_Error_MessageIncludesKindAndCause(t *testing.T) {
	cause := errors.New("dial refused")
	err := Wrap(ConnectionFailed, cause, "could not reach peer")
	if got := err.Error(); got != "ConnectionFailed: could not reach peer: dial refused" {
		t.Errorf("got %q", got)
	}
}

func Test_Error_MessageWithoutCause(t *testing.T) {
	err := NewError(InvalidArgument, "filename must not be empty")
	if got := err.Error(); got != "InvalidArgument: filename must not be empty" {
		t.Errorf("got %q", got)
	}
}

func Test_Error_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("eof")
	err := Wrap(Timeout, cause, "peer never answered")
	if !errors.Is(err, cause) {
		t.Error("errors.Is should see through Wrap to the underlying cause")
	}
}

func Test_KindOf_UnwrapsThroughFmtWrapping(t *testing.T) {
	inner := NewError(UserOffline, "0.0.0.0")
	outer := fmtWrap(inner)

	kind, ok := KindOf(outer)
	if !ok || kind != UserOffline {
		t.Errorf("got kind=%v ok=%v, want UserOffline,true", kind, ok)
	}
}

func Test_KindOf_FalseForPlainError(t *testing.T) {
	if _, ok := KindOf(errors.New("not one of ours")); ok {
		t.Error("KindOf should report false for an error that never carries a Kind")
	}
}

// fmtWrap mimics a caller that wraps one of our Errors with %w, which is
// the situation asError's manual walk (not errors.As) needs to survive.
func fmtWrap(err error) error {
	return &wrapped{err}
}

type wrapped struct{ err error }

func (w *wrapped) Error() string { return "context: " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }

func Test_Kind_StringCoversKnownValues(t *testing.T) {
	cases := map[Kind]string{
		InvalidState:             "InvalidState",
		DuplicateToken:           "DuplicateToken",
		TransferRejected:         "TransferRejected",
		ProtocolError:            "ProtocolError",
		Kicked:                   "Kicked",
		UserEndpointLookupFailed: "UserEndpointLookupFailed",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}

func Test_Kind_StringUnknownValue(t *testing.T) {
	if got := Kind(9999).String(); got != "Unknown" {
		t.Errorf("got %q, want Unknown", got)
	}
}
