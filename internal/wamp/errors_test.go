package wamp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/danmuck/wampd/internal/future"
	"github.com/danmuck/wampd/internal/testutil/testlog"
)

func TestErrorURIMapsSentinelsAndWrapping(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		err  error
		want URI
	}{
		{ErrNoSuchProcedure, ErrURINoSuchProcedure},
		{fmt.Errorf("%w: com.app.add", ErrProcedureAlreadyExists), ErrURIProcedureAlreadyExists},
		{ErrDuplicateRequestID, ErrURIDuplicateRequestID},
		{ErrRoleNotSupported, ErrURIRoleNotSupported},
		{future.ErrCanceled, ErrURICanceled},
		{context.DeadlineExceeded, ErrURITimeout},
		{&ApplicationError{URI: "com.app.oops"}, "com.app.oops"},
		{errors.New("boom"), ErrURIRuntimeError},
	}
	for _, tc := range cases {
		if got := ErrorURI(tc.err); got != tc.want {
			t.Fatalf("ErrorURI(%v): got=%s want=%s", tc.err, got, tc.want)
		}
	}
}

func TestApplicationErrorMatchesSentinelByURI(t *testing.T) {
	testlog.Start(t)
	err := ErrorFromMessage(&Error{RequestType: MessageCall, Request: 1, Error: ErrURINoSuchProcedure})
	if !errors.Is(err, ErrNoSuchProcedure) {
		t.Fatalf("expected no such procedure match")
	}
	if errors.Is(err, ErrNoSuchRegistration) {
		t.Fatalf("unexpected match against other sentinel")
	}
	canceled := &ApplicationError{URI: ErrURICanceled}
	if !errors.Is(canceled, future.ErrCanceled) {
		t.Fatalf("expected canceled URI to match future cancel")
	}
}

func TestNewErrorMessageCarriesPayload(t *testing.T) {
	testlog.Start(t)
	msg := NewErrorMessage(MessageCall, 4, NewApplicationError("com.app.invalid", "bad input", 3))
	if msg.Error != "com.app.invalid" || len(msg.Args) != 2 || msg.Request != 4 {
		t.Fatalf("unexpected error message: %v", msg)
	}
	msg = NewErrorMessage(MessageSubscribe, 5, errors.New("disk full"))
	if msg.Error != ErrURIRuntimeError || msg.Args[0] != "disk full" {
		t.Fatalf("unexpected runtime error message: %v", msg)
	}
}

func TestSerializationErrorUnwraps(t *testing.T) {
	testlog.Start(t)
	cause := errors.New("unexpected end")
	err := error(&SerializationError{Codec: "json", Err: cause})
	if !errors.Is(err, ErrSerialization) || !errors.Is(err, cause) {
		t.Fatalf("unexpected unwrap behavior: %v", err)
	}
}
