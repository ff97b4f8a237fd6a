package errors

import (
	"errors"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrConfigRequired", ErrConfigRequired, "paymentservice: configuration is required"},
		{"ErrLoggerRequired", ErrLoggerRequired, "paymentservice: logger is required"},
		{"ErrProviderRequired", ErrProviderRequired, "paymentservice: credential provider is required"},
		{"ErrConnectorRequired", ErrConnectorRequired, "paymentservice: broker connector is required"},
		{"ErrPublisherRequired", ErrPublisherRequired, "paymentservice: publisher is required"},
		{"ErrHandleClosed", ErrHandleClosed, "paymentservice: broker handle is closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestTaggedErrorsMatchTheirKind(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     Kind
	}{
		{"credential", &CredentialFetchError{Source: "rabbitmq-credentials", Err: cause}, ErrCredentialFetchFailed, KindCredentialFetch},
		{"connection", &ConnectionError{Stage: StageDial, Err: cause}, ErrConnectionEstablishmentFailed, KindConnectionEstablishment},
		{"trigger", &MalformedTriggerError{Key: "paymentRequest::/", Reason: "missing"}, ErrMalformedTrigger, KindMalformedTrigger},
		{"decode", &DecodeError{Index: 2, Err: cause}, ErrMessageDecodeFailed, KindMessageDecode},
		{"publish", &PublishError{PaymentRequestID: "req-1", Err: cause}, ErrPublishFailed, KindPublish},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Fatalf("expected %v to match %v", tt.err, tt.sentinel)
			}
			if got := KindOf(tt.err); got != tt.kind {
				t.Fatalf("KindOf() = %q, want %q", got, tt.kind)
			}
		})
	}
}

func TestConnectionErrorWrappingCredentialFailure(t *testing.T) {
	cause := errors.New("access denied")
	err := &ConnectionError{
		Stage: StageCredentials,
		Err:   &CredentialFetchError{Source: "rabbitmq-credentials", Err: cause},
	}

	if !errors.Is(err, ErrConnectionEstablishmentFailed) {
		t.Fatal("expected connection establishment kind")
	}
	if !errors.Is(err, ErrCredentialFetchFailed) {
		t.Fatal("expected credential fetch kind to remain visible")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected root cause to remain visible")
	}
	if got := KindOf(err); got != KindCredentialFetch {
		t.Fatalf("KindOf() = %q, want %q", got, KindCredentialFetch)
	}

	plain := &ConnectionError{Stage: StageCredentials, Err: cause}
	if got := KindOf(plain); got != KindCredentialFetch {
		t.Fatalf("KindOf(credentials stage) = %q, want %q", got, KindCredentialFetch)
	}
	dial := &ConnectionError{Stage: StageDial, Err: cause}
	if got := KindOf(dial); got != KindConnectionEstablishment {
		t.Fatalf("KindOf(dial stage) = %q, want %q", got, KindConnectionEstablishment)
	}
}

func TestKindTerminal(t *testing.T) {
	terminal := []Kind{KindCredentialFetch, KindConnectionEstablishment, KindMalformedTrigger}
	for _, k := range terminal {
		if !k.Terminal() {
			t.Errorf("%q should be terminal", k)
		}
	}
	for _, k := range []Kind{KindNone, KindMessageDecode, KindPublish, KindOther} {
		if k.Terminal() {
			t.Errorf("%q should not be terminal", k)
		}
	}
	if got := KindOf(nil); got != KindNone {
		t.Errorf("KindOf(nil) = %q", got)
	}
	if got := KindOf(errors.New("x")); got != KindOther {
		t.Errorf("KindOf(plain) = %q", got)
	}
}

func TestMalformedTriggerErrorMessage(t *testing.T) {
	err := &MalformedTriggerError{Key: "paymentRequest::/", Reason: "invalid json", Err: errors.New("eof")}
	want := `paymentservice: malformed trigger for "paymentRequest::/": invalid json: eof`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("wraps error correctly", func(t *testing.T) {
		inner := errors.New("bad config")
		err := NewConfigValidationError(inner)

		var cfgErr ConfigValidationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigValidationError, got %T", err)
		}
		if cfgErr.Err != inner {
			t.Errorf("wrapped error = %v, want %v", cfgErr.Err, inner)
		}
		if !errors.Is(err, inner) {
			t.Error("errors.Is should match wrapped error")
		}
		if got, want := err.Error(), "paymentservice: invalid configuration: bad config"; got != want {
			t.Errorf("Error() = %q, want %q", got, want)
		}
	})
}
