package runtime

import (
	"context"
	"time"

	"github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/confirm"
	loggingpkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/logging"
)

// InvocationContext describes one invocation to hooks.
type InvocationContext struct {
	// RequestID is the Lambda request id, empty outside Lambda.
	RequestID string
	// TriggerKey is the "<queue>::<routing key>" batch the invocation reads.
	TriggerKey string
	// BatchSize is the number of messages in the selected batch.
	BatchSize int
	Context   context.Context
	StartedAt time.Time
	// Duration is only set in OnInvocationDone and OnInvocationError.
	Duration time.Duration
}

// InvocationHooks defines callbacks around each invocation.
// All hooks are optional - nil hooks are simply not called.
type InvocationHooks struct {
	OnInvocationStart func(ctx InvocationContext)

	// OnInvocationDone is called when the batch was processed, including
	// batches with per-message failures.
	OnInvocationDone func(ctx InvocationContext, result confirm.Result)

	// OnInvocationError is called for terminal failures that produce a 500.
	OnInvocationError func(ctx InvocationContext, err error)
}

// Merge combines two InvocationHooks. The hooks from 'other' are called after
// the hooks from 'h'.
func (h InvocationHooks) Merge(other InvocationHooks) InvocationHooks {
	return InvocationHooks{
		OnInvocationStart: chainStartHooks(h.OnInvocationStart, other.OnInvocationStart),
		OnInvocationDone:  chainDoneHooks(h.OnInvocationDone, other.OnInvocationDone),
		OnInvocationError: chainErrorHooks(h.OnInvocationError, other.OnInvocationError),
	}
}

func chainStartHooks(a, b func(InvocationContext)) func(InvocationContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx InvocationContext) {
		a(ctx)
		b(ctx)
	}
}

func chainDoneHooks(a, b func(InvocationContext, confirm.Result)) func(InvocationContext, confirm.Result) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx InvocationContext, res confirm.Result) {
		a(ctx, res)
		b(ctx, res)
	}
}

func chainErrorHooks(a, b func(InvocationContext, error)) func(InvocationContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx InvocationContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h InvocationHooks) start(ctx InvocationContext) {
	if h.OnInvocationStart != nil {
		h.OnInvocationStart(ctx)
	}
}

func (h InvocationHooks) done(ctx InvocationContext, res confirm.Result) {
	if h.OnInvocationDone != nil {
		h.OnInvocationDone(ctx, res)
	}
}

func (h InvocationHooks) fail(ctx InvocationContext, err error) {
	if h.OnInvocationError != nil {
		h.OnInvocationError(ctx, err)
	}
}

// LoggingHooks returns pre-built hooks that log invocation lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) InvocationHooks {
	return InvocationHooks{
		OnInvocationStart: func(ctx InvocationContext) {
			logger.Debug("Invocation started", loggingpkg.LogFields{
				"aws_request_id": ctx.RequestID,
				"trigger_key":    ctx.TriggerKey,
				"batch_size":     ctx.BatchSize,
			})
		},
		OnInvocationDone: func(ctx InvocationContext, res confirm.Result) {
			logger.Info("Invocation completed", loggingpkg.LogFields{
				"aws_request_id": ctx.RequestID,
				"succeeded":      res.Succeeded,
				"failed":         len(res.Failed),
				"duration_ms":    ctx.Duration.Milliseconds(),
			})
		},
		OnInvocationError: func(ctx InvocationContext, err error) {
			logger.Error("Invocation failed", err, loggingpkg.LogFields{
				"aws_request_id": ctx.RequestID,
				"trigger_key":    ctx.TriggerKey,
				"duration_ms":    ctx.Duration.Milliseconds(),
			})
		},
	}
}
