package confirm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/errors"
	"github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/ids"
	loggingpkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/logging"
	"github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/metrics"
)

const (
	defaultConcurrency    = 8
	defaultPublishTimeout = 5 * time.Second
)

// Publisher sends a message to the response queue. *broker.Handle implements it.
type Publisher interface {
	Publish(ctx context.Context, msg *message.Message) error
}

// Failure records why one inbound message produced no confirmation.
type Failure struct {
	Message InboundMessage
	Err     error
}

// Result summarizes one batch. Failed and Confirmations are ordered by
// message index.
type Result struct {
	Succeeded     int
	Failed        []Failure
	Confirmations []Confirmation
}

// Options configures a Processor. Zero values fall back to defaults.
type Options struct {
	Concurrency    int
	PublishTimeout time.Duration
	Logger         loggingpkg.ServiceLogger
	Metrics        *metrics.Metrics
	// NewID mints confirmation ids. Defaults to random UUIDs.
	NewID func() string
}

// Processor fans a batch out over a bounded number of concurrent publishes.
// A failing message never stops the rest of the batch.
type Processor struct {
	concurrency    int
	publishTimeout time.Duration
	logger         loggingpkg.ServiceLogger
	metrics        *metrics.Metrics
	newID          func() string
}

func NewProcessor(opts Options) *Processor {
	p := &Processor{
		concurrency:    opts.Concurrency,
		publishTimeout: opts.PublishTimeout,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		newID:          opts.NewID,
	}
	if p.concurrency <= 0 {
		p.concurrency = defaultConcurrency
	}
	if p.publishTimeout <= 0 {
		p.publishTimeout = defaultPublishTimeout
	}
	if p.logger == nil {
		p.logger = loggingpkg.NewNopServiceLogger()
	}
	if p.newID == nil {
		p.newID = ids.NewConfirmationID
	}
	return p
}

type outcome struct {
	index        int
	confirmation Confirmation
	failure      *Failure
}

// Process decodes, confirms and publishes every message and waits for all of
// them before returning.
func (p *Processor) Process(ctx context.Context, msgs []InboundMessage, pub Publisher) Result {
	var (
		mu       sync.Mutex
		outcomes = make([]outcome, 0, len(msgs))
		wg       sync.WaitGroup
		sem      = make(chan struct{}, p.concurrency)
	)

	record := func(o outcome) {
		mu.Lock()
		defer mu.Unlock()
		outcomes = append(outcomes, o)
	}

	for _, m := range msgs {
		wg.Add(1)
		sem <- struct{}{}
		go func(m InboundMessage) {
			defer wg.Done()
			defer func() { <-sem }()

			c, err := p.processOne(ctx, m, pub)
			if err != nil {
				p.metrics.ObserveFailure(string(errspkg.KindOf(err)))
				p.logger.Error("Payment request not confirmed", err, loggingpkg.LogFields{
					"index": m.Index,
					"kind":  errspkg.KindOf(err),
				})
				record(outcome{index: m.Index, failure: &Failure{Message: m, Err: err}})
				return
			}
			record(outcome{index: m.Index, confirmation: c})
		}(m)
	}
	wg.Wait()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].index < outcomes[j].index })

	var res Result
	for _, o := range outcomes {
		if o.failure != nil {
			res.Failed = append(res.Failed, *o.failure)
			continue
		}
		res.Succeeded++
		res.Confirmations = append(res.Confirmations, o.confirmation)
	}
	return res
}

func (p *Processor) processOne(ctx context.Context, m InboundMessage, pub Publisher) (c Confirmation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing message %d: %v", m.Index, r)
		}
	}()

	id, err := DecodeRequest(m.Data)
	if err != nil {
		return Confirmation{}, &errspkg.DecodeError{Index: m.Index, Err: err}
	}

	c = NewConfirmation(id, p.newID)
	if err := p.publish(ctx, c, pub); err != nil {
		return Confirmation{}, &errspkg.PublishError{PaymentRequestID: id, Err: err}
	}

	p.logger.Debug("Payment confirmation published", loggingpkg.LogFields{
		"index":                   m.Index,
		"payment_request_id":      c.PaymentRequestID,
		"payment_confirmation_id": c.PaymentConfirmationID,
	})
	return c, nil
}

func (p *Processor) publish(ctx context.Context, c Confirmation, pub Publisher) error {
	if pub == nil {
		return errspkg.ErrPublisherRequired
	}

	msg, err := NewConfirmationMessage(c)
	if err != nil {
		return err
	}

	tracer := otel.Tracer("payment-confirmer-tracer")
	ctx, span := tracer.Start(ctx, "PublishConfirmation", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("message.uuid", msg.UUID),
		attribute.String("payment.request_id", c.PaymentRequestID),
		attribute.String("payment.confirmation_id", c.PaymentConfirmationID),
	)

	ctx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()
	msg.SetContext(ctx)

	start := time.Now()
	if err := pub.Publish(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	p.metrics.ObservePublished(time.Since(start))
	return nil
}
