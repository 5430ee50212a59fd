package forward

import (
	"context"

	"github.com/temoto/hydrorelay/internal/config"
	"github.com/temoto/hydrorelay/internal/reading"
)

// CompleteFunc reports the outcome of one attempt. Safe to call from any
// goroutine and more than once; only the first call has effect.
type CompleteFunc func(Outcome)

// Sink delivers readings to one kind of destination.
// Contract:
// - Attempt returns quickly, network IO happens in background
// - done is called at least once, eventually, for every attempt
// - transport failures and timeouts -> Buffer
// - configuration errors and explicit rejection -> Error, details per sink
// - Sink never touches destination queue
type Sink interface {
	Attempt(ctx context.Context, r *reading.Reading, d *config.Destination, done CompleteFunc)
}

// SinkFunc adapts plain function to Sink.
type SinkFunc func(ctx context.Context, r *reading.Reading, d *config.Destination, done CompleteFunc)

func (f SinkFunc) Attempt(ctx context.Context, r *reading.Reading, d *config.Destination, done CompleteFunc) {
	f(ctx, r, d, done)
}
