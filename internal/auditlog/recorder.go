package auditlog

import (
	"context"
	"log/slog"
	"time"

	"proofgate/internal/platform/metrics"
	"proofgate/pkg/platform/sentinel"
)

// Recorder encrypts entries and hands them to the store. In the default
// (required) mode Record appends synchronously, so a verification response is
// never sent without its audit record being durable. In best-effort mode
// entries go through a bounded queue drained by a Worker, trading that
// guarantee for availability when the sink is slow.
type Recorder struct {
	cipher  *Cipher
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	bestEffort bool
	inbox      chan EncryptedEntry
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithBestEffort switches the recorder to asynchronous, lossy-under-pressure
// delivery through a queue of the given size.
func WithBestEffort(queueSize int) Option {
	return func(r *Recorder) {
		r.bestEffort = true
		r.inbox = make(chan EncryptedEntry, queueSize)
	}
}

// WithMetrics wires audit counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

func NewRecorder(cipher *Cipher, store Store, logger *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		cipher: cipher,
		store:  store,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record seals and persists one entry. A zero timestamp is filled in with
// the current time.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	sealed, err := r.cipher.EncryptEntry(entry)
	if err != nil {
		r.countFailure()
		return err
	}

	if r.bestEffort {
		select {
		case r.inbox <- sealed:
			r.countEntry()
			return nil
		default:
			// Queue full. Dropping is the contract of best-effort mode, but
			// it is never silent.
			r.countFailure()
			r.logger.ErrorContext(ctx, "audit queue full, entry dropped",
				"request_id", entry.RequestID,
			)
			return sentinel.ErrUnavailable
		}
	}

	if err := r.store.Append(ctx, sealed); err != nil {
		r.countFailure()
		return err
	}
	r.countEntry()
	return nil
}

// Worker drains the best-effort queue into the store. Run it under the
// process errgroup; it exits when the context is canceled and the queue has
// been flushed.
func (r *Recorder) Worker(ctx context.Context) error {
	if !r.bestEffort {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			// Flush whatever is already queued before exiting.
			for {
				select {
				case sealed := <-r.inbox:
					r.appendBestEffort(sealed)
				default:
					return ctx.Err()
				}
			}
		case sealed := <-r.inbox:
			r.appendBestEffort(sealed)
		}
	}
}

func (r *Recorder) appendBestEffort(sealed EncryptedEntry) {
	// Detached context: the originating request is long gone.
	if err := r.store.Append(context.Background(), sealed); err != nil {
		r.countFailure()
		r.logger.Error("audit append failed", "error", err)
	}
}

func (r *Recorder) countEntry() {
	if r.metrics != nil {
		r.metrics.AuditEntriesTotal.Inc()
	}
}

func (r *Recorder) countFailure() {
	if r.metrics != nil {
		r.metrics.AuditFailuresTotal.Inc()
	}
}
