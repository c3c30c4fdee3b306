package auditlog

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"proofgate/pkg/platform/sentinel"
)

// failingStore rejects every append.
type failingStore struct{}

func (failingStore) Append(context.Context, EncryptedEntry) error {
	return errors.New("disk full")
}

type RecorderSuite struct {
	suite.Suite
	cipher *Cipher
	store  *InMemoryStore
	ctx    context.Context
}

func TestRecorderSuite(t *testing.T) {
	suite.Run(t, new(RecorderSuite))
}

func (s *RecorderSuite) SetupTest() {
	cipher, err := NewCipher(bytes.Repeat([]byte{0x44}, KeySize))
	s.Require().NoError(err)
	s.cipher = cipher
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
}

func (s *RecorderSuite) newRecorder(opts ...Option) *Recorder {
	return NewRecorder(s.cipher, s.store, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func (s *RecorderSuite) TestRequiredMode() {
	s.Run("append is synchronous", func() {
		recorder := s.newRecorder()

		err := recorder.Record(s.ctx, Entry{Message: "proof verified", UserID: "user-42"})
		s.Require().NoError(err)

		entries := s.store.Entries()
		s.Require().Len(entries, 1)

		entry, err := s.cipher.DecryptEntry(entries[0])
		s.Require().NoError(err)
		s.Equal("proof verified", entry.Message)
		s.Equal("user-42", entry.UserID)
		s.False(entry.Timestamp.IsZero(), "zero timestamp must be filled in")
	})

	s.Run("store failure surfaces to caller", func() {
		recorder := NewRecorder(s.cipher, failingStore{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

		err := recorder.Record(s.ctx, Entry{Message: "proof verified"})
		s.Require().Error(err)
	})

	s.Run("explicit timestamp preserved", func() {
		recorder := s.newRecorder()
		ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

		s.Require().NoError(recorder.Record(s.ctx, Entry{Message: "m", Timestamp: ts}))

		entry, err := s.cipher.DecryptEntry(s.store.Entries()[0])
		s.Require().NoError(err)
		s.Equal(ts, entry.Timestamp)
	})
}

func (s *RecorderSuite) TestBestEffortMode() {
	s.Run("entries flow through the worker", func() {
		recorder := s.newRecorder(WithBestEffort(8))

		workerCtx, cancel := context.WithCancel(s.ctx)
		done := make(chan error, 1)
		go func() { done <- recorder.Worker(workerCtx) }()

		for i := 0; i < 3; i++ {
			err := recorder.Record(s.ctx, Entry{Message: "entry", Metadata: map[string]string{"i": string(rune('0' + i))}})
			s.Require().NoError(err)
		}

		s.Eventually(func() bool {
			return len(s.store.Entries()) == 3
		}, 2*time.Second, 10*time.Millisecond)

		cancel()
		s.Require().ErrorIs(<-done, context.Canceled)
	})

	s.Run("full queue drops with an error, never blocks", func() {
		recorder := s.newRecorder(WithBestEffort(1))
		// No worker draining the queue.

		s.Require().NoError(recorder.Record(s.ctx, Entry{Message: "first"}))

		err := recorder.Record(s.ctx, Entry{Message: "second"})
		s.Require().ErrorIs(err, sentinel.ErrUnavailable)
	})

	s.Run("worker flushes queued entries on shutdown", func() {
		recorder := s.newRecorder(WithBestEffort(8))

		s.Require().NoError(recorder.Record(s.ctx, Entry{Message: "queued"}))

		workerCtx, cancel := context.WithCancel(s.ctx)
		cancel()
		err := recorder.Worker(workerCtx)
		s.Require().ErrorIs(err, context.Canceled)

		s.Len(s.store.Entries(), 1)
	})
}
