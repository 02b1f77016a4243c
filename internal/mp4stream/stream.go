package mp4stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/mp4pipe/internal/logger"
)

const (
	defaultTimeSlice = 1 * time.Millisecond
	streamQueueSize  = 16
)

// ErrStreamCanceled is returned by a Stream after it has been closed by the reader.
var ErrStreamCanceled = errors.New("stream canceled")

// Stream serializes the box log of a Muxer.
// Boxes are taken out of the log one per time slice, starting when the first fragment is available.
// It implements io.ReadCloser.
type Stream struct {
	muxer     *Muxer
	timeSlice time.Duration
	onCancel  func()
	parent    logger.Writer

	ctx        context.Context
	ctxCancel  func()
	stopOnce   sync.Once
	stopReq    chan struct{}
	stopErr    error
	cancelOnce sync.Once
	cursor     int
	termErr    error
	finished   atomic.Bool
	cur        []byte

	// out
	queue   chan []byte
	errored chan struct{}
	done    chan struct{}
}

func newStream(
	muxer *Muxer,
	timeSlice time.Duration,
	onCancel func(),
	parent logger.Writer,
) *Stream {
	if timeSlice <= 0 {
		timeSlice = defaultTimeSlice
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	s := &Stream{
		muxer:     muxer,
		timeSlice: timeSlice,
		onCancel:  onCancel,
		parent:    parent,
		ctx:       ctx,
		ctxCancel: ctxCancel,
		stopReq:   make(chan struct{}),
		queue:     make(chan []byte, streamQueueSize),
		errored:   make(chan struct{}),
		done:      make(chan struct{}),
	}

	go s.run()

	return s
}

// Log implements logger.Writer.
func (s *Stream) Log(level logger.Level, format string, args ...any) {
	s.parent.Log(level, "[stream] "+format, args...)
}

// Stop requests the stream to end.
// With a nil error, remaining boxes are delivered in a final chunk before EOF.
// With an error, boxes not yet read are discarded and reads return the error.
// Only the first call has effect.
func (s *Stream) Stop(err error) {
	s.stopOnce.Do(func() {
		s.stopErr = err
		close(s.stopReq)
	})
}

func (s *Stream) stopRequested() bool {
	select {
	case <-s.stopReq:
		return true
	default:
		return false
	}
}

func (s *Stream) run() {
	defer close(s.done)
	defer close(s.queue)

	if s.stopRequested() {
		s.exit(s.stopErr)
		return
	}

	ticker := time.NewTicker(s.timeSlice)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.enqueue(s.nextDelta()) {
				if s.ctx.Err() == nil {
					s.exit(s.stopErr)
				}
				return
			}

			if s.cursor >= s.muxer.boxCount() || s.stopRequested() {
				s.exit(s.stopErr)
				return
			}

		case <-s.stopReq:
			s.exit(s.stopErr)
			return

		case <-s.ctx.Done():
			return
		}
	}
}

// nextDelta returns the next box of the log, or nil.
func (s *Stream) nextDelta() []byte {
	byts := s.muxer.takeBox(s.cursor)
	if byts != nil {
		s.cursor++
	}
	return byts
}

// enqueue returns false when the stream has been canceled
// or stopped with an error.
func (s *Stream) enqueue(byts []byte) bool {
	if s.ctx.Err() != nil {
		return false
	}

	if byts == nil {
		return true
	}

	stopReq := s.stopReq

	for {
		select {
		case s.queue <- byts:
			return true

		case <-stopReq:
			if s.stopErr != nil {
				return false
			}
			stopReq = nil

		case <-s.ctx.Done():
			return false
		}
	}
}

func (s *Stream) exit(err error) {
	ferr := s.muxer.Flush()
	if ferr != nil {
		s.Log(logger.Warn, "unable to flush: %v", ferr)
		if err == nil {
			err = ferr
		}
	}

	if err != nil {
		s.Log(logger.Debug, "terminated: %v", err)
		s.termErr = err
		close(s.errored)
		return
	}

	// remaining boxes are delivered in a single chunk
	var last []byte
	for {
		byts := s.nextDelta()
		if byts == nil {
			break
		}
		last = append(last, byts...)
	}

	if !s.enqueue(last) {
		return
	}

	s.Log(logger.Debug, "completed, %d boxes", s.cursor)
}

// failure returns the error that ends the stream before queued data, if any.
func (s *Stream) failure() error {
	if s.ctx.Err() != nil {
		return ErrStreamCanceled
	}

	select {
	case <-s.stopReq:
		if s.stopErr != nil {
			s.finished.Store(true)
			return s.stopErr
		}
	default:
	}

	select {
	case <-s.errored:
		s.finished.Store(true)
		return s.termErr
	default:
		return nil
	}
}

// Next returns the next serialized chunk, made of one or more whole boxes.
// It returns io.EOF when the stream is complete.
func (s *Stream) Next() ([]byte, error) {
	if err := s.failure(); err != nil {
		return nil, err
	}

	select {
	case byts, ok := <-s.queue:
		if !ok {
			if err := s.failure(); err != nil {
				return nil, err
			}

			s.finished.Store(true)
			return nil, io.EOF
		}
		return byts, nil

	case <-s.errored:
		return nil, s.failure()

	case <-s.ctx.Done():
		return nil, ErrStreamCanceled
	}
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	if err := s.failure(); err != nil {
		s.cur = nil
		return 0, err
	}

	for len(s.cur) == 0 {
		byts, err := s.Next()
		if err != nil {
			return 0, err
		}
		s.cur = byts
	}

	n := copy(p, s.cur)
	s.cur = s.cur[n:]
	return n, nil
}

// Close cancels the stream.
// The cancel callback is called once, unless the stream was already completely read.
func (s *Stream) Close() error {
	if s.finished.Load() {
		return nil
	}

	s.cancelOnce.Do(func() {
		s.ctxCancel()
		<-s.done

		s.Log(logger.Debug, "canceled")

		if s.onCancel != nil {
			s.onCancel()
		}
	})

	return nil
}
