// Package asyncwriter contains an asynchronous writer.
package asyncwriter

import (
	"context"
	"errors"
	"fmt"

	"github.com/bluenviron/gortsplib/v4/pkg/ringbuffer"

	"github.com/bluenviron/mp4pipe/internal/logger"
)

// ErrTerminated is returned by Push after the writer has been stopped.
var ErrTerminated = errors.New("terminated")

// Writer runs callbacks in order, in a dedicated routine.
// Push blocks when the queue is full.
type Writer struct {
	buffer *ringbuffer.RingBuffer
	slots  chan struct{}
	parent logger.Writer

	// out
	err chan error
}

// New allocates a Writer. queueSize must be a power of two.
func New(queueSize int, parent logger.Writer) (*Writer, error) {
	buffer, err := ringbuffer.New(uint64(queueSize))
	if err != nil {
		return nil, err
	}

	return &Writer{
		buffer: buffer,
		slots:  make(chan struct{}, queueSize),
		parent: parent,
		err:    make(chan error, 1),
	}, nil
}

// Start starts the writer routine.
func (w *Writer) Start() {
	go w.run()
}

// Stop stops the writer routine and returns the error that stopped it, if any.
func (w *Writer) Stop() error {
	w.buffer.Close()
	err := <-w.err
	if errors.Is(err, ErrTerminated) {
		return nil
	}
	return err
}

// Error returns a channel that receives the error that stopped the routine.
func (w *Writer) Error() <-chan error {
	return w.err
}

func (w *Writer) run() {
	w.err <- w.runInner()
	close(w.err)
}

func (w *Writer) runInner() error {
	for {
		cb, ok := w.buffer.Pull()
		if !ok {
			return ErrTerminated
		}

		<-w.slots

		err := cb.(func() error)()
		if err != nil {
			return err
		}
	}
}

// Push appends a callback to the queue.
func (w *Writer) Push(ctx context.Context, cb func() error) error {
	select {
	case w.slots <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("terminated")
	}

	if !w.buffer.Push(cb) {
		<-w.slots
		w.parent.Log(logger.Warn, "write queue is full")
		return fmt.Errorf("write queue is full")
	}

	return nil
}

// Flush waits until every queued callback has been run.
func (w *Writer) Flush(ctx context.Context) error {
	done := make(chan struct{})

	err := w.Push(ctx, func() error {
		close(done)
		return nil
	})
	if err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case err = <-w.err:
		if err == nil {
			err = ErrTerminated
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("terminated")
	}
}
