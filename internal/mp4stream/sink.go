package mp4stream

import (
	"code.cloudfoundry.org/bytefmt"

	"github.com/bluenviron/mp4pipe/internal/isofile"
	"github.com/bluenviron/mp4pipe/internal/logger"
)

// Sink feeds bytes into an incremental parser.
type Sink struct {
	file   *isofile.File
	parent logger.Writer
	offset uint64
}

// NewSink allocates a Sink.
func NewSink(f *isofile.File, parent logger.Writer) *Sink {
	return &Sink{
		file:   f,
		parent: parent,
	}
}

// Log implements logger.Writer.
func (s *Sink) Log(level logger.Level, format string, args ...any) {
	s.parent.Log(level, "[sink] "+format, args...)
}

// Write implements io.Writer.
// p is copied, and can be reused by the caller.
func (s *Sink) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)

	err := s.file.Append(buf)
	if err != nil {
		return 0, err
	}

	s.offset += uint64(len(p))
	s.Log(logger.Debug, "read %s, buffered %s",
		bytefmt.ByteSize(s.offset), bytefmt.ByteSize(s.file.Buffered()))

	return len(p), nil
}

// Offset returns the number of bytes written so far.
func (s *Sink) Offset() uint64 {
	return s.offset
}

// Close signals the end of the input.
func (s *Sink) Close() error {
	return s.file.Flush()
}
