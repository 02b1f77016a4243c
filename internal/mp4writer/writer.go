// Package mp4writer contains a MP4 box writer.
package mp4writer

import (
	"io"

	gomp4 "github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
)

// Writer writes boxes into a seekable in-memory buffer.
type Writer struct {
	buf seekablebuffer.Buffer
	w   *gomp4.Writer
}

// New allocates a Writer.
func New() *Writer {
	w := &Writer{}
	w.w = gomp4.NewWriter(&w.buf)
	return w
}

// WriteBoxStart starts a box and writes its fields.
// It returns the offset of the box.
func (w *Writer) WriteBoxStart(box gomp4.IImmutableBox) (int, error) {
	bi := &gomp4.BoxInfo{
		Type: box.GetType(),
	}
	var err error
	bi, err = w.w.StartBox(bi)
	if err != nil {
		return 0, err
	}

	_, err = gomp4.Marshal(w.w, box, gomp4.Context{})
	if err != nil {
		return 0, err
	}

	return int(bi.Offset), nil
}

// WriteBoxEnd ends the innermost open box and fills its size.
func (w *Writer) WriteBoxEnd() error {
	_, err := w.w.EndBox()
	return err
}

// WriteBox writes a box without children.
func (w *Writer) WriteBox(box gomp4.IImmutableBox) (int, error) {
	off, err := w.WriteBoxStart(box)
	if err != nil {
		return 0, err
	}

	err = w.WriteBoxEnd()
	if err != nil {
		return 0, err
	}

	return off, nil
}

// RewriteBox writes again a box at given offset.
// The box size must not change.
func (w *Writer) RewriteBox(off int, box gomp4.IImmutableBox) error {
	prevOff, err := w.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	_, err = w.w.Seek(int64(off), io.SeekStart)
	if err != nil {
		return err
	}

	_, err = w.WriteBox(box)
	if err != nil {
		return err
	}

	_, err = w.w.Seek(prevOff, io.SeekStart)
	return err
}

// WriteRawBox writes a box whose payload is already encoded.
func (w *Writer) WriteRawBox(typ string, payload []byte) error {
	_, err := w.w.StartBox(&gomp4.BoxInfo{
		Type: gomp4.StrToBoxType(typ),
	})
	if err != nil {
		return err
	}

	_, err = w.w.Write(payload)
	if err != nil {
		return err
	}

	return w.WriteBoxEnd()
}

// Offset returns the current write position.
func (w *Writer) Offset() int {
	off, _ := w.w.Seek(0, io.SeekCurrent)
	return int(off)
}

// Bytes returns the written data.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}
