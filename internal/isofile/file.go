// Package isofile contains an incremental ISO-BMFF (MP4) parser and builder.
package isofile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// ErrMoovNotFound is returned when the input ends without a moov box.
var ErrMoovNotFound = errors.New("moov box not found")

// ErrTruncated is returned when the input ends before all samples have been received.
var ErrTruncated = errors.New("file is truncated")

// maximum size of a moov or moof box.
const maxMetadataBoxSize = 256 * 1024 * 1024

type boxHeader struct {
	typ        string
	size       uint64
	headerSize uint64
}

// File is an incrementally-parsed MP4 file.
// Bytes are appended with Append; boxes are parsed as soon as they are complete.
type File struct {
	// called once, when the moov box has been parsed.
	OnReady func(*Info) error

	// called when samples of an extracted track are available.
	OnSamples func(trackID int, samples []*Sample) error

	buf        multiBuffer
	pos        uint64
	openEnded  bool
	info       *Info
	extracted  map[int]struct{}
	started    bool
	processing bool
	err        error
}

// Info returns the parsed moov box, or nil.
func (f *File) Info() *Info {
	return f.info
}

// Buffered returns the number of bytes currently held in memory.
func (f *File) Buffered() uint64 {
	return f.buf.size()
}

// Received returns the number of bytes appended so far.
func (f *File) Received() uint64 {
	return f.buf.end
}

// SetExtractionOptions enables the extraction of samples of a track.
func (f *File) SetExtractionOptions(trackID int) {
	if f.extracted == nil {
		f.extracted = make(map[int]struct{})
	}
	f.extracted[trackID] = struct{}{}
}

// Start starts delivering samples of extracted tracks.
func (f *File) Start() error {
	if f.err != nil {
		return f.err
	}
	if f.started {
		return nil
	}
	f.started = true

	// samples of other tracks are not needed anymore
	if f.info != nil {
		for _, t := range f.info.Tracks {
			if _, ok := f.extracted[t.ID]; !ok {
				t.dropPending(len(t.pending))
			}
		}
	}

	// when called from OnReady, samples are extracted by the ongoing process()
	if f.processing {
		return nil
	}

	return f.setErr(f.process(false))
}

// Append appends bytes to the file. The file takes ownership of p.
func (f *File) Append(p []byte) error {
	if f.err != nil {
		return f.err
	}

	f.buf.append(p)

	return f.setErr(f.process(false))
}

// Flush signals the end of the input.
func (f *File) Flush() error {
	if f.err != nil {
		return f.err
	}

	err := f.process(true)
	if err != nil {
		return f.setErr(err)
	}

	if f.info == nil {
		return f.setErr(ErrMoovNotFound)
	}

	if f.started {
		for _, id := range f.extractedIDs() {
			t := f.info.FindTrack(id)
			if t != nil && len(t.pending) != 0 {
				return f.setErr(fmt.Errorf("%w: %d samples of track %d are missing",
					ErrTruncated, len(t.pending), id))
			}
		}
	}

	return nil
}

func (f *File) setErr(err error) error {
	if err != nil && f.err == nil {
		f.err = err
	}
	return err
}

func (f *File) extractedIDs() []int {
	ids := make([]int, 0, len(f.extracted))
	for id := range f.extracted {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (f *File) readHeader(off uint64) (*boxHeader, bool, error) {
	if !f.buf.available(off, 8) {
		return nil, false, nil
	}

	byts, err := f.buf.readAt(off, 8)
	if err != nil {
		return nil, false, err
	}

	h := &boxHeader{
		typ:        string(byts[4:8]),
		size:       uint64(binary.BigEndian.Uint32(byts[0:4])),
		headerSize: 8,
	}

	if h.size == 1 {
		if !f.buf.available(off, 16) {
			return nil, false, nil
		}

		byts, err = f.buf.readAt(off+8, 8)
		if err != nil {
			return nil, false, err
		}

		h.size = binary.BigEndian.Uint64(byts)
		h.headerSize = 16
	}

	if h.size != 0 && h.size < h.headerSize {
		return nil, false, fmt.Errorf("invalid size of box '%s' at offset %d", h.typ, off)
	}

	return h, true, nil
}

func (f *File) process(final bool) error {
	f.processing = true
	defer func() { f.processing = false }()

	err := f.scanBoxes(final)
	if err != nil {
		return err
	}

	if f.info != nil && f.started {
		err = f.extract()
		if err != nil {
			return err
		}

		f.release()
	}

	return nil
}

func (f *File) scanBoxes(final bool) error {
	for !f.openEnded {
		h, ok, err := f.readHeader(f.pos)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if h.size == 0 {
			// the box extends to the end of the file
			if h.typ != "moov" && h.typ != "moof" {
				f.openEnded = true
				return nil
			}
			if !final {
				return nil
			}
			h.size = f.buf.end - f.pos
		}

		switch h.typ {
		case "moov", "moof":
			if h.size > maxMetadataBoxSize {
				return fmt.Errorf("box '%s' is too big (%d bytes)", h.typ, h.size)
			}
			if !f.buf.available(f.pos, h.size) {
				return nil
			}

			byts, err := f.buf.readAt(f.pos, h.size)
			if err != nil {
				return err
			}

			if h.headerSize == 16 {
				// go-mp4 does not need the largesize field once the box is isolated
				byts = byts[8:]
				binary.BigEndian.PutUint32(byts[0:4], uint32(h.size-8))
				copy(byts[4:8], h.typ)
			}

			if h.typ == "moov" {
				err = f.handleMoov(byts)
			} else {
				err = f.handleMoof(byts, f.pos)
			}
			if err != nil {
				return err
			}
		}

		f.pos += h.size
	}

	return nil
}

func (f *File) handleMoov(byts []byte) error {
	if f.info != nil {
		return fmt.Errorf("multiple moov boxes")
	}

	info, err := parseMoov(byts)
	if err != nil {
		return fmt.Errorf("unable to parse moov: %w", err)
	}

	f.info = info

	if f.OnReady != nil {
		err = f.OnReady(info)
		if err != nil {
			return err
		}
	}

	return nil
}

func (f *File) handleMoof(byts []byte, off uint64) error {
	if f.info == nil {
		return fmt.Errorf("moof found before moov")
	}

	samples, err := parseMoof(byts, off, f.info)
	if err != nil {
		return fmt.Errorf("unable to parse moof: %w", err)
	}

	for id, trackSamples := range samples {
		t := f.info.FindTrack(id)

		if f.started {
			if _, ok := f.extracted[id]; !ok {
				t.SampleCount += len(trackSamples)
				continue
			}
		}

		t.addSamples(trackSamples)
	}

	return nil
}

func (f *File) extract() error {
	for _, id := range f.extractedIDs() {
		t := f.info.FindTrack(id)
		if t == nil {
			continue
		}

		n := 0
		for _, sa := range t.pending {
			if !f.buf.available(sa.Offset, uint64(sa.Size)) {
				if sa.Offset < f.buf.start {
					return fmt.Errorf("sample %d of track %d: %w", sa.Number, id, errReleased)
				}
				break
			}

			var err error
			sa.Data, err = f.buf.readAt(sa.Offset, uint64(sa.Size))
			if err != nil {
				return err
			}

			n++
		}

		if n == 0 {
			continue
		}

		batch := t.pending[:n]
		t.dropPending(n)

		if f.OnSamples != nil {
			err := f.OnSamples(id, batch)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func (f *File) release() {
	threshold := f.pos

	for id := range f.extracted {
		t := f.info.FindTrack(id)
		if t != nil && len(t.minOffset) != 0 && t.minOffset[0] < threshold {
			threshold = t.minOffset[0]
		}
	}

	f.buf.release(threshold)
}
