// Package pipeline contains the load / composite / export pipeline.
package pipeline

import (
	"context"

	"github.com/bluenviron/mp4pipe/internal/mp4stream"
)

// Frame is a frame produced by a Decoder.
// Timestamp and Duration are in microseconds.
type Frame struct {
	Index     int
	Type      mp4stream.FrameType
	Timestamp int64
	Duration  int64
	Data      []byte

	// decoder configuration of the source track.
	Description []byte
}

// EncoderConfig is the configuration of an Encoder.
type EncoderConfig struct {
	Codec     string
	Width     int
	Height    int
	Bitrate   int
	Framerate int
}

// Decoder decodes coded units into frames.
type Decoder interface {
	Configure(cfg mp4stream.TrackConfig) error
	Decode(unit mp4stream.CodedFrameUnit) error
	Flush(ctx context.Context) error
}

// Compositor transforms a frame. progress goes from 0 to 1.
type Compositor interface {
	Composite(f *Frame, progress float64) (*Frame, error)
}

// Encoder encodes frames into units.
type Encoder interface {
	Configure(cfg EncoderConfig) error
	Encode(f *Frame) error
	Flush(ctx context.Context) error
}
