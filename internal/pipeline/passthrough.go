package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/bluenviron/mp4pipe/internal/mp4stream"
)

// ErrUnsupportedCodec is returned when a codec cannot be handled.
var ErrUnsupportedCodec = errors.New("unsupported codec")

func isAVC(codec string) bool {
	return strings.HasPrefix(codec, "avc1") || strings.HasPrefix(codec, "avc3")
}

// PassthroughDecoder is a Decoder that outputs coded units as they are.
type PassthroughDecoder struct {
	OnFrame func(*Frame)
	OnError func(error)

	description []byte
	count       int
}

// Configure implements Decoder.
func (d *PassthroughDecoder) Configure(cfg mp4stream.TrackConfig) error {
	if !isAVC(cfg.Codec) {
		return fmt.Errorf("%w: %s", ErrUnsupportedCodec, cfg.Codec)
	}

	d.description = cfg.Description
	return nil
}

// Decode implements Decoder.
func (d *PassthroughDecoder) Decode(unit mp4stream.CodedFrameUnit) error {
	if d.description == nil {
		return fmt.Errorf("decoder not configured")
	}

	// the first frame must be decodable on its own
	if d.count == 0 && !h264.IsRandomAccess(avccUnmarshal(unit.Data)) {
		d.OnError(fmt.Errorf("frame %d dropped: waiting for a key frame", d.count))
		return nil
	}

	d.OnFrame(&Frame{
		Index:       d.count,
		Type:        unit.Type,
		Timestamp:   unit.Timestamp,
		Duration:    unit.Duration,
		Data:        unit.Data,
		Description: d.description,
	})
	d.count++

	return nil
}

// Flush implements Decoder.
func (d *PassthroughDecoder) Flush(_ context.Context) error {
	return nil
}

// avccUnmarshal returns the NAL units of an access unit, or nil when it is malformed.
func avccUnmarshal(byts []byte) [][]byte {
	var au h264.AVCC
	err := au.Unmarshal(byts)
	if err != nil {
		return nil
	}
	return au
}

// IdentityCompositor is a Compositor that returns frames unchanged.
type IdentityCompositor struct{}

// Composite implements Compositor.
func (IdentityCompositor) Composite(f *Frame, _ float64) (*Frame, error) {
	return f, nil
}

// PassthroughEncoder is an Encoder that outputs frames as they are.
// The first unit carries the decoder configuration.
type PassthroughEncoder struct {
	OnUnit func(mp4stream.EncodedUnit) error

	configured bool
	sentConfig bool
}

// Configure implements Encoder.
func (e *PassthroughEncoder) Configure(cfg EncoderConfig) error {
	if !isAVC(cfg.Codec) {
		return fmt.Errorf("%w: %s", ErrUnsupportedCodec, cfg.Codec)
	}
	if cfg.Framerate <= 0 {
		return fmt.Errorf("invalid framerate: %d", cfg.Framerate)
	}

	e.configured = true
	return nil
}

// Encode implements Encoder.
func (e *PassthroughEncoder) Encode(f *Frame) error {
	if !e.configured {
		return fmt.Errorf("encoder not configured")
	}

	unit := mp4stream.EncodedUnit{
		Type:      f.Type,
		Timestamp: f.Timestamp,
		Duration:  f.Duration,
		Data:      f.Data,
	}

	if !e.sentConfig {
		unit.DecoderConfig = f.Description
		e.sentConfig = true
	}

	return e.OnUnit(unit)
}

// Flush implements Encoder.
func (e *PassthroughEncoder) Flush(_ context.Context) error {
	return nil
}
