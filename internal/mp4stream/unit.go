// Package mp4stream contains the MP4 demuxing and muxing pipeline.
package mp4stream

import (
	"time"
)

// FrameType is the type of a frame.
type FrameType int

// frame types.
const (
	FrameTypeKey FrameType = iota
	FrameTypeDelta
)

// String implements fmt.Stringer.
func (t FrameType) String() string {
	if t == FrameTypeKey {
		return "key"
	}
	return "delta"
}

// TrackConfig is the decoder configuration of a video track.
type TrackConfig struct {
	Codec       string
	CodedWidth  int
	CodedHeight int
	Description []byte
}

// CodedFrameUnit is a compressed frame produced by the demuxer.
// Timestamp and Duration are in microseconds.
type CodedFrameUnit struct {
	Type      FrameType
	Timestamp int64
	Duration  int64
	Data      []byte
}

// EncodedUnit is a compressed frame consumed by the muxer.
// Timestamp and Duration are in microseconds.
type EncodedUnit struct {
	Type      FrameType
	Timestamp int64
	Duration  int64
	Data      []byte

	// decoder configuration record, set on the first unit emitted by an encoder.
	DecoderConfig []byte
}

const microsecondsPerSecond = int64(time.Second / time.Microsecond)

// toMicroseconds converts a value in track time scale into microseconds.
func toMicroseconds(v int64, timeScale uint32) int64 {
	ts := int64(timeScale)
	secs := v / ts
	dec := v % ts
	return secs*microsecondsPerSecond + dec*microsecondsPerSecond/ts
}

// fromMicroseconds converts a value in microseconds into track time scale.
func fromMicroseconds(v int64, timeScale uint32) int64 {
	ts := int64(timeScale)
	secs := v / microsecondsPerSecond
	dec := v % microsecondsPerSecond
	return secs*ts + dec*ts/microsecondsPerSecond
}
