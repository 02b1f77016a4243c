package mp4stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/bluenviron/mp4pipe/internal/isofile"
	"github.com/bluenviron/mp4pipe/internal/logger"
)

const defaultTimeScale = 1000000

// ErrTrackExists is returned when a track has already been added.
var ErrTrackExists = errors.New("track already added")

// ErrMissingDecoderConfig is returned when a track is added without a decoder configuration record.
var ErrMissingDecoderConfig = errors.New("decoder configuration record is missing")

// ErrNoTrack is returned when a chunk is added before the track.
var ErrNoTrack = errors.New("track not added yet")

// MuxerConf is the configuration of a Muxer.
type MuxerConf struct {
	// minimum duration of a fragment. Zero means one sample per fragment.
	FragmentDuration time.Duration

	Parent logger.Writer
}

// TrackOptions are the options of a track.
type TrackOptions struct {
	Timescale   uint32
	Width       int
	Height      int
	Description []byte
}

type muxerTrack struct {
	*isofile.BuilderTrack
	pending      []*pendingSample
	lastDTS      int64
	lastDuration int64
	endDTS       int64
}

type pendingSample struct {
	dts      int64
	duration int64
	isSync   bool
	payload  []byte
}

// Muxer writes an AVC video track into a fragmented MP4 box log.
type Muxer struct {
	conf MuxerConf

	mutex   sync.Mutex
	builder isofile.Builder
	tracks  map[int]*muxerTrack
	added   bool
	closed  bool
}

// NewMuxer allocates a Muxer.
func NewMuxer(conf MuxerConf) *Muxer {
	return &Muxer{
		conf:   conf,
		tracks: make(map[int]*muxerTrack),
	}
}

// Log implements logger.Writer.
func (m *Muxer) Log(level logger.Level, format string, args ...any) {
	m.conf.Parent.Log(level, "[muxer] "+format, args...)
}

// spsFromAVCConfig returns the first SPS of an AVC decoder configuration record.
func spsFromAVCConfig(cfg []byte) ([]byte, error) {
	if len(cfg) < 8 {
		return nil, fmt.Errorf("invalid AVC configuration record")
	}

	if cfg[5]&0x1F == 0 {
		return nil, fmt.Errorf("AVC configuration record does not contain any SPS")
	}

	l := int(binary.BigEndian.Uint16(cfg[6:8]))
	if len(cfg) < 8+l {
		return nil, fmt.Errorf("invalid AVC configuration record")
	}

	return cfg[8 : 8+l], nil
}

// AddTrack adds the video track and writes the initialization boxes.
// Only one track can be added.
func (m *Muxer) AddTrack(opts TrackOptions) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.addTrack(opts)
}

func (m *Muxer) addTrack(opts TrackOptions) (int, error) {
	if m.added {
		return 0, ErrTrackExists
	}

	if len(opts.Description) == 0 {
		return 0, ErrMissingDecoderConfig
	}

	if opts.Timescale == 0 {
		opts.Timescale = defaultTimeScale
	}

	if opts.Width == 0 || opts.Height == 0 {
		buf, err := spsFromAVCConfig(opts.Description)
		if err != nil {
			return 0, err
		}

		var sps h264.SPS
		err = sps.Unmarshal(buf)
		if err != nil {
			return 0, fmt.Errorf("unable to parse H264 SPS: %w", err)
		}

		opts.Width = sps.Width()
		opts.Height = sps.Height()
	}

	track := &muxerTrack{
		BuilderTrack: &isofile.BuilderTrack{
			ID:          1,
			TimeScale:   opts.Timescale,
			Width:       opts.Width,
			Height:      opts.Height,
			SampleEntry: "avc1",
			ConfigType:  "avcC",
			Config:      append([]byte(nil), opts.Description...),
		},
	}

	err := m.builder.WriteInit([]*isofile.BuilderTrack{track.BuilderTrack})
	if err != nil {
		return 0, err
	}

	m.tracks[track.ID] = track
	m.added = true

	m.Log(logger.Debug, "added track %d, %dx%d, time scale %d",
		track.ID, track.Width, track.Height, track.TimeScale)

	return track.ID, nil
}

// AddVideoChunk adds a sample to a track.
// The payload is copied.
func (m *Muxer) AddVideoChunk(trackID int, unit EncodedUnit) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.addVideoChunk(trackID, unit)
}

// AddEncoded adds a unit produced by an encoder.
// The first unit carrying a decoder configuration record creates the track.
func (m *Muxer) AddEncoded(unit EncodedUnit) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.added {
		if unit.DecoderConfig == nil {
			return ErrNoTrack
		}

		_, err := m.addTrack(TrackOptions{Description: unit.DecoderConfig})
		if err != nil {
			return err
		}
	}

	return m.addVideoChunk(1, unit)
}

func (m *Muxer) addVideoChunk(trackID int, unit EncodedUnit) error {
	if m.closed {
		return fmt.Errorf("muxer is closed")
	}

	track, ok := m.tracks[trackID]
	if !ok {
		if !m.added {
			return ErrNoTrack
		}
		return fmt.Errorf("track %d not found", trackID)
	}

	dts := fromMicroseconds(unit.Timestamp, track.TimeScale)
	duration := fromMicroseconds(unit.Duration, track.TimeScale)

	if dts < 0 {
		return fmt.Errorf("negative timestamp (%d)", unit.Timestamp)
	}

	if dts < track.lastDTS {
		return fmt.Errorf("timestamp of track %d is decreasing (%d < %d)", trackID, dts, track.lastDTS)
	}
	track.lastDTS = dts

	sample := &pendingSample{
		dts:      dts,
		duration: duration,
		isSync:   unit.Type == FrameTypeKey,
		payload:  append([]byte(nil), unit.Data...),
	}

	if m.shouldCloseFragment(track, sample) {
		err := m.writeFragment(track)
		if err != nil {
			return err
		}
	}

	track.pending = append(track.pending, sample)

	if m.conf.FragmentDuration == 0 {
		return m.writeFragment(track)
	}

	return nil
}

func (m *Muxer) shouldCloseFragment(track *muxerTrack, next *pendingSample) bool {
	if len(track.pending) == 0 || !next.isSync {
		return false
	}

	span := next.dts - track.pending[0].dts
	return span >= fromMicroseconds(m.conf.FragmentDuration.Microseconds(), track.TimeScale)
}

func (m *Muxer) writeFragment(track *muxerTrack) error {
	if len(track.pending) == 0 {
		return nil
	}

	samples := make([]*isofile.FragmentSample, len(track.pending))

	for i, s := range track.pending {
		var duration int64
		switch {
		case i < len(track.pending)-1:
			duration = track.pending[i+1].dts - s.dts
		case s.duration > 0:
			duration = s.duration
		default:
			duration = track.lastDuration
		}
		track.lastDuration = duration

		samples[i] = &isofile.FragmentSample{
			Duration:        uint32(duration),
			IsNonSyncSample: !s.isSync,
			Payload:         s.payload,
		}
	}

	err := m.builder.WriteFragment([]*isofile.FragmentTrack{{
		ID:       track.ID,
		BaseTime: uint64(track.pending[0].dts),
		Samples:  samples,
	}})
	if err != nil {
		return err
	}

	last := track.pending[len(track.pending)-1]
	track.endDTS = last.dts + int64(samples[len(samples)-1].Duration)
	track.pending = nil

	return nil
}

// Flush writes pending samples as a fragment.
func (m *Muxer) Flush() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.flush()
}

func (m *Muxer) flush() error {
	for _, track := range m.tracks {
		err := m.writeFragment(track)
		if err != nil {
			return err
		}
	}
	return nil
}

// Close flushes pending samples and releases the track registry.
func (m *Muxer) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return nil
	}

	err := m.flush()
	m.tracks = nil
	m.closed = true
	return err
}

// NewStream returns a Stream that serializes the box log.
func (m *Muxer) NewStream(timeSlice time.Duration, onCancel func()) *Stream {
	return newStream(m, timeSlice, onCancel, m)
}

// takeBox returns the box at the given index of the log.
// It returns nil when no fragment has been written yet, or when the index is out of the log.
func (m *Muxer) takeBox(i int) []byte {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.builder.HasFragment() || i >= m.builder.Len() {
		return nil
	}

	return m.builder.Take(i)
}

func (m *Muxer) boxCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.builder.Len()
}

// Duration returns the duration of the written fragments.
func (m *Muxer) Duration() time.Duration {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	track, ok := m.tracks[1]
	if !ok {
		return 0
	}

	return time.Duration(toMicroseconds(track.endDTS, track.TimeScale)) * time.Microsecond
}
