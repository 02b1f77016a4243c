package mp4stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bluenviron/mp4pipe/internal/isofile"
	"github.com/bluenviron/mp4pipe/internal/logger"
)

const defaultReadBufferSize = 1024 * 1024

// ErrDescriptionNotFound is returned when the video track has no decoder configuration record.
var ErrDescriptionNotFound = errors.New("decoder configuration record not found")

// ErrNoVideoTrack is returned when the file does not contain any video track.
var ErrNoVideoTrack = errors.New("no video track found")

// DemuxerConf is the configuration of a Demuxer.
type DemuxerConf struct {
	// called once, before any chunk.
	OnConfig func(TrackConfig) error

	// called for each sample of the video track.
	OnChunk func(CodedFrameUnit) error

	// called when the input has been entirely processed.
	OnDone func()

	ReadBufferSize int
	Parent         logger.Writer
}

// Demuxer extracts the first video track of a MP4 file.
type Demuxer struct {
	r    io.Reader
	conf DemuxerConf

	file    *isofile.File
	sink    *Sink
	trackID int
	count   int
}

// NewDemuxer allocates a Demuxer.
// r can be nil when the input is pushed with Write.
func NewDemuxer(r io.Reader, conf DemuxerConf) *Demuxer {
	if conf.ReadBufferSize <= 0 {
		conf.ReadBufferSize = defaultReadBufferSize
	}

	d := &Demuxer{
		r:    r,
		conf: conf,
	}

	d.file = &isofile.File{
		OnReady:   d.onReady,
		OnSamples: d.onSamples,
	}
	d.sink = NewSink(d.file, d)

	return d
}

// Log implements logger.Writer.
func (d *Demuxer) Log(level logger.Level, format string, args ...any) {
	d.conf.Parent.Log(level, "[demuxer] "+format, args...)
}

// Run reads the input until EOF.
func (d *Demuxer) Run(ctx context.Context) error {
	buf := make([]byte, d.conf.ReadBufferSize)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("terminated")
		default:
		}

		n, err := d.r.Read(buf)
		if n > 0 {
			_, err2 := d.sink.Write(buf[:n])
			if err2 != nil {
				return err2
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return d.Close()
			}
			return err
		}
	}
}

// Write pushes input bytes.
func (d *Demuxer) Write(p []byte) (int, error) {
	return d.sink.Write(p)
}

// Close signals the end of pushed input.
func (d *Demuxer) Close() error {
	err := d.sink.Close()
	if err != nil {
		return err
	}

	d.Log(logger.Debug, "done, %d samples", d.count)

	if d.conf.OnDone != nil {
		d.conf.OnDone()
	}
	return nil
}

func codecAlias(codec string) string {
	if strings.HasPrefix(codec, "vp08") {
		return "vp8"
	}
	return codec
}

func (d *Demuxer) onReady(info *isofile.Info) error {
	track := info.FirstVideoTrack()
	if track == nil {
		return ErrNoVideoTrack
	}

	if track.Config == nil {
		return ErrDescriptionNotFound
	}

	d.trackID = track.ID

	cfg := TrackConfig{
		Codec:       codecAlias(track.Codec),
		CodedWidth:  track.Width,
		CodedHeight: track.Height,
		Description: track.Config,
	}

	d.Log(logger.Info, "video track %d, codec %s, %dx%d, %d samples",
		track.ID, cfg.Codec, cfg.CodedWidth, cfg.CodedHeight, track.SampleCount)

	if d.conf.OnConfig != nil {
		err := d.conf.OnConfig(cfg)
		if err != nil {
			return err
		}
	}

	d.file.SetExtractionOptions(track.ID)
	return d.file.Start()
}

func (d *Demuxer) onSamples(trackID int, samples []*isofile.Sample) error {
	if trackID != d.trackID {
		return nil
	}

	for _, sample := range samples {
		unit := CodedFrameUnit{
			Type:      FrameTypeDelta,
			Timestamp: toMicroseconds(sample.CTS, sample.TimeScale),
			Duration:  toMicroseconds(int64(sample.Duration), sample.TimeScale),
			Data:      sample.Data,
		}
		if sample.IsSync {
			unit.Type = FrameTypeKey
		}

		d.count++

		if d.conf.OnChunk != nil {
			err := d.conf.OnChunk(unit)
			if err != nil {
				return err
			}
		}
	}

	return nil
}
