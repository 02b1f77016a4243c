package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"code.cloudfoundry.org/bytefmt"

	"github.com/bluenviron/mp4pipe/internal/asyncwriter"
	"github.com/bluenviron/mp4pipe/internal/externalcmd"
	"github.com/bluenviron/mp4pipe/internal/logger"
	"github.com/bluenviron/mp4pipe/internal/mp4stream"
	"github.com/bluenviron/mp4pipe/internal/observable"
)

// ErrNotLoaded is returned when exporting before loading.
var ErrNotLoaded = errors.New("no frames loaded")

// Pipeline loads a video into memory and exports it.
type Pipeline struct {
	ReadBufferSize      int
	DecodeQueueSize     int
	TimeSlice           time.Duration
	FragmentDuration    time.Duration
	Encoder             EncoderConfig
	RunOnExportComplete string
	ExternalCmdPool     *externalcmd.Pool
	Parent              logger.Writer

	// optional collaborators. Passthrough implementations are used when nil.
	NewDecoder func(onFrame func(*Frame), onError func(error)) Decoder
	Compositor Compositor
	NewEncoder func(onUnit func(mp4stream.EncodedUnit) error) Encoder

	// set to true when a video has been loaded.
	Loaded observable.Value[bool]

	mutex  sync.Mutex
	frames []*Frame
	config *mp4stream.TrackConfig
}

// Log implements logger.Writer.
func (p *Pipeline) Log(level logger.Level, format string, args ...any) {
	p.Parent.Log(level, "[pipeline] "+format, args...)
}

func (p *Pipeline) newDecoder(onFrame func(*Frame), onError func(error)) Decoder {
	if p.NewDecoder != nil {
		return p.NewDecoder(onFrame, onError)
	}
	return &PassthroughDecoder{OnFrame: onFrame, OnError: onError}
}

func (p *Pipeline) newEncoder(onUnit func(mp4stream.EncodedUnit) error) Encoder {
	if p.NewEncoder != nil {
		return p.NewEncoder(onUnit)
	}
	return &PassthroughEncoder{OnUnit: onUnit}
}

func (p *Pipeline) compositor() Compositor {
	if p.Compositor != nil {
		return p.Compositor
	}
	return IdentityCompositor{}
}

// Frames returns loaded frames.
func (p *Pipeline) Frames() []*Frame {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.frames
}

// TrackConfig returns the configuration of the loaded track.
func (p *Pipeline) TrackConfig() *mp4stream.TrackConfig {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.config
}

// Load demuxes and decodes r. Loaded frames replace the previous ones.
func (p *Pipeline) Load(ctx context.Context, r io.Reader) error {
	d, wait, err := p.newLoader(ctx, r)
	if err != nil {
		return err
	}

	err = d.Run(ctx)
	return wait(err)
}

// NewLoadWriter returns a demuxer fed by Write calls. Close completes the loading.
func (p *Pipeline) NewLoadWriter(ctx context.Context) (io.WriteCloser, error) {
	d, wait, err := p.newLoader(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &loadWriter{d: d, wait: wait}, nil
}

type loadWriter struct {
	d    *mp4stream.Demuxer
	wait func(error) error
	err  error
}

func (w *loadWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}

	n, err := w.d.Write(p)
	if err != nil {
		w.err = w.wait(err)
		return n, w.err
	}
	return n, nil
}

func (w *loadWriter) Close() error {
	if w.err != nil {
		return w.err
	}
	return w.wait(w.d.Close())
}

func (p *Pipeline) newLoader(
	ctx context.Context,
	r io.Reader,
) (*mp4stream.Demuxer, func(error) error, error) {
	p.Loaded.Set(false)

	p.mutex.Lock()
	p.frames = nil
	p.config = nil
	p.mutex.Unlock()

	aw, err := asyncwriter.New(p.DecodeQueueSize, logger.NewLimitedLogger(p))
	if err != nil {
		return nil, nil, err
	}

	var frames []*Frame
	var framesMutex sync.Mutex

	decodeErrLogger := logger.NewLimitedLogger(p)

	dec := p.newDecoder(
		func(f *Frame) {
			framesMutex.Lock()
			frames = append(frames, f)
			framesMutex.Unlock()
		},
		func(err error) {
			decodeErrLogger.Log(logger.Warn, "decode error: %v", err)
		})

	var config mp4stream.TrackConfig

	d := mp4stream.NewDemuxer(r, mp4stream.DemuxerConf{
		OnConfig: func(cfg mp4stream.TrackConfig) error {
			config = cfg
			return dec.Configure(cfg)
		},
		OnChunk: func(unit mp4stream.CodedFrameUnit) error {
			return aw.Push(ctx, func() error {
				err := dec.Decode(unit)
				if err != nil {
					decodeErrLogger.Log(logger.Warn, "unable to decode frame at %dus: %v", unit.Timestamp, err)
				}
				return nil
			})
		},
		OnDone: func() {
			p.Log(logger.Debug, "demuxing completed")
		},
		ReadBufferSize: p.ReadBufferSize,
		Parent:         p,
	})

	aw.Start()

	wait := func(err error) error {
		if err != nil {
			aw.Stop() //nolint:errcheck
			return err
		}

		err = aw.Flush(ctx)
		if err != nil {
			aw.Stop() //nolint:errcheck
			return err
		}

		err = aw.Stop()
		if err != nil {
			return err
		}

		err = dec.Flush(ctx)
		if err != nil {
			return err
		}

		framesMutex.Lock()
		loaded := frames
		framesMutex.Unlock()

		p.mutex.Lock()
		p.frames = loaded
		p.config = &config
		p.mutex.Unlock()

		p.Log(logger.Info, "loaded %d frames, codec %s, %dx%d",
			len(loaded), config.Codec, config.CodedWidth, config.CodedHeight)

		p.Loaded.Set(true)
		return nil
	}

	return d, wait, nil
}

// encode composites and encodes every frame into a muxer.
func (p *Pipeline) encode(ctx context.Context) (*mp4stream.Muxer, error) {
	frames := p.Frames()
	if len(frames) == 0 {
		return nil, ErrNotLoaded
	}

	m := mp4stream.NewMuxer(mp4stream.MuxerConf{
		FragmentDuration: p.FragmentDuration,
		Parent:           p,
	})

	enc := p.newEncoder(m.AddEncoded)

	err := enc.Configure(p.Encoder)
	if err != nil {
		return nil, err
	}

	interval := int64(time.Second/time.Microsecond) / int64(p.Encoder.Framerate)
	offset := int64(0)
	compositor := p.compositor()
	encodeErrLogger := logger.NewLimitedLogger(p)

	for i, f := range frames {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("terminated")
		}

		cf, err := compositor.Composite(f, float64(i)/float64(len(frames)))
		if err != nil {
			encodeErrLogger.Log(logger.Warn, "unable to composite frame %d: %v", i, err)
			continue
		}

		out := *cf
		out.Timestamp = offset
		out.Duration = interval

		err = enc.Encode(&out)
		if err != nil {
			if errors.Is(err, mp4stream.ErrNoTrack) || errors.Is(err, mp4stream.ErrMissingDecoderConfig) {
				return nil, err
			}
			encodeErrLogger.Log(logger.Warn, "unable to encode frame %d: %v", i, err)
			continue
		}

		offset += interval
	}

	err = enc.Flush(ctx)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Export encodes loaded frames and writes the resulting MP4 into w, one serialized chunk at a time.
// It returns the number of written bytes.
func (p *Pipeline) Export(ctx context.Context, w io.Writer) (int64, error) {
	m, err := p.encode(ctx)
	if err != nil {
		return 0, err
	}
	defer m.Close() //nolint:errcheck

	s := m.NewStream(p.TimeSlice, func() {
		p.Log(logger.Debug, "export canceled")
	})
	defer s.Close() //nolint:errcheck

	var n int64

	for {
		if ctx.Err() != nil {
			return n, fmt.Errorf("terminated")
		}

		byts, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return n, err
		}

		nw, err := w.Write(byts)
		n += int64(nw)
		if err != nil {
			return n, err
		}
	}

	p.Log(logger.Info, "exported %s, duration %v", bytefmt.ByteSize(uint64(n)), m.Duration())

	return n, nil
}

// ExportBuffer encodes loaded frames and returns the resulting MP4.
func (p *Pipeline) ExportBuffer(ctx context.Context) ([]byte, error) {
	m, err := p.encode(ctx)
	if err != nil {
		return nil, err
	}
	defer m.Close() //nolint:errcheck

	s := m.NewStream(p.TimeSlice, nil)
	defer s.Close() //nolint:errcheck

	stop := context.AfterFunc(ctx, func() {
		s.Stop(fmt.Errorf("terminated"))
	})
	defer stop()

	byts, err := mp4stream.Collect(s)
	if err != nil {
		return nil, err
	}

	p.Log(logger.Info, "exported %s, duration %v", bytefmt.ByteSize(uint64(len(byts))), m.Duration())

	return byts, nil
}

// OnExportComplete runs the command configured to run after an export.
// path is empty when the export was not saved to a file (HTTP exports).
func (p *Pipeline) OnExportComplete(path string, name string, size int64) {
	if p.RunOnExportComplete == "" {
		return
	}

	p.Log(logger.Info, "runOnExportComplete command launched")

	externalcmd.NewCmd(
		p.ExternalCmdPool,
		p.RunOnExportComplete,
		externalcmd.Environment{
			"MP4P_EXPORT_PATH": path,
			"MP4P_EXPORT_NAME": name,
			"MP4P_EXPORT_SIZE": strconv.FormatInt(size, 10),
		},
		func(err error) {
			if err != nil {
				p.Log(logger.Warn, "runOnExportComplete command failed: %v", err)
			} else {
				p.Log(logger.Info, "runOnExportComplete command exited")
			}
		})
}
