package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"code.cloudfoundry.org/bytefmt"

	"github.com/bluenviron/mp4pipe/internal/logger"
	"github.com/bluenviron/mp4pipe/internal/mp4stream"
	"github.com/bluenviron/mp4pipe/internal/pipeline"
	"github.com/bluenviron/mp4pipe/internal/playback"
)

func (p *Core) runCommand() error {
	switch p.command {
	case "export":
		return p.runExport(p.args.Export.Input, p.args.Export.Output)

	case "probe":
		return p.runProbe(p.args.Probe.Input)

	case "play":
		return p.runPlay(p.args.Play.Input)
	}

	return fmt.Errorf("unknown command: %s", p.command)
}

func (p *Core) load(fpath string) (*pipeline.Pipeline, error) {
	f, err := os.Open(fpath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pl := p.newPipeline(p)

	err = pl.Load(p.ctx, f)
	if err != nil {
		return nil, fmt.Errorf("unable to load %s: %w", fpath, err)
	}

	return pl, nil
}

func (p *Core) runExport(input string, output string) error {
	if output == "" {
		output = p.conf.ExportName
	}

	pl, err := p.load(input)
	if err != nil {
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}

	n, err := pl.Export(p.ctx, f)
	f.Close()
	if err != nil {
		os.Remove(output)
		return err
	}

	p.Log(logger.Info, "saved %s (%s)", output, bytefmt.ByteSize(uint64(n)))

	pl.OnExportComplete(output, filepath.Base(output), n)

	return nil
}

func (p *Core) runProbe(input string) error {
	pl, err := p.load(input)
	if err != nil {
		return err
	}

	frames := pl.Frames()
	conf := pl.TrackConfig()

	var size uint64
	keyFrames := 0
	var duration time.Duration

	for _, fr := range frames {
		size += uint64(len(fr.Data))
		if fr.Type == mp4stream.FrameTypeKey {
			keyFrames++
		}
		duration += time.Duration(fr.Duration) * time.Microsecond
	}

	fmt.Fprintf(p.stdout, "codec: %s\n", conf.Codec)
	fmt.Fprintf(p.stdout, "size: %dx%d\n", conf.CodedWidth, conf.CodedHeight)
	fmt.Fprintf(p.stdout, "frames: %d (%d key)\n", len(frames), keyFrames)
	fmt.Fprintf(p.stdout, "duration: %v\n", duration)
	fmt.Fprintf(p.stdout, "data: %s\n", bytefmt.ByteSize(size))

	return nil
}

type logRenderer struct {
	p *Core
}

func (r *logRenderer) Render(fr *pipeline.Frame) error {
	r.p.Log(logger.Info, "frame %d: %s, %v, %s", fr.Index, fr.Type,
		time.Duration(fr.Timestamp)*time.Microsecond, bytefmt.ByteSize(uint64(len(fr.Data))))
	return nil
}

func (p *Core) runPlay(input string) error {
	pl, err := p.load(input)
	if err != nil {
		return err
	}

	pla := &playback.Player{Parent: p}
	pla.SetFrames(pl.Frames())

	return pla.Run(p.ctx, p.conf.PlaybackFPS, &logRenderer{p: p})
}
