// Package core contains the main struct of the software.
package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"

	"github.com/bluenviron/mp4pipe/internal/api"
	"github.com/bluenviron/mp4pipe/internal/conf"
	"github.com/bluenviron/mp4pipe/internal/confwatcher"
	"github.com/bluenviron/mp4pipe/internal/externalcmd"
	"github.com/bluenviron/mp4pipe/internal/logger"
	"github.com/bluenviron/mp4pipe/internal/pipeline"
)

var version = "v0.0.0"

var defaultConfPaths = []string{
	"mp4pipe.yml",
	"/usr/local/etc/mp4pipe.yml",
	"/usr/etc/mp4pipe.yml",
	"/etc/mp4pipe/mp4pipe.yml",
}

const apiReadTimeout = 10 * time.Second

type cliArgs struct {
	Version bool   `help:"print version"`
	Conf    string `help:"path to a config file. The default is mp4pipe.yml." short:"c"`

	Export struct {
		Input  string `arg:"" help:"input MP4 file"`
		Output string `help:"output file. The default is the exportName setting." short:"o"`
	} `cmd:"" help:"load a MP4 file and export it"`

	Probe struct {
		Input string `arg:"" help:"input MP4 file"`
	} `cmd:"" help:"print the video track of a MP4 file"`

	Play struct {
		Input string `arg:"" help:"input MP4 file"`
	} `cmd:"" help:"load a MP4 file and print its frames at the playback rate"`

	Serve struct{} `cmd:"" default:"1" help:"start the HTTP API (default)"`
}

// Core is an instance of mp4pipe.
type Core struct {
	ctx             context.Context
	ctxCancel       func()
	args            cliArgs
	command         string
	confPath        string
	conf            *conf.Conf
	logger          *logger.Logger
	externalCmdPool *externalcmd.Pool
	api             *api.API
	confWatcher     *confwatcher.ConfWatcher
	stdout          io.Writer
	err             error

	// out
	done chan struct{}
}

// New allocates a Core.
func New(args []string) (*Core, bool) {
	p := &Core{
		stdout: os.Stdout,
		done:   make(chan struct{}),
	}

	parser, err := kong.New(&p.args,
		kong.Description("mp4pipe "+version),
		kong.UsageOnError())
	if err != nil {
		panic(err)
	}

	kctx, err := parser.Parse(args)
	parser.FatalIfErrorf(err)

	if p.args.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	p.command = strings.Fields(kctx.Command())[0]
	p.ctx, p.ctxCancel = context.WithCancel(context.Background())

	p.conf, p.confPath, err = conf.Load(p.args.Conf, defaultConfPaths)
	if err != nil {
		fmt.Printf("ERR: %s\n", err)
		return nil, false
	}

	err = p.createResources(true)
	if err != nil {
		if p.logger != nil {
			p.Log(logger.Error, "%s", err)
		} else {
			fmt.Printf("ERR: %s\n", err)
		}
		p.closeResources(nil)
		return nil, false
	}

	go p.run()

	return p, true
}

// Close closes Core and waits for all goroutines to return.
func (p *Core) Close() {
	p.ctxCancel()
	<-p.done
}

// Wait waits for the Core to exit. It returns false in case of errors.
func (p *Core) Wait() bool {
	<-p.done
	return p.err == nil
}

// Log implements logger.Writer.
func (p *Core) Log(level logger.Level, format string, args ...any) {
	p.logger.Log(level, format, args...)
}

func (p *Core) run() {
	defer close(p.done)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	if p.command != "serve" {
		go func() {
			select {
			case <-interrupt:
				p.Log(logger.Info, "interrupted")
				p.ctxCancel()
			case <-p.ctx.Done():
			}
		}()

		p.err = p.runCommand()
		if p.err != nil {
			p.Log(logger.Error, "%s", p.err)
		}

		p.ctxCancel()
		p.closeResources(nil)
		return
	}

	confChanged := func() <-chan struct{} {
		if p.confWatcher != nil {
			return p.confWatcher.Watch()
		}
		return make(chan struct{})
	}()

outer:
	for {
		select {
		case <-confChanged:
			p.Log(logger.Info, "reloading configuration (file changed)")

			newConf, _, err := conf.Load(p.confPath, nil)
			if err != nil {
				p.Log(logger.Error, "%s", err)
				p.err = err
				break outer
			}

			err = p.reloadConf(newConf)
			if err != nil {
				p.Log(logger.Error, "%s", err)
				p.err = err
				break outer
			}

		case <-interrupt:
			p.Log(logger.Info, "shutting down gracefully")
			break outer

		case <-p.ctx.Done():
			break outer
		}
	}

	p.ctxCancel()

	p.closeResources(nil)
}

func (p *Core) newPipeline(parent logger.Writer) *pipeline.Pipeline {
	return &pipeline.Pipeline{
		ReadBufferSize:   int(p.conf.ReadBufferSize),
		DecodeQueueSize:  p.conf.DecodeQueueSize,
		TimeSlice:        time.Duration(p.conf.TimeSlice),
		FragmentDuration: time.Duration(p.conf.FragmentDuration),
		Encoder: pipeline.EncoderConfig{
			Codec:     p.conf.Encoder.Codec,
			Width:     p.conf.Encoder.Width,
			Height:    p.conf.Encoder.Height,
			Bitrate:   p.conf.Encoder.Bitrate,
			Framerate: p.conf.Encoder.Framerate,
		},
		RunOnExportComplete: p.conf.RunOnExportComplete,
		ExternalCmdPool:     p.externalCmdPool,
		Parent:              parent,
	}
}

func (p *Core) createResources(initial bool) error {
	var err error

	if p.logger == nil {
		p.logger = &logger.Logger{
			Level:        logger.Level(p.conf.LogLevel),
			Destinations: p.conf.LogDestinations,
			Structured:   p.conf.LogStructured,
			File:         p.conf.LogFile,
			SysLogPrefix: "mp4pipe",
		}
		err = p.logger.Initialize()
		if err != nil {
			p.logger = nil
			return err
		}
	}

	if initial {
		p.Log(logger.Info, "mp4pipe %s", version)

		if p.confPath != "" {
			p.Log(logger.Debug, "configuration loaded from %s", p.confPath)
		} else {
			p.Log(logger.Debug, "configuration file not found, using the default configuration")
		}

		gin.SetMode(gin.ReleaseMode)

		p.externalCmdPool = &externalcmd.Pool{}
	}

	if p.command != "serve" {
		return nil
	}

	if p.conf.API && p.api == nil {
		conf := p.conf

		p.api = &api.API{
			Address:     conf.APIAddress,
			ReadTimeout: apiReadTimeout,
			PPROF:       conf.PPROF,
			ExportName:  conf.ExportName,
			NewPipeline: p.newPipeline,
			Parent:      p,
		}
		err = p.api.Initialize()
		if err != nil {
			p.api = nil
			return err
		}
	}

	if initial && p.confPath != "" {
		p.confWatcher = &confwatcher.ConfWatcher{
			FilePath: p.confPath,
			Parent:   p,
		}
		err = p.confWatcher.Initialize()
		if err != nil {
			p.confWatcher = nil
			return err
		}
	}

	return nil
}

func (p *Core) closeResources(newConf *conf.Conf) {
	closeLogger := newConf == nil ||
		newConf.LogLevel != p.conf.LogLevel ||
		!reflect.DeepEqual(newConf.LogDestinations, p.conf.LogDestinations) ||
		newConf.LogStructured != p.conf.LogStructured ||
		newConf.LogFile != p.conf.LogFile

	// pipelines are created by the API with the configuration in use
	closeAPI := newConf == nil ||
		!reflect.DeepEqual(newConf, p.conf) ||
		closeLogger

	if newConf == nil && p.confWatcher != nil {
		p.confWatcher.Close()
		p.confWatcher = nil
	}

	if closeAPI && p.api != nil {
		p.api.Close()
		p.api = nil
	}

	if newConf == nil && p.externalCmdPool != nil {
		p.Log(logger.Info, "waiting for running hooks")
		p.externalCmdPool.Close()
	}

	if closeLogger && p.logger != nil {
		p.logger.Close()
		p.logger = nil
	}
}

func (p *Core) reloadConf(newConf *conf.Conf) error {
	p.closeResources(newConf)
	p.conf = newConf
	return p.createResources(false)
}
