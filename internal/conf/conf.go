// Package conf contains the struct that holds the configuration of the software.
package conf

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bluenviron/mp4pipe/internal/conf/env"
	"github.com/bluenviron/mp4pipe/internal/conf/yamlwrapper"
	"github.com/bluenviron/mp4pipe/internal/logger"
)

// EnvPrefix is the prefix of environment variables that override the configuration.
const EnvPrefix = "MP4P"

func firstThatExists(paths []string) string {
	for _, pa := range paths {
		_, err := os.Stat(pa)
		if err == nil {
			return pa
		}
	}
	return ""
}

// Encoder is the encoder section of the configuration.
type Encoder struct {
	Codec     string `json:"codec"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bitrate   int    `json:"bitrate"`
	Framerate int    `json:"framerate"`
}

// Conf is a configuration.
type Conf struct {
	// General
	LogLevel        LogLevel        `json:"logLevel"`
	LogDestinations LogDestinations `json:"logDestinations"`
	LogStructured   bool            `json:"logStructured"`
	LogFile         string          `json:"logFile"`

	// Demux / mux
	ReadBufferSize   StringSize `json:"readBufferSize"`
	TimeSlice        Duration   `json:"timeSlice"`
	FragmentDuration Duration   `json:"fragmentDuration"`
	DecodeQueueSize  int        `json:"decodeQueueSize"`

	// Pipeline
	Encoder             Encoder `json:"encoder"`
	PlaybackFPS         int     `json:"playbackFPS"`
	ExportName          string  `json:"exportName"`
	RunOnExportComplete string  `json:"runOnExportComplete"`

	// HTTP
	API        bool   `json:"api"`
	APIAddress string `json:"apiAddress"`
	PPROF      bool   `json:"pprof"`
}

func (conf *Conf) setDefaults() {
	// General
	conf.LogLevel = LogLevel(logger.Info)
	conf.LogDestinations = LogDestinations{logger.DestinationStdout}
	conf.LogFile = "mp4pipe.log"

	// Demux / mux
	conf.ReadBufferSize = 1024 * 1024
	conf.TimeSlice = Duration(1 * time.Millisecond)
	conf.DecodeQueueSize = 512

	// Pipeline
	conf.Encoder = Encoder{
		Codec:     "avc1.4D0032",
		Width:     1920,
		Height:    1080,
		Bitrate:   80000000,
		Framerate: 24,
	}
	conf.PlaybackFPS = 24
	conf.ExportName = "video.mp4"

	// HTTP
	conf.API = true
	conf.APIAddress = ":9996"
}

// UnmarshalJSON implements json.Unmarshaler. It sets the default value and then loads the configuration.
func (conf *Conf) UnmarshalJSON(b []byte) error {
	conf.setDefaults()

	type alias Conf
	d := json.NewDecoder(strings.NewReader(string(b)))
	d.DisallowUnknownFields()
	return d.Decode((*alias)(conf))
}

// Load loads a Conf.
func Load(fpath string, defaultConfPaths []string) (*Conf, string, error) {
	conf := &Conf{}

	fpath, err := conf.loadFromFile(fpath, defaultConfPaths)
	if err != nil {
		return nil, "", err
	}

	err = env.Load(EnvPrefix, conf)
	if err != nil {
		return nil, "", err
	}

	err = conf.Validate()
	if err != nil {
		return nil, "", err
	}

	return conf, fpath, nil
}

func (conf *Conf) loadFromFile(fpath string, defaultConfPaths []string) (string, error) {
	if fpath == "" {
		fpath = firstThatExists(defaultConfPaths)

		// when the configuration file is not explicitly set,
		// it is optional.
		if fpath == "" {
			conf.setDefaults()
			return "", nil
		}
	}

	byts, err := os.ReadFile(fpath)
	if err != nil {
		return "", err
	}

	err = yamlwrapper.Unmarshal(byts, conf)
	if err != nil {
		return "", err
	}

	return fpath, nil
}

// Clone clones the configuration.
func (conf Conf) Clone() *Conf {
	enc, err := json.Marshal(conf)
	if err != nil {
		panic(err)
	}

	var dest Conf
	err = json.Unmarshal(enc, &dest)
	if err != nil {
		panic(err)
	}

	return &dest
}

// Validate checks the configuration for errors.
func (conf *Conf) Validate() error {
	if conf.LogFile == "" && contains(conf.LogDestinations, logger.DestinationFile) {
		return fmt.Errorf("'logFile' must be set when logging to file")
	}
	if conf.ReadBufferSize == 0 {
		return fmt.Errorf("'readBufferSize' must be greater than zero")
	}
	if conf.TimeSlice <= 0 {
		return fmt.Errorf("'timeSlice' must be greater than zero")
	}
	if conf.FragmentDuration < 0 {
		return fmt.Errorf("'fragmentDuration' must not be negative")
	}
	if conf.DecodeQueueSize <= 0 || (conf.DecodeQueueSize&(conf.DecodeQueueSize-1)) != 0 {
		return fmt.Errorf("'decodeQueueSize' must be a power of two")
	}
	if conf.Encoder.Codec == "" {
		return fmt.Errorf("'encoder.codec' must be set")
	}
	if conf.Encoder.Width < 0 || conf.Encoder.Height < 0 {
		return fmt.Errorf("'encoder.width' and 'encoder.height' must not be negative")
	}
	if conf.Encoder.Bitrate <= 0 {
		return fmt.Errorf("'encoder.bitrate' must be greater than zero")
	}
	if conf.Encoder.Framerate <= 0 {
		return fmt.Errorf("'encoder.framerate' must be greater than zero")
	}
	if conf.PlaybackFPS <= 0 {
		return fmt.Errorf("'playbackFPS' must be greater than zero")
	}
	if conf.ExportName == "" || strings.ContainsAny(conf.ExportName, `/\"`) {
		return fmt.Errorf("'exportName' is not a valid file name")
	}

	return nil
}

func contains(list LogDestinations, item logger.Destination) bool {
	for _, i := range list {
		if i == item {
			return true
		}
	}
	return false
}
