package conf

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/mp4pipe/internal/logger"
	"github.com/bluenviron/mp4pipe/internal/test"
)

func TestConfDefaults(t *testing.T) {
	conf, confPath, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, "", confPath)

	require.Equal(t, LogLevel(logger.Info), conf.LogLevel)
	require.Equal(t, LogDestinations{logger.DestinationStdout}, conf.LogDestinations)
	require.Equal(t, StringSize(1024*1024), conf.ReadBufferSize)
	require.Equal(t, Duration(time.Millisecond), conf.TimeSlice)
	require.Equal(t, Duration(0), conf.FragmentDuration)
	require.Equal(t, 512, conf.DecodeQueueSize)
	require.Equal(t, Encoder{
		Codec:     "avc1.4D0032",
		Width:     1920,
		Height:    1080,
		Bitrate:   80000000,
		Framerate: 24,
	}, conf.Encoder)
	require.Equal(t, "video.mp4", conf.ExportName)
	require.Equal(t, ":9996", conf.APIAddress)
	require.True(t, conf.API)
}

func TestConfFromFile(t *testing.T) {
	tmpf, err := test.CreateTempFile([]byte("logLevel: debug\n" +
		"readBufferSize: 64KB\n" +
		"timeSlice: 5ms\n" +
		"fragmentDuration: 1s\n" +
		"encoder:\n" +
		"  bitrate: 1000000\n" +
		"  framerate: 30\n" +
		"api: yes\n"))
	require.NoError(t, err)
	defer os.Remove(tmpf)

	conf, confPath, err := Load(tmpf, nil)
	require.NoError(t, err)
	require.Equal(t, tmpf, confPath)

	require.Equal(t, LogLevel(logger.Debug), conf.LogLevel)
	require.Equal(t, StringSize(64*1024), conf.ReadBufferSize)
	require.Equal(t, Duration(5*time.Millisecond), conf.TimeSlice)
	require.Equal(t, Duration(time.Second), conf.FragmentDuration)
	require.Equal(t, 1000000, conf.Encoder.Bitrate)
	require.Equal(t, 30, conf.Encoder.Framerate)
	require.Equal(t, 1920, conf.Encoder.Width)
	require.Equal(t, true, conf.API)
}

func TestConfDefaultPaths(t *testing.T) {
	tmpf, err := test.CreateTempFile([]byte("playbackFPS: 30\n"))
	require.NoError(t, err)
	defer os.Remove(tmpf)

	conf, confPath, err := Load("", []string{"/nonexistent/mp4pipe.yml", tmpf})
	require.NoError(t, err)
	require.Equal(t, tmpf, confPath)
	require.Equal(t, 30, conf.PlaybackFPS)
}

func TestConfFromEnvironment(t *testing.T) {
	t.Setenv("MP4P_LOGLEVEL", "warn")
	t.Setenv("MP4P_TIMESLICE", "10ms")
	t.Setenv("MP4P_ENCODER_FRAMERATE", "60")
	t.Setenv("MP4P_PPROF", "yes")

	tmpf, err := test.CreateTempFile([]byte("logLevel: debug\n"))
	require.NoError(t, err)
	defer os.Remove(tmpf)

	conf, _, err := Load(tmpf, nil)
	require.NoError(t, err)

	require.Equal(t, LogLevel(logger.Warn), conf.LogLevel)
	require.Equal(t, Duration(10*time.Millisecond), conf.TimeSlice)
	require.Equal(t, 60, conf.Encoder.Framerate)
	require.Equal(t, true, conf.PPROF)
}

func TestConfErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		conf string
		err  string
	}{
		{
			"unknown field",
			"unknownField: yes\n",
			"json: unknown field \"unknownField\"",
		},
		{
			"invalid time slice",
			"timeSlice: 0s\n",
			"'timeSlice' must be greater than zero",
		},
		{
			"invalid decode queue size",
			"decodeQueueSize: 100\n",
			"'decodeQueueSize' must be a power of two",
		},
		{
			"invalid framerate",
			"encoder:\n  framerate: 0\n",
			"'encoder.framerate' must be greater than zero",
		},
		{
			"invalid export name",
			"exportName: ../video.mp4\n",
			"'exportName' is not a valid file name",
		},
		{
			"invalid log level",
			"logLevel: verbose\n",
			"invalid log level: 'verbose'",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			tmpf, err := test.CreateTempFile([]byte(ca.conf))
			require.NoError(t, err)
			defer os.Remove(tmpf)

			_, _, err = Load(tmpf, nil)
			require.ErrorContains(t, err, ca.err)
		})
	}
}

func TestConfClone(t *testing.T) {
	conf, _, err := Load("", nil)
	require.NoError(t, err)

	clone := conf.Clone()
	require.Equal(t, conf, clone)

	clone.Encoder.Bitrate = 1
	require.NotEqual(t, conf.Encoder.Bitrate, clone.Encoder.Bitrate)
}
