// Package logger contains a logger implementation.
package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gookit/color"
)

// Logger is a log handler.
type Logger struct {
	Level        Level
	Destinations []Destination
	Structured   bool
	File         string
	SysLogPrefix string

	timeNow      func() time.Time
	stdout       io.Writer
	destinations []destination
	mutex        sync.Mutex
}

// Initialize initializes Logger.
func (lh *Logger) Initialize() error {
	if lh.Level == 0 {
		lh.Level = Info
	}
	if lh.timeNow == nil {
		lh.timeNow = time.Now
	}
	if lh.stdout == nil {
		lh.stdout = os.Stdout
	}
	if lh.SysLogPrefix == "" {
		lh.SysLogPrefix = "mp4pipe"
	}

	for _, destType := range lh.Destinations {
		switch destType {
		case DestinationStdout:
			lh.destinations = append(lh.destinations, newDestionationStdout(lh.stdout, lh.Structured))

		case DestinationFile:
			dest, err := newDestinationFile(lh.File, lh.Structured)
			if err != nil {
				lh.Close()
				return err
			}
			lh.destinations = append(lh.destinations, dest)

		case DestinationSyslog:
			dest, err := newDestinationSyslog(lh.SysLogPrefix, lh.Structured)
			if err != nil {
				lh.Close()
				return err
			}
			lh.destinations = append(lh.destinations, dest)
		}
	}

	return nil
}

// Close closes a log handler.
func (lh *Logger) Close() {
	for _, dest := range lh.destinations {
		dest.close()
	}
}

// https://golang.org/src/log/log.go#L78
func itoa(buf *bytes.Buffer, i int, wid int) {
	// Assemble decimal in reverse order.
	var b [20]byte
	bp := len(b) - 1
	for i >= 10 || wid > 1 {
		wid--
		q := i / 10
		b[bp] = byte('0' + i - q*10)
		bp--
		i = q
	}
	// i < 10
	b[bp] = byte('0' + i)
	buf.Write(b[bp:])
}

func writePlainTime(buf *bytes.Buffer, t time.Time, useColor bool) {
	var intbuf bytes.Buffer

	// date
	year, month, day := t.Date()
	itoa(&intbuf, year, 4)
	intbuf.WriteByte('/')
	itoa(&intbuf, int(month), 2)
	intbuf.WriteByte('/')
	itoa(&intbuf, day, 2)
	intbuf.WriteByte(' ')

	// time
	hour, min, sec := t.Clock()
	itoa(&intbuf, hour, 2)
	intbuf.WriteByte(':')
	itoa(&intbuf, min, 2)
	intbuf.WriteByte(':')
	itoa(&intbuf, sec, 2)
	intbuf.WriteByte(' ')

	if useColor {
		buf.WriteString(color.RenderString(color.Gray.Code(), intbuf.String()))
	} else {
		buf.WriteString(intbuf.String())
	}
}

func levelString(level Level) string {
	switch level {
	case Debug:
		return "DEB"
	case Info:
		return "INF"
	case Warn:
		return "WAR"
	}
	return "ERR"
}

func writePlainLevel(buf *bytes.Buffer, level Level, useColor bool) {
	str := levelString(level)

	if useColor {
		switch level {
		case Debug:
			str = color.RenderString(color.Debug.Code(), str)
		case Info:
			str = color.RenderString(color.Green.Code(), str)
		case Warn:
			str = color.RenderString(color.Warn.Code(), str)
		case Error:
			str = color.RenderString(color.Error.Code(), str)
		}
	}

	buf.WriteString(str)
	buf.WriteByte(' ')
}

func writeEntry(
	buf *bytes.Buffer,
	t time.Time,
	level Level,
	structured bool,
	useColor bool,
	format string,
	args []any,
) {
	buf.Reset()

	if structured {
		byts, _ := json.Marshal(struct {
			Timestamp string `json:"timestamp"`
			Level     string `json:"level"`
			Message   string `json:"message"`
		}{
			Timestamp: t.Format(time.RFC3339Nano),
			Level:     levelString(level),
			Message:   fmt.Sprintf(format, args...),
		})
		buf.Write(byts)
		buf.WriteByte('\n')
		return
	}

	writePlainTime(buf, t, useColor)
	writePlainLevel(buf, level, useColor)
	fmt.Fprintf(buf, format, args...)
	buf.WriteByte('\n')
}

// Log writes a log entry.
func (lh *Logger) Log(level Level, format string, args ...any) {
	if level < lh.Level {
		return
	}

	lh.mutex.Lock()
	defer lh.mutex.Unlock()

	t := lh.timeNow()

	for _, dest := range lh.destinations {
		dest.log(t, level, format, args...)
	}
}
