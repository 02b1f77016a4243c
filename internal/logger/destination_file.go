package logger

import (
	"bytes"
	"os"
	"time"
)

type destinationFile struct {
	structured bool
	file       *os.File
	buf        bytes.Buffer
}

func newDestinationFile(filePath string, structured bool) (destination, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	return &destinationFile{
		structured: structured,
		file:       f,
	}, nil
}

func (d *destinationFile) log(t time.Time, level Level, format string, args ...any) {
	writeEntry(&d.buf, t, level, d.structured, false, format, args)
	d.file.Write(d.buf.Bytes()) //nolint:errcheck
}

func (d *destinationFile) close() {
	d.file.Close()
}
