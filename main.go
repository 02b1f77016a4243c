// main executable.
package main

import (
	"os"

	"github.com/bluenviron/mp4pipe/internal/core"
)

func main() {
	s, ok := core.New(os.Args[1:])
	if !ok {
		os.Exit(1)
	}
	if !s.Wait() {
		os.Exit(1)
	}
}
