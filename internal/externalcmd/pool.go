package externalcmd

import (
	"os"
	"sync"
)

// Pool is a pool of external commands.
type Pool struct {
	// environment inherited by commands. When nil, the environment of the process is used.
	Env []string

	wg sync.WaitGroup
}

func (p *Pool) environ() []string {
	if p.Env != nil {
		return p.Env
	}
	return os.Environ()
}

// Close waits for all external commands to exit.
func (p *Pool) Close() {
	p.wg.Wait()
}
