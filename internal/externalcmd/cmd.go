// Package externalcmd allows to launch external commands.
package externalcmd

import (
	"errors"
	"strings"
)

var errTerminated = errors.New("terminated")

// Environment is a Cmd environment.
type Environment map[string]string

// Cmd is an external command that runs once.
type Cmd struct {
	pool   *Pool
	cmdstr string
	env    Environment
	onExit func(error)

	// in
	terminate chan struct{}
}

// NewCmd allocates a Cmd and starts it.
// onExit is called when the command exits, unless the command has been closed.
func NewCmd(
	pool *Pool,
	cmdstr string,
	env Environment,
	onExit func(error),
) *Cmd {
	// variables are replaced here too, in order to allow using
	// the same command on every platform.
	for key, val := range env {
		cmdstr = strings.ReplaceAll(cmdstr, "$"+key, val)
	}

	e := &Cmd{
		pool:      pool,
		cmdstr:    cmdstr,
		env:       env,
		onExit:    onExit,
		terminate: make(chan struct{}),
	}

	pool.wg.Add(1)

	go e.run()

	return e
}

// Close terminates the command. It doesn't wait for the command to exit.
func (e *Cmd) Close() {
	close(e.terminate)
}

func (e *Cmd) run() {
	defer e.pool.wg.Done()

	env := append([]string(nil), e.pool.environ()...)
	for key, val := range e.env {
		env = append(env, key+"="+val)
	}

	err := e.runOSSpecific(env)
	if errors.Is(err, errTerminated) {
		return
	}

	if e.onExit != nil {
		e.onExit(err)
	}
}
