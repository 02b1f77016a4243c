//go:build !windows

package externalcmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/kballard/go-shellquote"
	"golang.org/x/sys/unix"
)

func (e *Cmd) runOSSpecific(env []string) error {
	cmdParts, err := shellquote.Split(e.cmdstr)
	if err != nil {
		return err
	}
	if len(cmdParts) == 0 {
		return fmt.Errorf("empty command")
	}

	cmd := exec.Command(cmdParts[0], cmdParts[1:]...)
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err = cmd.Start()
	if err != nil {
		return err
	}

	cmdDone := make(chan error)
	go func() {
		cmdDone <- cmd.Wait()
	}()

	select {
	case <-e.terminate:
		unix.Kill(cmd.Process.Pid, unix.SIGINT) //nolint:errcheck
		<-cmdDone
		return errTerminated

	case err = <-cmdDone:
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return fmt.Errorf("command exited with code %d", ee.ExitCode())
		}
		return err
	}
}
