//go:build !unix

package process

import (
	"errors"
	"os/exec"
	"syscall"
)

func setProcessGroup(*exec.Cmd) {}

func signalGroup(int, syscall.Signal) error {
	return errors.New("process groups are not supported on this platform")
}
