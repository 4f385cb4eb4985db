//go:build windows

package checks

import (
	"os/exec"
	"time"
)

func configureKill(cmd *exec.Cmd) {
	cmd.WaitDelay = 500 * time.Millisecond
}
