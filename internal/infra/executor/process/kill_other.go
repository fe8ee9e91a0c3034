//go:build !unix

package process

import "os/exec"

func killGroup(cmd *exec.Cmd, before func()) {
	cmd.Cancel = func() error {
		if before != nil {
			before()
		}
		return cmd.Process.Kill()
	}
}
