//go:build windows

package sandbox

import "os/exec"

// configureProcessGroup relies on the default CommandContext kill on Windows.
func configureProcessGroup(cmd *exec.Cmd) {}
