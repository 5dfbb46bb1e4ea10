//go:build !unix

package subprocess

import "os/exec"

// killGroup keeps the exec.CommandContext default of killing the process.
func killGroup(_ *exec.Cmd) {}
