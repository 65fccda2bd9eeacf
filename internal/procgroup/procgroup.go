// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup detaches child processes from the terminal's process group.
package procgroup

import "os/exec"

// Detach makes cmd start in its own process group, so a Ctrl+C aimed at rbxjoin
// does not reach the URL opener or the client it starts. Call before cmd.Start.
func Detach(cmd *exec.Cmd) {
	detach(cmd)
}

// Detached reports whether Detach was applied to cmd on this platform.
func Detached(cmd *exec.Cmd) bool {
	return detached(cmd)
}
