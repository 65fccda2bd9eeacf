// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !unix

package procgroup

import "os/exec"

// rundll32 returns immediately and the console signal does not reach the client.
func detach(*exec.Cmd) {}

func detached(*exec.Cmd) bool { return false }
