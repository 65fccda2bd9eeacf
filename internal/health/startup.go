// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ManuGH/rbxjoin/internal/config"
	"github.com/ManuGH/rbxjoin/internal/dispatch"
	"github.com/ManuGH/rbxjoin/internal/log"
)

// PerformStartupChecks validates the host environment before the session starts.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkOpsAddr(logger, cfg.OpsAddr); err != nil {
		return fmt.Errorf("ops address check failed: %w", err)
	}
	if err := checkLinkFileDir(logger, cfg.LinkFile); err != nil {
		return fmt.Errorf("link file check failed: %w", err)
	}
	if cfg.LaunchMode == config.LaunchExec {
		checkOpener(logger, runtime.GOOS)
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkOpsAddr(logger zerolog.Logger, addr string) error {
	if addr == "" {
		return nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid listen port %q in %q", port, addr)
	}
	logger.Debug().Str("addr", addr).Msg("ops listen address is valid")
	return nil
}

func checkLinkFileDir(logger zerolog.Logger, path string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", dir)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", dir)
	}

	probe, err := os.CreateTemp(dir, ".rbxjoin-write-test-*")
	if err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", dir, err)
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())

	logger.Debug().Str("path", dir).Msg("link file directory is writable")
	return nil
}

// checkOpener only warns: the opener may appear later, and the link is still logged.
func checkOpener(logger zerolog.Logger, goos string) {
	name, _ := dispatch.Opener(goos, "")
	if _, err := exec.LookPath(name); err != nil {
		logger.Warn().Str("opener", name).Msg("deep link opener not found in PATH, launches will fail")
	}
}
