// SPDX-License-Identifier: MIT

package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/rbxjoin/internal/log"
	"github.com/ManuGH/rbxjoin/internal/procgroup"
)

// CommandStarter starts a process without waiting for it.
type CommandStarter interface {
	Start(name string, args ...string) error
}

// RealStarter starts commands with os/exec in their own process group and reaps
// them in the background.
type RealStarter struct{}

func (RealStarter) Start(name string, args ...string) error {
	cmd := exec.Command(name, args...) // #nosec G204 -- opener binary is fixed, the link is an argument
	procgroup.Detach(cmd)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// ExecLauncher opens the deep link with the operating system's URL handler, which
// hands it to the registered desktop client.
type ExecLauncher struct {
	GOOS    string
	Starter CommandStarter
}

// NewExecLauncher returns a launcher for the current platform.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{GOOS: runtime.GOOS, Starter: RealStarter{}}
}

// Opener returns the command line that opens uri on goos.
func Opener(goos, uri string) (string, []string) {
	switch goos {
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", uri}
	case "darwin":
		return "open", []string{uri}
	default:
		return "xdg-open", []string{uri}
	}
}

func (l *ExecLauncher) Launch(_ context.Context, uri string) error {
	name, args := Opener(l.GOOS, uri)
	if err := l.Starter.Start(name, args...); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	return nil
}

// LogLauncher prints the link for a human to open.
type LogLauncher struct {
	Out    io.Writer
	logger zerolog.Logger
}

// NewLogLauncher prints to out, or stdout when out is nil.
func NewLogLauncher(out io.Writer) *LogLauncher {
	if out == nil {
		out = os.Stdout
	}
	return &LogLauncher{Out: out, logger: xglog.WithComponent("dispatch")}
}

func (l *LogLauncher) Launch(_ context.Context, uri string) error {
	l.logger.Info().Msg("join link ready, paste it in a browser to join")
	_, err := fmt.Fprintf(l.Out, "\nPaste this in browser to join:\n%s\n\n", uri)
	return err
}

// LinkFileLauncher keeps the latest link in a file, replaced atomically so readers
// never see a partial link.
type LinkFileLauncher struct {
	Path string
}

func (l *LinkFileLauncher) Launch(_ context.Context, uri string) error {
	pending, err := renameio.NewPendingFile(l.Path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending link file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := io.WriteString(pending, uri+"\n"); err != nil {
		return fmt.Errorf("write link file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace link file: %w", err)
	}
	return nil
}
