//go:build !windows

package session

import (
	"os"
	"os/exec"

	"github.com/creack/pty/v2"
)

// unixPTY adapts creack/pty/v2's *os.File to the ptyHandle interface.
type unixPTY struct {
	f *os.File
}

func (u *unixPTY) Read(p []byte) (int, error)  { return u.f.Read(p) }
func (u *unixPTY) Write(p []byte) (int, error) { return u.f.Write(p) }
func (u *unixPTY) Close() error                { return u.f.Close() }

func (u *unixPTY) Resize(cols, rows uint16) error {
	return pty.Setsize(u.f, &pty.Winsize{Cols: cols, Rows: rows})
}

// spawnLocal starts the configured shell attached to a freshly allocated
// PTY, sized to the spec's sensible default (80x24; the first UI resize
// corrects it).
func spawnLocal(cfg *LocalConfig) (ptyHandle, *exec.Cmd, error) {
	shell := cfg.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.Command(shell)
	cmd.Dir = cfg.Cwd
	cmd.Env = buildEnv(cfg.Env)

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: 80, Rows: 24})
	if err != nil {
		return nil, nil, &SpawnError{Shell: shell, Err: err}
	}
	return &unixPTY{f: f}, cmd, nil
}

func buildEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
