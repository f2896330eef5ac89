//go:build windows

package session

import (
	"os"
	"os/exec"

	"github.com/UserExistsError/conpty"
)

// windowsPTY adapts UserExistsError/conpty's *ConPty to the ptyHandle
// interface, mirroring the unix backend in local_unix.go so the
// manager's reader/writer loops stay platform-agnostic.
type windowsPTY struct {
	cpty *conpty.ConPty
}

func (w *windowsPTY) Read(p []byte) (int, error)  { return w.cpty.Read(p) }
func (w *windowsPTY) Write(p []byte) (int, error) { return w.cpty.Write(p) }
func (w *windowsPTY) Close() error                { return w.cpty.Close() }

func (w *windowsPTY) Resize(cols, rows uint16) error {
	return w.cpty.Resize(int(cols), int(rows))
}

// spawnLocal starts the configured shell under a Windows pseudoconsole.
func spawnLocal(cfg *LocalConfig) (ptyHandle, *exec.Cmd, error) {
	shell := cfg.Shell
	if shell == "" {
		shell = os.Getenv("COMSPEC")
	}
	if shell == "" {
		shell = "cmd.exe"
	}

	commandLine := shell
	cpty, err := conpty.Start(
		commandLine,
		conpty.ConPtyDimensions(80, 24),
		conpty.ConPtyWorkDir(cfg.Cwd),
		conpty.ConPtyEnv(envSlice(cfg.Env)),
	)
	if err != nil {
		return nil, nil, &SpawnError{Shell: shell, Err: err}
	}
	return &windowsPTY{cpty: cpty}, nil, nil
}

func envSlice(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

func buildEnv(extra map[string]string) []string {
	return envSlice(extra)
}
