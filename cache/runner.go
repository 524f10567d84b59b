package cache

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/willemv/hgcache/internal/utils"
)

// Runner executes Mercurial operations. Implementations must be safe
// for concurrent use. The sync engine only depends on this interface
// so tests can substitute an implementation simulating exit codes,
// timeouts and head sets without a real hg binary.
type Runner interface {
	// Clone creates a mirror of remote at dst without a working copy
	Clone(ctx context.Context, remote, dst string) error
	// Pull fetches new changesets from the recorded remote of the
	// repository at dir
	Pull(ctx context.Context, dir string) error
	// Heads returns the topmost changeset ids of the repository at dir
	Heads(ctx context.Context, dir string) ([]string, error)
	// Bundle writes changesets of dir which are not reachable from
	// baseHeads into file (relative to dir)
	Bundle(ctx context.Context, dir, file string, baseHeads []string) error
	// BundleAll writes the entire history of dir into file
	BundleAll(ctx context.Context, dir, file string) error
	// Unbundle applies bundle file (relative to dir) into dir
	Unbundle(ctx context.Context, dir, file string) error
	// Init creates an empty repository at dir
	Init(ctx context.Context, dir string) error
}

// HgRunner runs the hg executable on the local host.
type HgRunner struct {
	exe  string
	envs []string
	log  *slog.Logger
}

// NewHgRunner returns a Runner shelling out to given hg executable.
// If hgExec is empty the executable is resolved from PATH.
func NewHgRunner(hgExec string, envs []string, log *slog.Logger) *HgRunner {
	if hgExec == "" {
		hgExec = exec.Command("hg").String()
	}
	if log == nil {
		log = slog.Default()
	}
	return &HgRunner{exe: hgExec, envs: envs, log: log}
}

func (h *HgRunner) Clone(ctx context.Context, remote, dst string) error {
	// hg clone --noupdate <remote> <dst>
	_, err := utils.RunCommand(ctx, h.log, h.envs, "", h.exe, "clone", "--noupdate", remote, dst)
	return err
}

func (h *HgRunner) Pull(ctx context.Context, dir string) error {
	// hg pull
	_, err := utils.RunCommand(ctx, h.log, h.envs, dir, h.exe, "pull")
	return err
}

func (h *HgRunner) Heads(ctx context.Context, dir string) ([]string, error) {
	// hg heads --template {node}\n
	out, err := utils.RunCommand(ctx, h.log, h.envs, dir, h.exe, "heads", "--template", "{node}\\n")
	if err != nil {
		return nil, err
	}

	var heads []string
	for line := range strings.Lines(out) {
		if line = strings.TrimSpace(line); line != "" {
			heads = append(heads, line)
		}
	}
	return heads, nil
}

func (h *HgRunner) Bundle(ctx context.Context, dir, file string, baseHeads []string) error {
	args := []string{"bundle"}
	for _, head := range baseHeads {
		args = append(args, "--base", head)
	}
	args = append(args, file)
	// hg bundle --base <head>... <file>
	_, err := utils.RunCommand(ctx, h.log, h.envs, dir, h.exe, args...)
	return err
}

func (h *HgRunner) BundleAll(ctx context.Context, dir, file string) error {
	// hg bundle --all <file>
	_, err := utils.RunCommand(ctx, h.log, h.envs, dir, h.exe, "bundle", "--all", file)
	return err
}

func (h *HgRunner) Unbundle(ctx context.Context, dir, file string) error {
	// hg unbundle <file>
	_, err := utils.RunCommand(ctx, h.log, h.envs, dir, h.exe, "unbundle", file)
	return err
}

func (h *HgRunner) Init(ctx context.Context, dir string) error {
	// hg init <dir>
	_, err := utils.RunCommand(ctx, h.log, h.envs, "", h.exe, "init", dir)
	return err
}
