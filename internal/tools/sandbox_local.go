package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

const maxCommandOutput = 64 * 1024

// ErrPathEscapes is reported when a path resolves outside the workspace.
var ErrPathEscapes = errors.New("path escapes the workspace")

// LocalSandbox confines file and shell side effects to one directory on the
// local host.
type LocalSandbox struct {
	root  string
	shell string
	log   *logger.Logger
}

// NewLocalSandbox creates the workspace directory if needed.
func NewLocalSandbox(root string, log *logger.Logger) (*LocalSandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &LocalSandbox{root: abs, shell: "/bin/sh", log: log}, nil
}

// Root returns the absolute workspace directory.
func (s *LocalSandbox) Root() string {
	return s.root
}

// Resolve maps a workspace-relative path onto the host filesystem.
func (s *LocalSandbox) Resolve(path string) (string, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, clean), nil
}

// CleanPath normalizes a workspace path. Leading slashes and a "/workspace"
// prefix are accepted; ".." escapes are not.
func CleanPath(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "/workspace" || strings.HasPrefix(p, "/workspace/") {
		p = strings.TrimPrefix(p, "/workspace")
	}
	p = strings.TrimLeft(p, "/")
	if p == "" {
		p = "."
	}

	clean := filepath.Clean(filepath.FromSlash(p))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, path)
	}
	return clean, nil
}

func (s *LocalSandbox) rel(abs string) string {
	r, err := filepath.Rel(s.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(r)
}

// ExecuteCommand runs command through the shell in workDir.
func (s *LocalSandbox) ExecuteCommand(ctx context.Context, workDir, command string, timeout time.Duration) CommandResult {
	dir, err := s.Resolve(workDir)
	if err != nil {
		return CommandResult{ExitCode: -1, Error: err.Error()}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return CommandResult{ExitCode: -1, Error: fmt.Sprintf("failed to prepare working directory: %v", err)}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.shell, "-c", command)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), "HOME="+s.root)

	start := time.Now()
	runErr := cmd.Run()
	res := CommandResult{
		Stdout:   truncate(stdout.String(), maxCommandOutput),
		Stderr:   truncate(stderr.String(), maxCommandOutput),
		ExitCode: 0,
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		res.Success = true
	case ctx.Err() == context.DeadlineExceeded:
		res.ExitCode = -1
		res.Error = fmt.Sprintf("command timed out after %s", timeout)
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		res.Error = fmt.Sprintf("command exited with code %d", res.ExitCode)
	default:
		res.ExitCode = -1
		res.Error = runErr.Error()
	}

	s.log.Debug("sandbox command finished",
		zap.String("dir", s.rel(dir)),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", time.Since(start)),
	)
	return res
}

// ReadFile returns the content of a workspace file.
func (s *LocalSandbox) ReadFile(_ context.Context, path string) FileResult {
	abs, err := s.Resolve(path)
	if err != nil {
		return FileResult{Path: path, Error: err.Error()}
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileResult{Path: s.rel(abs), Error: "file not found"}
		}
		return FileResult{Path: s.rel(abs), Error: err.Error()}
	}
	return FileResult{Success: true, Path: s.rel(abs), Content: string(data), Size: int64(len(data))}
}

// WriteFile creates or replaces a workspace file, creating parent directories.
func (s *LocalSandbox) WriteFile(_ context.Context, path, content string) FileResult {
	abs, err := s.Resolve(path)
	if err != nil {
		return FileResult{Path: path, Error: err.Error()}
	}
	if abs == s.root {
		return FileResult{Path: path, Error: "path must name a file"}
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return FileResult{Path: s.rel(abs), Error: err.Error()}
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return FileResult{Path: s.rel(abs), Error: err.Error()}
	}
	return FileResult{Success: true, Path: s.rel(abs), Size: int64(len(content))}
}

// ListFiles lists dir, descending into subdirectories when recursive is set.
// Names are relative to dir and sorted.
func (s *LocalSandbox) ListFiles(_ context.Context, dir string, recursive bool) ListResult {
	abs, err := s.Resolve(dir)
	if err != nil {
		return ListResult{Path: dir, Error: err.Error()}
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ListResult{Path: s.rel(abs), Error: "directory not found"}
		}
		return ListResult{Path: s.rel(abs), Error: err.Error()}
	}
	if !info.IsDir() {
		return ListResult{Path: s.rel(abs), Error: "not a directory"}
	}

	files := []FileInfo{}
	if recursive {
		err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, werr error) error {
			if werr != nil {
				return werr
			}
			if p == abs {
				return nil
			}
			files = append(files, entryInfo(abs, p, d))
			return nil
		})
	} else {
		var entries []os.DirEntry
		entries, err = os.ReadDir(abs)
		for _, e := range entries {
			files = append(files, entryInfo(abs, filepath.Join(abs, e.Name()), e))
		}
	}
	if err != nil {
		return ListResult{Path: s.rel(abs), Error: err.Error()}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return ListResult{Success: true, Path: s.rel(abs), Files: files}
}

func entryInfo(base, p string, d fs.DirEntry) FileInfo {
	name, _ := filepath.Rel(base, p)
	fi := FileInfo{Name: filepath.ToSlash(name), IsDirectory: d.IsDir()}
	if !d.IsDir() {
		if info, err := d.Info(); err == nil {
			fi.Size = info.Size()
		}
	}
	return fi
}
