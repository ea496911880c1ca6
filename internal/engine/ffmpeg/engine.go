// Package ffmpeg runs the ffmpeg CLI against a private working directory that
// acts as the engine's storage namespace.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"redubstream/internal/engine"
)

const versionTimeout = 10 * time.Second

var ErrInvalidName = errors.New("invalid working file name")

type Config struct {
	FFmpegPath string
	// WorkDir is the storage namespace. When empty a temporary directory is
	// created on Load.
	WorkDir string
	Logger  *slog.Logger
}

type Engine struct {
	binary  string
	baseDir string
	logger  *slog.Logger

	mu      sync.RWMutex
	workDir string
}

func New(cfg Config) *Engine {
	bin := strings.TrimSpace(cfg.FFmpegPath)
	if bin == "" {
		bin = "ffmpeg"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		binary:  bin,
		baseDir: strings.TrimSpace(cfg.WorkDir),
		logger:  logger,
	}
}

// Load resolves the binary, checks that it runs and prepares the working
// directory.
func (e *Engine) Load(ctx context.Context) error {
	path, err := exec.LookPath(e.binary)
	if err != nil {
		return fmt.Errorf("locate %s: %w", e.binary, err)
	}

	versionCtx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(versionCtx, path, "-hide_banner", "-version")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("%s -version: %w", path, err)
		}
		return fmt.Errorf("%s -version: %w: %s", path, err, msg)
	}

	workDir := e.baseDir
	if workDir == "" {
		workDir, err = os.MkdirTemp("", "redub-engine-*")
		if err != nil {
			return fmt.Errorf("create work dir: %w", err)
		}
	} else if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	version := firstLine(stdout.String())

	e.mu.Lock()
	e.binary = path
	e.workDir = workDir
	e.mu.Unlock()

	e.logger.Info("transcoding engine loaded",
		slog.String("binary", path),
		slog.String("version", version),
		slog.String("workDir", workDir),
	)
	return nil
}

func (e *Engine) WorkDir() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.workDir
}

func (e *Engine) WriteFile(ctx context.Context, name string, data []byte) error {
	path, err := e.resolve(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (e *Engine) ReadFile(ctx context.Context, name string) ([]byte, error) {
	path, err := e.resolve(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (e *Engine) DeleteFile(ctx context.Context, name string) error {
	path, err := e.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Exec runs ffmpeg with args inside the working directory. The returned error
// carries ffmpeg's stderr verbatim.
func (e *Engine) Exec(ctx context.Context, args []string) error {
	e.mu.RLock()
	workDir := e.workDir
	binary := e.binary
	e.mu.RUnlock()
	if workDir == "" {
		return engine.ErrNotLoaded
	}

	startedAt := time.Now()
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = workDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = nil

	err := cmd.Run()
	e.logger.Debug("ffmpeg exec",
		slog.String("args", strings.Join(args, " ")),
		slog.Duration("elapsed", time.Since(startedAt)),
		slog.Bool("ok", err == nil),
	)
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("ffmpeg failed: %w", err)
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, msg)
	}
	return nil
}

// Close removes the working directory if Load created it.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.workDir == "" || e.baseDir != "" {
		return nil
	}
	err := os.RemoveAll(e.workDir)
	e.workDir = ""
	return err
}

func (e *Engine) resolve(name string) (string, error) {
	clean := strings.TrimSpace(name)
	if clean == "" || clean != filepath.Base(clean) || clean == "." || clean == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	e.mu.RLock()
	workDir := e.workDir
	e.mu.RUnlock()
	if workDir == "" {
		return "", engine.ErrNotLoaded
	}
	return filepath.Join(workDir, clean), nil
}

func firstLine(value string) string {
	value = strings.TrimSpace(value)
	if idx := strings.IndexByte(value, '\n'); idx >= 0 {
		return strings.TrimSpace(value[:idx])
	}
	return value
}
