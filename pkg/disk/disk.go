/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package disk manages the qcow2 image files backing virtual machines.
//
// The Manager follows the same pattern as the network managers: dependencies
// are injected at construction, methods accept a context.Context, and
// expected conditions are reported through sentinel errors checked with
// errors.Is.
package disk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/amine-kherroubi/vcl/pkg/execcontext"
	gopsdisk "github.com/shirou/gopsutil/v3/disk"
	utilexec "k8s.io/utils/exec"
)

var (
	ErrPathRequired   = errors.New("disk path is required")
	ErrInvalidSize    = errors.New("disk size must be greater than zero")
	ErrCreationFailed = errors.New("failed to create disk image")
	ErrNotFound       = errors.New("disk image not found")
	ErrDeletionFailed = errors.New("failed to delete disk image")
)

const (
	defaultTool   = "qemu-img"
	defaultFormat = "qcow2"

	bytesPerGiB = 1 << 30
)

// Manager creates and deletes disk image files.
type Manager struct {
	runner  utilexec.Interface
	execCtx execcontext.Context
	tool    string
	format  string
}

// Option configures a Manager.
type Option func(*Manager)

// WithRunner sets the command runner used to invoke the image tool.
func WithRunner(runner utilexec.Interface) Option {
	return func(m *Manager) {
		m.runner = runner
	}
}

// WithExecContext sets the environment and command prefix (e.g. sudo) for
// the image tool.
func WithExecContext(execCtx execcontext.Context) Option {
	return func(m *Manager) {
		m.execCtx = execCtx
	}
}

// WithTool overrides the image tool binary (default "qemu-img").
func WithTool(tool string) Option {
	return func(m *Manager) {
		m.tool = tool
	}
}

// NewManager returns a Manager invoking qemu-img on the host.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		runner:  utilexec.New(),
		execCtx: execcontext.Empty(),
		tool:    defaultTool,
		format:  defaultFormat,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ensure makes sure a disk image exists at path. An existing file is left
// untouched and created is false. Otherwise a sparse qcow2 image of sizeGB
// GiB is created; a failing tool run returns ErrCreationFailed with the
// tool output attached.
func (m *Manager) Ensure(ctx context.Context, path string, sizeGB int) (created bool, err error) {
	if path == "" {
		return false, ErrPathRequired
	}

	if info, err := os.Stat(path); err == nil {
		if !info.Mode().IsRegular() {
			return false, fmt.Errorf("%w: path=%s: not a regular file", ErrCreationFailed, path)
		}
		slog.Debug("disk image already exists", "path", path)
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("%w: path=%s: %v", ErrCreationFailed, path, err)
	}

	if sizeGB <= 0 {
		return false, fmt.Errorf("%w: got %d", ErrInvalidSize, sizeGB)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("%w: creating directory %s: %v", ErrCreationFailed, dir, err)
	}

	m.warnOnLowSpace(dir, sizeGB)

	args := []string{m.tool, "create", "-f", m.format, path, fmt.Sprintf("%dG", sizeGB)}
	slog.Info("creating disk image", "cmd", execcontext.FormatCmd(m.execCtx, args...))

	cmd := execcontext.CommandContext(ctx, m.runner, m.execCtx, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return false, fmt.Errorf("%w: path=%s: %v: output: %s", ErrCreationFailed, path, err, output)
	}

	slog.Info("created disk image", "path", path, "sizeGB", sizeGB)
	return true, nil
}

// Delete removes the disk image at path. It returns ErrNotFound when no
// file exists there and ErrDeletionFailed when path is not a regular file
// or the removal fails. With a command prefix configured, the file is
// removed through it like the image tool is run.
func (m *Manager) Delete(ctx context.Context, path string) error {
	if path == "" {
		return ErrPathRequired
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("%w: %s: %v", ErrDeletionFailed, path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s: not a regular file", ErrDeletionFailed, path)
	}

	if err := m.remove(ctx, path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeletionFailed, path, err)
	}

	slog.Info("deleted disk image", "path", path)
	return nil
}

func (m *Manager) remove(ctx context.Context, path string) error {
	if len(m.execCtx.PrependCmd()) == 0 {
		return os.Remove(path)
	}

	args := []string{"rm", "-f", "--", path}
	slog.Debug("removing disk image", "cmd", execcontext.FormatCmd(m.execCtx, args...))

	cmd := execcontext.CommandContext(ctx, m.runner, m.execCtx, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%v: output: %s", err, output)
	}
	return nil
}

// warnOnLowSpace logs when the filesystem holding dir has less free space
// than the declared capacity. qcow2 images are sparse so this never fails
// the creation.
func (m *Manager) warnOnLowSpace(dir string, sizeGB int) {
	usage, err := gopsdisk.Usage(dir)
	if err != nil {
		slog.Debug("failed to read filesystem usage", "dir", dir, "error", err.Error())
		return
	}

	if want := uint64(sizeGB) * bytesPerGiB; usage.Free < want {
		slog.Warn(
			"free space is below the declared disk capacity",
			"dir", dir,
			"freeGiB", usage.Free/bytesPerGiB,
			"sizeGB", sizeGB,
		)
	}
}
