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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	utilexec "k8s.io/utils/exec"

	"github.com/amine-kherroubi/vcl/internal/cli"
	"github.com/amine-kherroubi/vcl/internal/util/gracefulshutdown"
	"github.com/amine-kherroubi/vcl/internal/util/httputil"
	"github.com/amine-kherroubi/vcl/internal/util/logging"
	"github.com/amine-kherroubi/vcl/pkg/disk"
	"github.com/amine-kherroubi/vcl/pkg/execcontext"
	"github.com/amine-kherroubi/vcl/pkg/network"
	"github.com/amine-kherroubi/vcl/pkg/vmm"
)

const Name = "vcl"

var (
	Version        = "dev" //nolint:gochecknoglobals // set by ldflags
	CommitSHA      = "n/a" //nolint:gochecknoglobals // set by ldflags
	BuildTimestamp = "n/a" //nolint:gochecknoglobals // set by ldflags
)

// ------------------------------------------------- Main ----------------------------------------------------------- //

func main() {
	gs := gracefulshutdown.New(Name)
	ctx := gs.Context()

	a := &application{gs: gs}
	err := cli.Execute(ctx, os.Args[1:], a.deps, cli.BuildInfo{
		Version:        Version,
		CommitSHA:      CommitSHA,
		BuildTimestamp: BuildTimestamp,
	}, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.ErrorContext(ctx, "command failed", "error", err.Error())
	}

	a.closeLog()
	gs.Shutdown(gs.ExitCode(err))
}

// application owns the process-wide resources opened for a command.
type application struct {
	gs      *gracefulshutdown.GracefulShutdown
	logFile io.Closer
}

// deps is the cli.Factory of the binary: it loads the configuration, sets
// up logging and connects to the hypervisor.
func (a *application) deps(ctx context.Context, configPath string) (*cli.Deps, error) {
	// --------------------------------------------- Config --------------------------------------------------------- //

	config, err := loadConfig(configPath, os.Getenv)
	if err != nil {
		return nil, err
	}

	// --------------------------------------------- Logging -------------------------------------------------------- //

	logger, err := a.setupLogging(config.Log)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "starting", "name", Name, "version", Version, "commit", CommitSHA, "uri", config.URI)

	// --------------------------------------------- Hypervisor ----------------------------------------------------- //

	conn := vmm.NewLibvirtConnection(config.URI)
	if err := conn.Connect(); err != nil {
		return nil, err
	}

	// --------------------------------------------- Disk & Metrics ------------------------------------------------- //

	opts := []vmm.VMMOption{
		vmm.WithLogger(logger.WithName("vmm")),
		vmm.WithEmulator(config.Emulator),
		vmm.WithDiskManager(disk.NewManager(
			disk.WithTool(config.Disk.Tool),
			disk.WithExecContext(execcontext.New(nil, config.Disk.PrependCmd)),
		)),
	}

	if config.MetricsServer.Enabled {
		reg := prometheus.NewRegistry()
		opts = append(opts, vmm.WithMetrics(reg))

		srv := setupMetricsServer(config, reg)
		a.gs.Go(func(ctx context.Context) {
			if err := httputil.Serve(ctx, "metrics", srv); err != nil {
				slog.ErrorContext(ctx, "metrics server stopped", "error", err.Error())
			}
		})
	}

	// --------------------------------------------- Coordinator ---------------------------------------------------- //

	v, err := vmm.NewVMM(conn, opts...)
	if err != nil {
		return nil, errors.Join(err, conn.Close())
	}

	return &cli.Deps{
		VMM:      v,
		Networks: network.NewLibvirtNetworkManager(conn.Raw()),
		Defaults: cli.Defaults{
			ImageDir:   config.ImageDir,
			Network:    config.networkAttachment(),
			MemoryMB:   config.VM.MemoryMB,
			VCPUs:      config.VM.VCPUs,
			DiskSizeGB: config.VM.DiskSizeGB,
		},
		URI:   config.URI,
		Exec:  utilexec.New(),
		Close: v.Close,
	}, nil
}

func (a *application) setupLogging(config LogConfig) (logr.Logger, error) {
	level, err := logging.ParseLevel(config.Level)
	if err != nil {
		return logr.Discard(), err
	}

	var out io.Writer = os.Stderr
	if config.File != "" {
		f, err := logging.OpenFile(config.File)
		if err != nil {
			return logr.Discard(), err
		}
		a.logFile = f
		out = f
	}

	return logging.Setup(logging.Options{
		Development: config.Development,
		Level:       level,
		Output:      out,
	}), nil
}

func (a *application) closeLog() {
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
