package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/kardianos/service"
)

// program implements service.Interface so the registry can run under
// systemd, launchd or the Windows service manager.
type program struct {
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	svcLogger service.Logger
}

func (p *program) Start(s service.Service) error {
	p.svcLogger, _ = s.Logger(nil)
	if p.svcLogger != nil {
		p.svcLogger.Info("Cora Registry service starting")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan struct{})

	go p.run()
	return nil
}

func (p *program) run() {
	defer close(p.done)
	if err := runServer(p.ctx); err != nil && p.svcLogger != nil {
		p.svcLogger.Error(fmt.Sprintf("Cora Registry exited with error: %v", err))
	}
}

func (p *program) Stop(s service.Service) error {
	if p.svcLogger != nil {
		p.svcLogger.Info("Cora Registry service stop requested")
	}
	if p.cancel != nil {
		p.cancel()
	}

	select {
	case <-p.done:
		if p.svcLogger != nil {
			p.svcLogger.Info("Cora Registry service stopped gracefully")
		}
	case <-time.After(30 * time.Second):
		if p.svcLogger != nil {
			p.svcLogger.Warning("Cora Registry service stopped with timeout")
		}
	}
	return nil
}

// getServiceConfig returns the platform service definition.
func getServiceConfig() *service.Config {
	var workingDir string
	switch runtime.GOOS {
	case "windows":
		workingDir = filepath.Join(os.Getenv("ProgramData"), "CoraRegistry")
	case "darwin":
		workingDir = "/Library/Application Support/CoraRegistry"
	default:
		workingDir = "/var/lib/cora-registry"
	}

	return &service.Config{
		Name:             "CoraRegistry",
		DisplayName:      "Cora Module Registry",
		Description:      "Multi-tenant module configuration registry. Resolves per-module enablement, config and feature flags across system, organization and workspace tiers.",
		WorkingDirectory: workingDir,
		Arguments:        []string{"-service", "run"},
		Option: service.KeyValue{
			"StartType":              "automatic",
			"OnFailure":              "restart",
			"OnFailureDelayDuration": "5s",
			"OnFailureResetPeriod":   30,

			"Restart":           "on-failure",
			"RestartSec":        5,
			"SuccessExitStatus": "0 SIGTERM",
			"KillMode":          "mixed",
			"KillSignal":        "SIGTERM",

			"RunAtLoad": true,
			"KeepAlive": true,
		},
	}
}

// setupServiceDirectories creates the data directories and a starter config
// for service installs.
func setupServiceDirectories() error {
	var dirs []string
	var configPath string

	switch runtime.GOOS {
	case "windows":
		baseDir := filepath.Join(os.Getenv("ProgramData"), "CoraRegistry")
		dirs = []string{baseDir}
		configPath = filepath.Join(baseDir, "config.toml")
	case "darwin":
		baseDir := "/Library/Application Support/CoraRegistry"
		dirs = []string{baseDir}
		configPath = filepath.Join(baseDir, "config.toml")
	default:
		dirs = []string{"/var/lib/cora-registry", "/etc/cora-registry"}
		configPath = "/etc/cora-registry/config.toml"
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath); err != nil {
			return fmt.Errorf("write default config at %s: %w", configPath, err)
		}
		fmt.Printf("Generated default configuration at: %s\n", configPath)
	} else {
		fmt.Printf("Configuration already exists at: %s\n", configPath)
	}
	return nil
}
