//go:build !no_scripts

package main

import (
	"log/slog"

	"netcontrol/internal/manager"
	"netcontrol/internal/script"
	"netcontrol/internal/web"
)

type scriptStopper struct {
	engine *script.Engine
}

func (s *scriptStopper) Stop() {
	if s.engine != nil {
		s.engine.Stop()
	}
}

func initScripts(mgr *manager.Manager, cfg *Config, logger *slog.Logger) (*scriptStopper, []web.ServerOption) {
	lib, err := script.NewLibrary(cfg.ScriptsDir, logger)
	if err != nil {
		logger.Error("create script library", "err", err)
		return &scriptStopper{}, nil
	}
	engine := script.NewEngine(lib, mgr, cfg.Scripts.Timeout, logger)
	engine.Start()
	return &scriptStopper{engine: engine}, []web.ServerOption{web.WithScripts(engine, lib)}
}
