//go:build no_scripts

package main

import (
	"log/slog"

	"netcontrol/internal/manager"
	"netcontrol/internal/web"
)

type scriptStopper struct{}

func (s *scriptStopper) Stop() {}

func initScripts(_ *manager.Manager, _ *Config, _ *slog.Logger) (*scriptStopper, []web.ServerOption) {
	return &scriptStopper{}, nil
}
