//go:build no_mqtt

package main

import (
	"log/slog"

	"netcontrol/internal/event"
	"netcontrol/internal/manager"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *manager.Manager, _ *event.Fanout, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
