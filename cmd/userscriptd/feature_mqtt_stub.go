//go:build no_mqtt

package main

import (
	"log/slog"

	"userscript-engine/internal/navigation"
	"userscript-engine/internal/scheduler"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *navigation.EventBus, _ *scheduler.Engine, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
