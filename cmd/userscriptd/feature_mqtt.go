//go:build !no_mqtt

package main

import (
	"log/slog"

	mqttbridge "userscript-engine/internal/mqtt"

	"userscript-engine/internal/navigation"
	"userscript-engine/internal/scheduler"
)

type mqttStopper struct {
	bridge *mqttbridge.Bridge
}

func (m *mqttStopper) Stop() {
	if m.bridge != nil {
		m.bridge.Stop()
	}
}

func initMQTT(events *navigation.EventBus, engine *scheduler.Engine, cfg *Config, logger *slog.Logger) *mqttStopper {
	if !cfg.MQTT.Enabled {
		return &mqttStopper{}
	}
	bridge, err := mqttbridge.NewBridge(events, mqttbridge.Config{
		Broker:      cfg.MQTT.Broker,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}, logger)
	if err != nil {
		logger.Error("mqtt bridge", "err", err)
		return &mqttStopper{}
	}
	engine.RegisterExecutor(navigation.TransportMQTT, bridge)
	bridge.Start()
	return &mqttStopper{bridge: bridge}
}
