//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"userscript-engine/internal/navigation"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string
}

// Bridge connects pages that talk MQTT to the navigation bus. Pages report
// navigation on their own topic and receive scripts on an execute topic.
type Bridge struct {
	client pahomqtt.Client
	bus    *navigation.EventBus
	prefix string
	logger *slog.Logger
	unsub  func()
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(bus *navigation.EventBus, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := &Bridge{
		bus:    bus,
		prefix: cfg.TopicPrefix,
		logger: logger.With("component", "mqtt"),
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "userscript-engine"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(bridgeStateTopic(cfg.TopicPrefix), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.subscribeNavigation()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	return b, nil
}

// Start begins publishing dispatch notifications.
func (b *Bridge) Start() {
	b.unsub = b.bus.On(navigation.EventScriptInjected, b.handleInjected)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

// ExecuteScript publishes source to the page's execute topic.
func (b *Bridge) ExecuteScript(page, source string) error {
	if !b.client.IsConnectionOpen() {
		return fmt.Errorf("execute on %s: mqtt not connected", page)
	}
	b.publish(executeTopic(b.prefix, page), []byte(source), false)
	return nil
}

func (b *Bridge) subscribeNavigation() {
	filter := navigationFilter(b.prefix)
	token := b.client.Subscribe(filter, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleNavigation(msg.Topic(), msg.Payload())
	})
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT subscribe timeout", "topic", filter)
		} else if err := token.Error(); err != nil {
			b.logger.Error("MQTT subscribe", "topic", filter, "err", err)
		}
	}()
}

func (b *Bridge) handleNavigation(topic string, payload []byte) {
	ev, err := parseNavigation(b.prefix, topic, payload)
	if err != nil {
		b.logger.Warn("invalid navigation message", "topic", topic, "err", err)
		return
	}
	b.logger.Debug("page navigation", "page", ev.Page, "event", ev.Type, "url", ev.URL)
	b.bus.Emit(ev)
}

func (b *Bridge) handleInjected(event navigation.Event) {
	b.publish(dispatchTopic(b.prefix), mustJSON(dispatchMessage{
		Transport: event.Transport,
		Page:      event.Page,
		URL:       event.URL,
		Script:    event.Script,
	}), false)
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(bridgeStateTopic(b.prefix), []byte(state), true)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}
