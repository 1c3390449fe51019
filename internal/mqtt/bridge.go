//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"netcontrol/internal/device"
	"netcontrol/internal/event"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
	// Discovery enables Home Assistant discovery messages for ports.
	Discovery bool
}

// Inventory is the device view and port control the bridge exposes.
type Inventory interface {
	GetDevices(types ...device.Type) ([]*device.Device, error)
	GetPorts(id device.ID) ([]*device.Port, error)
	GetPortStatistics(id device.ID) ([]device.PortStatistics, error)
	GetRole(id device.ID) device.Role
	ChangePortState(ctx context.Context, id device.ID, port device.PortNumber, enable bool) error
}

// Bridge mirrors the device inventory to MQTT and accepts port commands.
type Bridge struct {
	client    pahomqtt.Client
	inv       Inventory
	events    *event.Fanout
	prefix    string
	discovery bool
	logger    *slog.Logger
	unsub     func()
	ctx       context.Context
	cancel    context.CancelFunc

	mu    sync.Mutex
	ports map[device.ID]map[device.PortNumber]bool // retained port topics per device
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(inv Inventory, events *event.Fanout, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(inv, events, cfg, logger)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "netcontrol"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(b.topic("bridge", "state"), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.onConnect()
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

func newBridge(inv Inventory, events *event.Fanout, cfg Config, logger *slog.Logger) *Bridge {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "netcontrol"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		inv:       inv,
		events:    events,
		prefix:    prefix,
		discovery: cfg.Discovery,
		logger:    logger.With("component", "mqtt"),
		ctx:       ctx,
		cancel:    cancel,
		ports:     make(map[device.ID]map[device.PortNumber]bool),
	}
}

// Start subscribes to inventory events.
func (b *Bridge) Start() {
	b.unsub = b.events.OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes the offline state, unsubscribes and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publish(b.topic("bridge", "state"), []byte("offline"), true)
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) onConnect() {
	b.publish(b.topic("bridge", "state"), []byte("online"), true)
	b.publishAll()
	b.subscribeCommands()
}

func (b *Bridge) handleEvent(ev device.Event) {
	switch ev.Type {
	case device.DeviceAdded, device.DeviceUpdated, device.DeviceAvailabilityChanged:
		if ev.Device != nil {
			b.publishDevice(ev.Device)
		}
	case device.DeviceRemoved:
		b.clearDevice(ev.Subject())
	case device.PortAdded, device.PortUpdated:
		if ev.Port != nil {
			b.publishPort(ev.Device, ev.Port)
		}
	case device.PortRemoved:
		if ev.Port != nil {
			b.clearPort(ev.Port.DeviceID, ev.Port.Number)
		}
	case device.PortStatsUpdated:
		b.publishStats(ev.Subject())
	}
}

// deviceState is the retained payload of a device topic.
type deviceState struct {
	*device.Device
	Role device.Role `json:"role"`
}

func (b *Bridge) publishDevice(dev *device.Device) {
	payload := mustJSON(deviceState{Device: dev, Role: b.inv.GetRole(dev.ID)})
	b.publish(b.deviceTopic(dev.ID), payload, true)
	if b.discovery {
		b.publishDiscovery(buildDeviceDiscovery(dev, b.prefix))
	}
}

func (b *Bridge) publishPort(dev *device.Device, p *device.Port) {
	b.mu.Lock()
	seen := b.ports[p.DeviceID]
	if seen == nil {
		seen = make(map[device.PortNumber]bool)
		b.ports[p.DeviceID] = seen
	}
	seen[p.Number] = true
	b.mu.Unlock()

	b.publish(b.portTopic(p.DeviceID, p.Number), mustJSON(p), true)
	if b.discovery && dev != nil {
		b.publishDiscovery([]discoveryMsg{buildPortDiscovery(dev, p, b.prefix)})
	}
}

func (b *Bridge) publishStats(id device.ID) {
	stats, err := b.inv.GetPortStatistics(id)
	if err != nil {
		b.logger.Debug("read port statistics", "device", id, "err", err)
		return
	}
	b.publish(b.deviceTopic(id)+"/stats", mustJSON(stats), false)
}

// clearDevice removes the retained messages of a removed device.
func (b *Bridge) clearDevice(id device.ID) {
	if id == "" {
		return
	}
	b.mu.Lock()
	ports := b.ports[id]
	delete(b.ports, id)
	b.mu.Unlock()

	for n := range ports {
		b.publish(b.portTopic(id, n), nil, true)
		if b.discovery {
			b.publishDiscovery([]discoveryMsg{removePortDiscovery(id, n)})
		}
	}
	b.publish(b.deviceTopic(id), nil, true)
	if b.discovery {
		b.publishDiscovery(removeDeviceDiscovery(id))
	}
}

func (b *Bridge) clearPort(id device.ID, n device.PortNumber) {
	b.mu.Lock()
	if seen := b.ports[id]; seen != nil {
		delete(seen, n)
	}
	b.mu.Unlock()
	b.publish(b.portTopic(id, n), nil, true)
	if b.discovery {
		b.publishDiscovery([]discoveryMsg{removePortDiscovery(id, n)})
	}
}

func (b *Bridge) publishAll() {
	devices, err := b.inv.GetDevices()
	if err != nil {
		b.logger.Error("list devices for publish", "err", err)
		return
	}
	for _, dev := range devices {
		b.publishDevice(dev)
		ports, err := b.inv.GetPorts(dev.ID)
		if err != nil {
			b.logger.Error("list ports for publish", "device", dev.ID, "err", err)
			continue
		}
		for _, p := range ports {
			if !p.Removed {
				b.publishPort(dev, p)
			}
		}
	}
}

func (b *Bridge) publishDiscovery(msgs []discoveryMsg) {
	for _, m := range msgs {
		b.publish(m.Topic, m.Payload, true)
	}
}

func (b *Bridge) subscribeCommands() {
	topic := b.topic("devices", "+", "ports", "+", "set")
	b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(msg.Topic(), msg.Payload())
	})
}

// handleCommand applies "<prefix>/devices/<id>/ports/<n>/set" with payload
// enable or disable.
func (b *Bridge) handleCommand(topic string, payload []byte) {
	id, port, err := b.parseCommandTopic(topic)
	if err != nil {
		b.logger.Warn("invalid command topic", "topic", topic, "err", err)
		return
	}
	var enable bool
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "enable", "on", "true":
		enable = true
	case "disable", "off", "false":
	default:
		b.logger.Warn("invalid port command", "device", id, "port", port, "payload", string(payload))
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()
	if err := b.inv.ChangePortState(ctx, id, port, enable); err != nil {
		b.logger.Warn("port command failed", "device", id, "port", port, "err", err)
		return
	}
	b.logger.Info("port command applied", "device", id, "port", port, "enable", enable)
}

func (b *Bridge) parseCommandTopic(topic string) (device.ID, device.PortNumber, error) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/devices/")
	if !ok {
		return "", 0, fmt.Errorf("unexpected prefix")
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[1] != "ports" || parts[3] != "set" {
		return "", 0, fmt.Errorf("unexpected layout")
	}
	raw, err := url.PathUnescape(parts[0])
	if err != nil || raw == "" {
		return "", 0, fmt.Errorf("bad device id %q", parts[0])
	}
	n, err := device.ParsePortNumber(parts[2])
	if err != nil {
		return "", 0, fmt.Errorf("bad port %q: %w", parts[2], err)
	}
	return device.ID(raw), n, nil
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

func (b *Bridge) topic(parts ...string) string {
	return b.prefix + "/" + strings.Join(parts, "/")
}

func (b *Bridge) deviceTopic(id device.ID) string {
	return b.topic("devices", topicID(id))
}

func (b *Bridge) portTopic(id device.ID, n device.PortNumber) string {
	return b.topic("devices", topicID(id), "ports", n.String())
}

var topicEscaper = strings.NewReplacer("%", "%25", "/", "%2F", "+", "%2B", "#", "%23")

// topicID makes a device id safe as a single topic level.
func topicID(id device.ID) string {
	return topicEscaper.Replace(string(id))
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
