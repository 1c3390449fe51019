//go:build !no_mqtt

package mqtt

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"netcontrol/internal/device"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type published struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// fakeClient records publishes and subscriptions. Methods the bridge does
// not call are left to the embedded nil interface.
type fakeClient struct {
	pahomqtt.Client

	mu           sync.Mutex
	pubs         []published
	subs         map[string]pahomqtt.MessageHandler
	disconnected bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{subs: make(map[string]pahomqtt.MessageHandler)}
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, _ := payload.([]byte)
	c.pubs = append(c.pubs, published{Topic: topic, Payload: data, Retained: retained})
	return doneToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[topic] = cb
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) all() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.pubs...)
}

// last returns the most recent publish on topic.
func (c *fakeClient) last(topic string) (published, bool) {
	pubs := c.all()
	for i := len(pubs) - 1; i >= 0; i-- {
		if pubs[i].Topic == topic {
			return pubs[i], true
		}
	}
	return published{}, false
}

func (c *fakeClient) handler(topic string) pahomqtt.MessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[topic]
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type portCommand struct {
	ID     device.ID
	Port   device.PortNumber
	Enable bool
}

type fakeInventory struct {
	devices []*device.Device
	ports   map[device.ID][]*device.Port
	stats   map[device.ID][]device.PortStatistics
	roles   map[device.ID]device.Role
	cmdErr  error

	mu       sync.Mutex
	commands []portCommand
}

func (f *fakeInventory) GetDevices(_ ...device.Type) ([]*device.Device, error) {
	return f.devices, nil
}

func (f *fakeInventory) GetPorts(id device.ID) ([]*device.Port, error) {
	return f.ports[id], nil
}

func (f *fakeInventory) GetPortStatistics(id device.ID) ([]device.PortStatistics, error) {
	return f.stats[id], nil
}

func (f *fakeInventory) GetRole(id device.ID) device.Role {
	return f.roles[id]
}

func (f *fakeInventory) ChangePortState(_ context.Context, id device.ID, port device.PortNumber, enable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, portCommand{id, port, enable})
	return f.cmdErr
}

func (f *fakeInventory) received() []portCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]portCommand(nil), f.commands...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
