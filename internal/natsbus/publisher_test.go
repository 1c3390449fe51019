package natsbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netcontrol/internal/device"
	"netcontrol/internal/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func runJetStreamServer(t *testing.T) *server.Server {
	t.Helper()
	srv, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	})
	require.NoError(t, err)
	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func newJetStream(t *testing.T) jetstream.JetStream {
	t.Helper()
	srv := runJetStreamServer(t)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	js, err := jetstream.New(nc)
	require.NoError(t, err)
	return js
}

func newPublisher(t *testing.T, js jetstream.JetStream) *Publisher {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p, err := NewPublisher(ctx, js, Config{Source: "netcontrol/node-1"}, testLogger())
	require.NoError(t, err)
	return p
}

func lastEvent(t *testing.T, js jetstream.JetStream, subject string) CloudEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := js.Stream(ctx, DefaultStream)
	require.NoError(t, err)
	msg, err := stream.GetLastMsgForSubject(ctx, subject)
	require.NoError(t, err)
	var ce CloudEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ce))
	return ce
}

func TestNewPublisherCreatesStream(t *testing.T) {
	js := newJetStream(t)
	newPublisher(t, js)

	stream, err := js.Stream(context.Background(), DefaultStream)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultSubjectPrefix + ".>"}, stream.CachedInfo().Config.Subjects)

	// Creating it again is an update, not an error.
	newPublisher(t, js)
}

func TestPublishCloudEvent(t *testing.T) {
	js := newJetStream(t)
	p := newPublisher(t, js)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := device.Event{
		Type:   device.PortUpdated,
		Device: &device.Device{ID: "of:0000000000000001", Type: device.TypeSwitch, Available: true},
		Port:   &device.Port{DeviceID: "of:0000000000000001", Number: 3, Enabled: true},
		Time:   at,
	}
	require.NoError(t, p.Publish(context.Background(), ev))

	ce := lastEvent(t, js, "netcontrol.events.port_updated")
	assert.Equal(t, "1.0", ce.SpecVersion)
	assert.Equal(t, "netcontrol.device.port_updated", ce.Type)
	assert.Equal(t, "netcontrol/node-1", ce.Source)
	assert.Equal(t, "of:0000000000000001", ce.Subject)
	assert.Equal(t, "application/json", ce.DataContentType)
	assert.True(t, at.Equal(ce.Time))
	assert.NotEmpty(t, ce.ID)
	require.NotNil(t, ce.Data.Port)
	assert.Equal(t, device.PortNumber(3), ce.Data.Port.Number)
}

func TestPublishRejectsUntypedEvent(t *testing.T) {
	js := newJetStream(t)
	p := newPublisher(t, js)
	assert.Error(t, p.Publish(context.Background(), device.Event{}))
}

func TestPublisherFollowsFanout(t *testing.T) {
	js := newJetStream(t)
	p := newPublisher(t, js)

	fan := event.NewFanout(testLogger(), 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fan.Start(ctx)
	defer fan.Stop()

	p.Start(fan)
	for _, typ := range []device.EventType{device.DeviceAdded, device.PortAdded, device.DeviceRemoved} {
		fan.Post(device.Event{Type: typ, Device: &device.Device{ID: "of:2"}, Time: time.Now()})
	}
	require.NoError(t, fan.Sync(ctx))
	p.Stop()

	stream, err := js.Stream(ctx, DefaultStream)
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.State.Msgs)

	ce := lastEvent(t, js, "netcontrol.events.device_removed")
	assert.Equal(t, "netcontrol.device.device_removed", ce.Type)

	// Stopped publishers no longer follow the fanout.
	fan.Post(device.Event{Type: device.DeviceAdded, Device: &device.Device{ID: "of:3"}})
	require.NoError(t, fan.Sync(ctx))
	info, err = stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.State.Msgs)

	// Stop is idempotent.
	p.Stop()
}

func TestEventType(t *testing.T) {
	assert.Equal(t, "netcontrol.device.device_availability_changed", EventType(device.DeviceAvailabilityChanged))
}
