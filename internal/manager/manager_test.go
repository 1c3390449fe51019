package manager

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netcontrol/internal/device"
	"netcontrol/internal/mastership"
	"netcontrol/internal/overlay"
	"netcontrol/internal/provider"
	"netcontrol/internal/store"
)

func ptr[T any](v T) *T { return &v }

func TestDeviceConnectedStoresDeviceAndAppliesRole(t *testing.T) {
	h := newHarness(t, time.Hour)

	h.connect(t, devA, switchDesc())

	dev, err := h.m.GetDevice(devA)
	require.NoError(t, err)
	assert.True(t, dev.Available)
	assert.Equal(t, providerID, dev.ProviderID)
	assert.Equal(t, device.RoleMaster, h.m.GetRole(devA))
	assert.Equal(t, 1, h.log.count("role:"+string(devA)+":MASTER"))
	assert.Equal(t, 1, h.log.count("probe:"+string(devA)), "master on connect is probed once")
	assert.Contains(t, h.events.types(), device.DeviceAdded)
}

func TestDeviceConnectedAppliesConfig(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.cfg.SetBasic(devA, &overlay.BasicDeviceConfig{Name: "core-1", SWVersion: "9.9"})

	h.connect(t, devA, switchDesc())

	dev, err := h.m.GetDevice(devA)
	require.NoError(t, err)
	assert.Equal(t, "core-1", dev.Name())
	assert.Equal(t, "9.9", dev.SWVersion)
}

func TestDisallowedDeviceIgnored(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.cfg.SetBasic(devA, &overlay.BasicDeviceConfig{Allowed: ptr(false)})

	h.connect(t, devA, switchDesc())

	_, err := h.m.GetDevice(devA)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, h.log.count("request:"+string(devA)))
}

func TestMissingArgumentsIgnored(t *testing.T) {
	h := newHarness(t, time.Hour)

	h.svc.DeviceConnected("", switchDesc())
	h.svc.DeviceConnected(devA, nil)
	h.svc.DeviceDisconnected("")
	h.svc.UpdatePorts(devA, nil)
	h.svc.PortStatusChanged(devA, nil)
	h.svc.DeletePort("", nil)
	h.svc.UpdatePortStatistics(devA, nil)
	h.settle(t)

	assert.Empty(t, h.log.snapshot())
	assert.Equal(t, 0, h.m.GetDeviceCount())
}

// The offline mark must land while this instance still holds mastership.
func TestDisconnectMarksOfflineBeforeRelinquish(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, switchDesc())
	h.svc.UpdatePorts(devA, []*device.PortDescription{{Number: 1, Enabled: true, Type: device.PortCopper}})
	h.settle(t)
	h.log.reset()
	h.events.reset()

	h.svc.DeviceDisconnected(devA)
	h.settle(t)

	calls := h.log.matching("offline:", "relinquish:")
	assert.Equal(t, []string{"offline:" + string(devA), "relinquish:" + string(devA)}, calls)
	ev, ok := h.events.last(device.DeviceAvailabilityChanged)
	require.True(t, ok)
	assert.False(t, ev.Device.Available)

	p, err := h.m.GetPort(devA, 1)
	require.NoError(t, err)
	assert.False(t, p.Enabled, "ports are disabled on disconnect")
	assert.Equal(t, device.RoleNone, h.m.GetRole(devA))
}

func TestDisconnectRetriesOfflineMarkOnce(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, switchDesc())
	h.log.reset()
	h.denyOffline.Store(1)

	h.svc.DeviceDisconnected(devA)
	h.settle(t)

	want := []string{
		"offline:" + string(devA),
		"request:" + string(devA),
		"offline:" + string(devA),
		"relinquish:" + string(devA),
	}
	assert.Equal(t, want, h.log.matching("offline:", "request:", "relinquish:"))
	assert.False(t, h.m.IsAvailable(devA))
}

func TestDisconnectRetryGivesUpWhenNotMaster(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, switchDesc())
	h.log.reset()
	h.denyOffline.Store(1)
	h.ms.setGrant(device.RoleStandby)

	h.svc.DeviceDisconnected(devA)
	h.settle(t)

	assert.Equal(t, 1, h.log.count("offline:"+string(devA)))
	assert.Equal(t, 1, h.log.count("relinquish:"+string(devA)))
	assert.True(t, h.m.IsAvailable(devA))
}

func TestDisconnectWithoutMastershipSkipsOfflineMark(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.ms.setGrant(device.RoleStandby)
	h.connect(t, devA, switchDesc())
	h.log.reset()

	h.svc.DeviceDisconnected(devA)
	h.settle(t)

	assert.Equal(t, 0, h.log.count("offline:"+string(devA)))
	assert.Equal(t, 1, h.log.count("relinquish:"+string(devA)))
}

func TestMastershipChangeAppliesStandby(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, switchDesc())
	h.log.reset()

	h.ms.setRole(devA, device.RoleStandby, "node-b", localNode)
	h.settle(t)

	assert.Equal(t, 1, h.log.count("role:"+string(devA)+":STANDBY"))
	assert.Equal(t, 0, h.log.count("probe:"+string(devA)))
}

func TestMastershipChangeToLocalAppliesMasterAndProbes(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.ms.setGrant(device.RoleStandby)
	h.connect(t, devA, switchDesc())
	h.log.reset()

	h.ms.setRole(devA, device.RoleMaster, localNode, "node-b")
	h.settle(t)

	assert.Equal(t, []string{"role:" + string(devA) + ":MASTER", "probe:" + string(devA)},
		h.log.matching("role:", "probe:"))
}

func TestMastershipChangeForUnreachableDeviceRelinquishes(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, switchDesc())
	h.prov.setReachable(devA, false)
	h.log.reset()

	h.ms.setRole(devA, device.RoleStandby, "node-b", localNode)
	h.settle(t)

	assert.Equal(t, 1, h.log.count("relinquish:"+string(devA)))
	assert.Empty(t, h.log.matching("role:"))
}

func TestMastershipBackupsChangeIgnored(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, switchDesc())
	h.log.reset()

	h.m.handleMastershipEvent(mastership.Event{Type: mastership.BackupsChanged, Device: devA,
		Info: mastership.RoleInfo{Master: localNode, Backups: []mastership.NodeID{"node-c"}}})
	h.settle(t)

	assert.Empty(t, h.log.snapshot())
}

func TestAuditRequestsRoleForReachableDevice(t *testing.T) {
	h := newHarness(t, time.Hour)
	_, err := h.st.CreateOrUpdateDevice(providerID, devA, switchDesc())
	require.NoError(t, err)

	h.m.auditTick()
	h.settle(t)

	assert.Equal(t, []string{
		"request:" + string(devA),
		"role:" + string(devA) + ":MASTER",
		"probe:" + string(devA),
	}, h.log.snapshot())
	assert.Equal(t, device.RoleMaster, h.m.GetRole(devA))
}

func TestAuditUnreachableMasterGoesOffline(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, switchDesc())
	h.prov.setReachable(devA, false)
	h.log.reset()

	h.m.auditTick()
	h.settle(t)

	assert.Equal(t, []string{"offline:" + string(devA), "relinquish:" + string(devA)},
		h.log.matching("offline:", "relinquish:"))
	assert.False(t, h.m.IsAvailable(devA))
}

func TestAuditUnreachableStandbyRelinquishesOnly(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.ms.setGrant(device.RoleStandby)
	h.connect(t, devA, switchDesc())
	h.prov.setReachable(devA, false)
	h.log.reset()

	h.m.auditTick()
	h.settle(t)

	assert.Equal(t, []string{"relinquish:" + string(devA)}, h.log.matching("offline:", "relinquish:"))
	assert.True(t, h.m.IsAvailable(devA))
}

func TestAuditUnreachableWithoutRoleLeavesDeviceAlone(t *testing.T) {
	h := newHarness(t, time.Hour)
	_, err := h.st.CreateOrUpdateDevice(providerID, devA, switchDesc())
	require.NoError(t, err)
	h.prov.setReachable(devA, false)

	h.m.auditTick()
	h.settle(t)

	assert.Empty(t, h.log.snapshot())
}

func TestAuditUnreachableStaleTermGivesUp(t *testing.T) {
	h := newHarness(t, time.Hour)
	_, err := h.st.CreateOrUpdateDevice(providerID, devA, switchDesc())
	require.NoError(t, err)
	h.prov.setReachable(devA, false)
	// The local role already dropped to NONE but the term still names this
	// node as master.
	h.ms.mu.Lock()
	h.ms.terms[devA] = mastership.Term{Master: localNode, Number: 4}
	h.ms.mu.Unlock()

	h.m.auditTick()
	h.settle(t)

	assert.Equal(t, []string{"offline:" + string(devA), "relinquish:" + string(devA)},
		h.log.matching("offline:", "relinquish:"))
	assert.Zero(t, h.log.count("request:"+string(devA)))
}

func TestAuditContinuesPastFailingDevice(t *testing.T) {
	h := newHarness(t, time.Hour)
	for _, id := range []device.ID{devA, devB} {
		_, err := h.st.CreateOrUpdateDevice(providerID, id, switchDesc())
		require.NoError(t, err)
	}
	h.prov.breakDevice(devA)

	h.m.auditTick()
	h.settle(t)

	assert.Zero(t, h.log.count("request:"+string(devA)))
	assert.Equal(t, 1, h.log.count("request:"+string(devB)))
	assert.Equal(t, device.RoleMaster, h.m.GetRole(devB))
}

func TestSubmitAfterStopIsDropped(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.m.Stop()

	h.m.submit(func() { t.Error("task ran after stop") })

	done := make(chan struct{})
	go func() {
		h.m.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pending tasks never drained")
	}
}

func TestAuditRunsOnSchedule(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	_, err := h.st.CreateOrUpdateDevice(providerID, devA, switchDesc())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.m.GetRole(devA) == device.RoleMaster && h.log.count("probe:"+string(devA)) >= 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestReassertMasterRevivesOfflineDevice(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, switchDesc())
	_, err := h.st.MarkOffline(devA)
	require.NoError(t, err)
	h.m.rt.clearApplied(devA)

	h.m.reassertRole(devA, device.RoleMaster)
	h.settle(t)

	assert.True(t, h.m.IsAvailable(devA))
}

func TestApplyRoleIsIdempotent(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, switchDesc())
	h.log.reset()

	h.m.reassertRole(devA, device.RoleMaster)
	h.m.reassertRole(devA, device.RoleMaster)
	h.settle(t)

	assert.Empty(t, h.log.matching("role:", "probe:"))
}

func TestApplyRoleFailureRelinquishes(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.prov.roleErr = errors.New("channel closed")

	h.connect(t, devA, switchDesc())

	assert.NotZero(t, h.log.count("relinquish:"+string(devA)))
	assert.Zero(t, h.log.count("probe:"+string(devA)))
	assert.Equal(t, device.RoleNone, h.m.GetRole(devA))
}

func TestRoleReplyTable(t *testing.T) {
	tests := []struct {
		name           string
		local          device.Role
		requested      device.Role
		response       device.Role
		wantRelinquish int
		wantRoleCalls  []string
	}{
		{"channel failure", device.RoleMaster, device.RoleUnknown, device.RoleUnknown, 1, nil},
		{"refused master", device.RoleStandby, device.RoleStandby, device.RoleMaster, 1, nil},
		{"refused standby", device.RoleMaster, device.RoleMaster, device.RoleStandby, 1, nil},
		{"accepted and matches local", device.RoleMaster, device.RoleMaster, device.RoleMaster, 0, nil},
		{"accepted stale standby", device.RoleMaster, device.RoleStandby, device.RoleStandby, 0,
			[]string{"role:" + string(devA) + ":MASTER", "probe:" + string(devA)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, time.Hour)
			if tt.local == device.RoleStandby {
				h.ms.setGrant(device.RoleStandby)
			}
			h.connect(t, devA, switchDesc())
			h.log.reset()

			h.svc.ReceivedRoleReply(devA, tt.requested, tt.response)
			h.settle(t)

			assert.Equal(t, tt.wantRelinquish, h.log.count("relinquish:"+string(devA)))
			assert.Equal(t, tt.wantRoleCalls, h.log.matching("role:", "probe:"))
		})
	}
}

func TestPortUpdatesIgnoredWhenNotMaster(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.ms.setGrant(device.RoleStandby)
	h.connect(t, devA, switchDesc())

	h.svc.UpdatePorts(devA, []*device.PortDescription{{Number: 1, Type: device.PortCopper}})
	h.svc.PortStatusChanged(devA, &device.PortDescription{Number: 2, Type: device.PortCopper})
	h.settle(t)

	ports, err := h.m.GetPorts(devA)
	require.NoError(t, err)
	assert.Empty(t, ports)
}

func TestUpdatePortsAppliesOverlaysAndPrunes(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, switchDesc())
	h.cfg.SetPortAnnotations(device.ConnectPoint{Device: devA, Port: 1},
		&overlay.PortAnnotationConfig{Annotations: device.Annotations{"circuit": "c-1"}})
	h.settle(t)

	h.svc.UpdatePorts(devA, []*device.PortDescription{
		{Number: 1, Enabled: true, Type: device.PortCopper},
		{Number: 2, Enabled: true, Type: device.PortCopper},
	})
	h.svc.UpdatePorts(devA, []*device.PortDescription{{Number: 1, Enabled: true, Type: device.PortCopper}})
	h.settle(t)

	ports, err := h.m.GetPorts(devA)
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.Equal(t, "c-1", ports[0].Annotations["circuit"])
	assert.Contains(t, h.events.types(), device.PortRemoved)
}

func TestOpticalConfigTypeConflict(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, roadmDesc())
	cp := device.ConnectPoint{Device: devA, Port: 3}
	h.cfg.SetOptical(cp, &overlay.OpticalPortConfig{Type: device.PortOCH, Name: "och-3"})
	h.settle(t)

	h.svc.UpdatePorts(devA, []*device.PortDescription{{Number: 3, Enabled: true, Type: device.PortOMS}})
	h.settle(t)

	p, err := h.m.GetPort(devA, 3)
	require.NoError(t, err)
	assert.Equal(t, device.PortOMS, p.Type)
	assert.NotContains(t, p.Annotations, device.AnnotationPortName)
}

func TestOpticalConfigReplacementDropsKeys(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, roadmDesc())
	cp := device.ConnectPoint{Device: devA, Port: 3}
	h.svc.UpdatePorts(devA, []*device.PortDescription{{Number: 3, Enabled: true, Type: device.PortOCH}})
	h.settle(t)

	h.cfg.SetOptical(cp, &overlay.OpticalPortConfig{Type: device.PortOCH, Name: "och-3", StaticPort: "sp"})
	h.settle(t)
	p, err := h.m.GetPort(devA, 3)
	require.NoError(t, err)
	assert.Equal(t, "och-3", p.Annotations[device.AnnotationPortName])
	assert.Equal(t, "sp", p.Annotations[device.AnnotationStaticPort])

	h.cfg.SetOptical(cp, &overlay.OpticalPortConfig{Type: device.PortOCH, Name: "och-3"})
	h.settle(t)
	p, err = h.m.GetPort(devA, 3)
	require.NoError(t, err)
	assert.Equal(t, "och-3", p.Annotations[device.AnnotationPortName])
	assert.NotContains(t, p.Annotations, device.AnnotationStaticPort)

	h.cfg.SetOptical(cp, nil)
	h.settle(t)
	p, err = h.m.GetPort(devA, 3)
	require.NoError(t, err)
	assert.NotContains(t, p.Annotations, device.AnnotationPortName)
	assert.NotContains(t, p.Annotations, device.AnnotationStaticPort)
}

func TestOpticalConfigKeepsKeysSetByAnnotationConfig(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, roadmDesc())
	cp := device.ConnectPoint{Device: devA, Port: 3}
	h.cfg.SetPortAnnotations(cp, &overlay.PortAnnotationConfig{
		Annotations: device.Annotations{device.AnnotationPortName: "west"},
	})
	h.cfg.SetOptical(cp, &overlay.OpticalPortConfig{Type: device.PortOCH, Name: "och-3"})
	h.svc.UpdatePorts(devA, []*device.PortDescription{{Number: 3, Enabled: true, Type: device.PortOCH}})
	h.settle(t)

	h.cfg.SetOptical(cp, nil)
	h.settle(t)

	p, err := h.m.GetPort(devA, 3)
	require.NoError(t, err)
	assert.Equal(t, "west", p.Annotations[device.AnnotationPortName])
}

func TestRenumberedPortFollowsConfigChanges(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, roadmDesc())
	cp := device.ConnectPoint{Device: devA, Port: 3}
	h.cfg.SetOptical(cp, &overlay.OpticalPortConfig{Type: device.PortOCH, Number: ptr(device.PortNumber(30)), Name: "och-3"})
	h.svc.UpdatePorts(devA, []*device.PortDescription{{Number: 3, Enabled: true, Type: device.PortOCH}})
	h.settle(t)
	_, err := h.m.GetPort(devA, 3)
	require.ErrorIs(t, err, store.ErrNotFound)

	h.cfg.SetPortAnnotations(cp, &overlay.PortAnnotationConfig{Annotations: device.Annotations{"circuit": "c-9"}})
	h.settle(t)
	p, err := h.m.GetPort(devA, 30)
	require.NoError(t, err)
	assert.Equal(t, "c-9", p.Annotations["circuit"])
	assert.Equal(t, "och-3", p.Annotations[device.AnnotationPortName])

	h.cfg.SetOptical(cp, &overlay.OpticalPortConfig{Type: device.PortOCH, Number: ptr(device.PortNumber(30))})
	h.settle(t)
	p, err = h.m.GetPort(devA, 30)
	require.NoError(t, err)
	assert.NotContains(t, p.Annotations, device.AnnotationPortName)
	assert.Equal(t, "c-9", p.Annotations["circuit"])
}

func TestOpticalPortStatusTrustsEnabledBitOnly(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, roadmDesc())
	h.svc.UpdatePorts(devA, []*device.PortDescription{{
		Number: 3, Enabled: true, Type: device.PortOCH, Speed: 100000,
		Annotations: device.Annotations{"lambda": "193.1"},
	}})
	h.settle(t)

	h.svc.PortStatusChanged(devA, &device.PortDescription{Number: 3, Enabled: false, Type: device.PortCopper})
	h.settle(t)

	p, err := h.m.GetPort(devA, 3)
	require.NoError(t, err)
	assert.False(t, p.Enabled)
	assert.Equal(t, device.PortOCH, p.Type)
	assert.Equal(t, uint64(100000), p.Speed)
	assert.Equal(t, "193.1", p.Annotations["lambda"])
}

func TestPacketPortStatusTakesReportedDescription(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, switchDesc())
	h.svc.UpdatePorts(devA, []*device.PortDescription{{Number: 1, Enabled: true, Type: device.PortCopper, Speed: 1000}})
	h.settle(t)

	h.svc.PortStatusChanged(devA, &device.PortDescription{Number: 1, Enabled: false, Type: device.PortCopper})
	h.settle(t)

	p, err := h.m.GetPort(devA, 1)
	require.NoError(t, err)
	assert.False(t, p.Enabled)
	assert.Zero(t, p.Speed)
}

func TestPortStatusForUnknownDevice(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.ms.setRole(devA, device.RoleMaster, localNode)
	h.svc.PortStatusChanged(devA, &device.PortDescription{Number: 1})
	h.settle(t)

	_, err := h.m.GetPort(devA, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeletePortWritesTombstone(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, switchDesc())
	desc := &device.PortDescription{Number: 5, Enabled: true, Type: device.PortCopper}
	h.svc.UpdatePorts(devA, []*device.PortDescription{desc})
	h.settle(t)

	h.svc.DeletePort(devA, desc)
	h.settle(t)

	p, err := h.m.GetPort(devA, 5)
	require.NoError(t, err)
	assert.True(t, p.Removed)
	assert.False(t, desc.Removed, "caller's description must not be modified")
	ev, ok := h.events.last(device.PortRemoved)
	require.True(t, ok)
	assert.Equal(t, device.PortNumber(5), ev.Port.Number)
}

func TestPortStatisticsNotGated(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.ms.setGrant(device.RoleStandby)
	h.connect(t, devA, switchDesc())

	h.svc.UpdatePortStatistics(devA, []device.PortStatistics{{Port: 1, PacketsReceived: 42}})
	h.settle(t)

	stats, err := h.m.GetPortStatistics(devA)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, uint64(42), stats[0].PacketsReceived)
	assert.Contains(t, h.events.types(), device.PortStatsUpdated)
}

type tagOperator struct{ key, val string }

func (o *tagOperator) CombinePort(_ device.ConnectPoint, d *device.PortDescription) *device.PortDescription {
	if d.Annotations[o.key] == o.val {
		return d
	}
	out := *d
	out.Annotations = device.Union(d.Annotations, device.Annotations{o.key: o.val})
	return &out
}

func TestRegisterOperatorReappliesToMasteredPorts(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, switchDesc())
	h.ms.setGrant(device.RoleStandby)
	h.connect(t, devB, switchDesc())
	h.svc.UpdatePorts(devA, []*device.PortDescription{{Number: 1, Type: device.PortCopper}})
	_, err := h.st.UpdatePorts(providerID, devB, []*device.PortDescription{{Number: 1, Type: device.PortCopper}})
	require.NoError(t, err)
	h.settle(t)
	h.events.reset()

	op := &tagOperator{"tier", "gold"}
	h.m.RegisterPortConfigOperator(op)
	h.settle(t)

	pa, err := h.m.GetPort(devA, 1)
	require.NoError(t, err)
	assert.Equal(t, "gold", pa.Annotations["tier"])
	pb, err := h.m.GetPort(devB, 1)
	require.NoError(t, err)
	assert.NotContains(t, pb.Annotations, "tier", "standby device must not be rewritten")
	assert.Equal(t, []device.EventType{device.PortUpdated}, h.events.types())

	h.m.RegisterPortConfigOperator(op)
	h.m.UnregisterPortConfigOperator(op)
	h.m.UnregisterPortConfigOperator(op)
}

func TestPortAnnotationConfigReplacement(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, switchDesc())
	h.svc.UpdatePorts(devA, []*device.PortDescription{{Number: 1, Type: device.PortCopper}})
	h.settle(t)
	cp := device.ConnectPoint{Device: devA, Port: 1}

	h.cfg.SetPortAnnotations(cp, &overlay.PortAnnotationConfig{Annotations: device.Annotations{"a": "1", "b": "2"}})
	h.settle(t)
	p, err := h.m.GetPort(devA, 1)
	require.NoError(t, err)
	assert.Equal(t, device.Annotations{"a": "1", "b": "2"}, p.Annotations)

	h.cfg.SetPortAnnotations(cp, &overlay.PortAnnotationConfig{Annotations: device.Annotations{"a": "1"}})
	h.settle(t)
	p, err = h.m.GetPort(devA, 1)
	require.NoError(t, err)
	assert.Equal(t, device.Annotations{"a": "1"}, p.Annotations)
}

func TestDeviceConfigReplacement(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.cfg.SetBasic(devA, &overlay.BasicDeviceConfig{Name: "edge", Owner: "alice"})
	h.connect(t, devA, switchDesc())

	h.cfg.SetBasic(devA, &overlay.BasicDeviceConfig{Name: "edge", RackAddress: "r7"})
	h.settle(t)

	dev, err := h.m.GetDevice(devA)
	require.NoError(t, err)
	assert.NotContains(t, dev.Annotations, device.AnnotationOwner)
	assert.Equal(t, "r7", dev.Annotations[device.AnnotationRackAddress])
	assert.Equal(t, "edge", dev.Name())
}

func TestConfigDisallowKicksDevice(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, switchDesc())
	h.log.reset()

	h.cfg.SetBasic(devA, &overlay.BasicDeviceConfig{Allowed: ptr(false)})
	h.settle(t)

	_, err := h.m.GetDevice(devA)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Contains(t, h.events.types(), device.DeviceRemoved)
	assert.Equal(t, 1, h.log.count("relinquish:"+string(devA)))
}

func TestLocalStatus(t *testing.T) {
	h := newHarness(t, time.Hour)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h.m.now = func() time.Time { return base }

	assert.Equal(t, "No Record", h.m.LocalStatus(devA))

	h.connect(t, devA, switchDesc())
	h.m.now = func() time.Time { return base.Add(12 * time.Second) }
	assert.Equal(t, "connected 12s ago", h.m.LocalStatus(devA))

	h.svc.DeviceDisconnected(devA)
	h.settle(t)
	h.m.now = func() time.Time { return base.Add(15 * time.Second) }
	assert.Equal(t, "disconnected 3s ago", h.m.LocalStatus(devA))
}

func TestNorthboundQueries(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, switchDesc())
	h.connect(t, devB, roadmDesc())
	h.svc.DeviceDisconnected(devB)
	h.settle(t)

	all, err := h.m.GetDevices()
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 2, h.m.GetDeviceCount())

	roadms, err := h.m.GetDevices(device.TypeROADM)
	require.NoError(t, err)
	require.Len(t, roadms, 1)
	assert.Equal(t, devB, roadms[0].ID)

	avail, err := h.m.GetAvailableDevices()
	require.NoError(t, err)
	require.Len(t, avail, 1)
	assert.Equal(t, devA, avail[0].ID)
}

func TestRemoveDevice(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, switchDesc())

	require.NoError(t, h.m.RemoveDevice(devA))
	h.settle(t)
	assert.Contains(t, h.events.types(), device.DeviceRemoved)
	assert.Equal(t, "No Record", h.m.LocalStatus(devA))

	assert.ErrorIs(t, h.m.RemoveDevice(devA), store.ErrNotFound)
}

func TestChangePortState(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, switchDesc())

	require.NoError(t, h.m.ChangePortState(context.Background(), devA, 4, false))
	assert.Equal(t, 1, h.log.count("port:"+string(devA)+":4:false"))

	err := h.m.ChangePortState(context.Background(), "netconf:10.0.0.1", 1, true)
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	h := newHarness(t, time.Hour)

	_, err := h.m.Register(newFakeProvider("other", "of", h.log))
	assert.ErrorIs(t, err, provider.ErrDuplicateProvider)
	_, err = h.m.Register(newFakeProvider(providerID, "netconf", h.log))
	assert.ErrorIs(t, err, provider.ErrDuplicateProvider)
	_, err = h.m.Register(newFakeProvider("x", "", h.log))
	assert.Error(t, err)
}

func TestUnregisteredProviderIgnored(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.connect(t, devA, switchDesc())
	h.m.Unregister(h.prov)
	h.log.reset()

	h.svc.UpdatePorts(devA, []*device.PortDescription{{Number: 1}})
	h.svc.DeviceConnected(devB, switchDesc())
	h.settle(t)

	ports, err := h.m.GetPorts(devA)
	require.NoError(t, err)
	assert.Empty(t, ports)
	_, err = h.m.GetDevice(devB)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, []string{"relinquish:" + string(devB)}, h.log.snapshot())

	// With no provider the audit gives up the role of the known device.
	h.log.reset()
	h.m.auditTick()
	h.settle(t)
	assert.True(t, slices.Contains(h.log.snapshot(), "relinquish:"+string(devA)))
}
