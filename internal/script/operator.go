//go:build !no_scripts

package script

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"netcontrol/internal/device"
	"netcontrol/internal/overlay"
)

// operator is one script's combine function exposed as an
// overlay.PortOperator. A Lua state is not goroutine safe, so calls are
// serialized.
type operator struct {
	id      string
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	state   *lua.LState
	combine *lua.LFunction
	closed  bool
}

var _ overlay.PortOperator = (*operator)(nil)

// CombinePort calls the script's combine(port). A failing script leaves
// the description unchanged.
func (o *operator) CombinePort(cp device.ConnectPoint, desc *device.PortDescription) *device.PortDescription {
	if desc == nil {
		return nil
	}
	set, err := o.call(cp, desc)
	if err != nil {
		o.logger.Warn("script combine failed, port unchanged", "port", cp.String(), "err", err)
		return desc
	}
	a, changed := overlay.Annotate(desc.Annotations, set, nil)
	if !changed {
		return desc
	}
	out := *desc
	out.Annotations = a
	return &out
}

func (o *operator) call(cp device.ConnectPoint, desc *device.PortDescription) (device.Annotations, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, fmt.Errorf("script %s closed", o.id)
	}
	L := o.state
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	L.SetContext(ctx)
	defer L.RemoveContext()

	top := L.GetTop()
	err := L.CallByParam(lua.P{Fn: o.combine, NRet: 1, Protect: true}, portTable(L, cp, desc))
	if err != nil {
		L.SetTop(top)
		return nil, luaError(err)
	}
	ret := L.Get(-1)
	L.SetTop(top)

	switch v := ret.(type) {
	case *lua.LNilType:
		return nil, nil
	case *lua.LTable:
		return tableAnnotations(v), nil
	default:
		return nil, fmt.Errorf("combine returned %s, want table or nil", ret.Type())
	}
}

func (o *operator) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.state.Close()
}

func portTable(L *lua.LState, cp device.ConnectPoint, d *device.PortDescription) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("device", lua.LString(cp.Device))
	t.RawSetString("number", lua.LNumber(d.Number))
	t.RawSetString("type", lua.LString(d.Type))
	t.RawSetString("enabled", lua.LBool(d.Enabled))
	t.RawSetString("removed", lua.LBool(d.Removed))
	t.RawSetString("speed", lua.LNumber(d.Speed))
	ann := L.NewTable()
	for k, v := range d.Annotations {
		ann.RawSetString(k, lua.LString(v))
	}
	t.RawSetString("annotations", ann)
	return t
}

// tableAnnotations converts the string-keyed entries of t. Non-string values
// are rendered with tostring semantics.
func tableAnnotations(t *lua.LTable) device.Annotations {
	out := make(device.Annotations)
	t.ForEach(func(k, v lua.LValue) {
		key, ok := k.(lua.LString)
		if !ok || v == lua.LNil {
			return
		}
		out[string(key)] = v.String()
	})
	if len(out) == 0 {
		return nil
	}
	return out
}
