//go:build !no_scripts

package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"netcontrol/internal/device"
	"netcontrol/internal/overlay"
)

// DefaultTimeout bounds one combine call.
const DefaultTimeout = 200 * time.Millisecond

// Registrar is the port overlay chain scripts are registered into.
type Registrar interface {
	RegisterPortConfigOperator(op overlay.PortOperator, kinds ...overlay.Kind)
	UnregisterPortConfigOperator(op overlay.PortOperator)
}

// RunResult is the result of a one-shot script evaluation.
type RunResult struct {
	OK          bool               `json:"ok"`
	Error       string             `json:"error,omitempty"`
	Annotations device.Annotations `json:"annotations,omitempty"`
	Logs        []string           `json:"logs"`
	Duration    string             `json:"duration"`
}

// Engine runs enabled scripts as port config operators.
type Engine struct {
	lib     *Library
	reg     Registrar
	timeout time.Duration
	logger  *slog.Logger

	mu  sync.Mutex
	ops map[string]*operator // script ID -> registered operator
}

// NewEngine creates an engine. A non-positive timeout selects DefaultTimeout.
func NewEngine(lib *Library, reg Registrar, timeout time.Duration, logger *slog.Logger) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{
		lib:     lib,
		reg:     reg,
		timeout: timeout,
		logger:  logger.With("component", "scripts"),
		ops:     make(map[string]*operator),
	}
}

// Start registers every enabled script, in id order.
func (e *Engine) Start() {
	scripts, err := e.lib.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}
	e.logger.Info("script engine started", "scripts", e.Running())
}

// Stop unregisters and closes every script.
func (e *Engine) Stop() {
	e.mu.Lock()
	ops := e.ops
	e.ops = make(map[string]*operator)
	e.mu.Unlock()
	for _, op := range ops {
		e.reg.UnregisterPortConfigOperator(op)
		op.close()
	}
	e.logger.Info("script engine stopped")
}

// Running returns the number of registered scripts.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ops)
}

// IsRunning reports whether the script is registered.
func (e *Engine) IsRunning(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.ops[id]
	return ok
}

// ReloadScript replaces the script's operator with one built from its
// current file. A disabled script is only stopped.
func (e *Engine) ReloadScript(id string) error {
	e.StopScript(id)
	s, err := e.lib.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript unregisters a running script.
func (e *Engine) StopScript(id string) {
	e.mu.Lock()
	op, ok := e.ops[id]
	delete(e.ops, id)
	e.mu.Unlock()
	if !ok {
		return
	}
	e.reg.UnregisterPortConfigOperator(op)
	op.close()
	e.logger.Info("script stopped", "id", id)
}

func (e *Engine) startScript(s *Script) error {
	op, err := e.compile(s.ID, s.LuaCode, nil)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if _, dup := e.ops[s.ID]; dup {
		e.mu.Unlock()
		op.close()
		return fmt.Errorf("script %s already running", s.ID)
	}
	e.ops[s.ID] = op
	e.mu.Unlock()

	e.reg.RegisterPortConfigOperator(op, s.Meta.Kinds...)
	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name, "kinds", s.Meta.Kinds)
	return nil
}

// RunLuaCode evaluates code against one sample port in a throwaway VM.
func (e *Engine) RunLuaCode(code string, cp device.ConnectPoint, desc *device.PortDescription) *RunResult {
	start := time.Now()
	if desc == nil {
		desc = &device.PortDescription{Number: cp.Port}
	}
	var logs []string
	op, err := e.compile("run", code, func(msg string) { logs = append(logs, msg) })
	if err != nil {
		return &RunResult{Error: err.Error(), Logs: logs, Duration: time.Since(start).String()}
	}
	defer op.close()

	set, err := op.call(cp, desc)
	if err != nil {
		return &RunResult{Error: err.Error(), Logs: logs, Duration: time.Since(start).String()}
	}
	return &RunResult{OK: true, Annotations: set, Logs: logs, Duration: time.Since(start).String()}
}

func (e *Engine) compile(id, code string, capture func(string)) (*operator, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "loadstring", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	op := &operator{
		id:      id,
		state:   L,
		timeout: e.timeout,
		logger:  e.logger.With("script", id),
	}
	registerModule(L, op.logger, capture)

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	L.SetContext(ctx)
	err := L.DoString(code)
	L.RemoveContext()
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("execute script %s: %w", id, luaError(err))
	}
	fn, ok := L.GetGlobal("combine").(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("script %s: no combine function", id)
	}
	op.combine = fn
	return op, nil
}

// registerModule installs the `netcontrol` global table.
func registerModule(L *lua.LState, logger *slog.Logger, capture func(string)) {
	mod := L.NewTable()
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		level := L.CheckString(1)
		msg := L.CheckString(2)
		if capture != nil {
			capture("[" + level + "] " + msg)
		}
		switch level {
		case "debug":
			logger.Debug("script log", "msg", msg)
		case "warn":
			logger.Warn("script log", "msg", msg)
		case "error":
			logger.Error("script log", "msg", msg)
		default:
			logger.Info("script log", "msg", msg)
		}
		return 0
	}))
	L.SetGlobal("netcontrol", mod)
}

func luaError(err error) error {
	if strings.Contains(err.Error(), context.DeadlineExceeded.Error()) {
		return errTimeout
	}
	return err
}

var errTimeout = errors.New("script timed out")
