//go:build no_scripts

package script

import (
	"errors"
	"log/slog"
	"time"

	"netcontrol/internal/device"
	"netcontrol/internal/overlay"
)

var errDisabled = errors.New("scripts disabled")

// ErrInvalidID is returned for script ids that are unsafe as file names.
var ErrInvalidID = errors.New("invalid script id")

// DefaultTimeout bounds one combine call.
const DefaultTimeout = 200 * time.Millisecond

// Meta holds user-editable metadata for a script.
type Meta struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Enabled     bool           `json:"enabled"`
	Kinds       []overlay.Kind `json:"kinds,omitempty"`
}

// Script is a port operator script stored on disk.
type Script struct {
	ID       string `json:"id"`
	Meta     Meta   `json:"meta"`
	LuaCode  string `json:"lua_code"`
	FilePath string `json:"-"`
}

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

// Library is a no-op stub when scripts are disabled.
type Library struct{}

// NewLibrary returns a nil library when scripts are disabled.
func NewLibrary(_ string, _ *slog.Logger) (*Library, error) { return nil, nil }

func (l *Library) List() ([]*Script, error)       { return nil, nil }
func (l *Library) Get(_ string) (*Script, error)   { return nil, errDisabled }
func (l *Library) Save(_ *Script) (*Script, error) { return nil, errDisabled }
func (l *Library) Delete(_ string) error           { return errDisabled }

// Engine is a no-op stub when scripts are disabled.
type Engine struct{}

// NewEngine returns a no-op engine when scripts are disabled.
func NewEngine(_ *Library, _ Registrar, _ time.Duration, _ *slog.Logger) *Engine {
	return &Engine{}
}

func (e *Engine) Start()                      {}
func (e *Engine) Stop()                       {}
func (e *Engine) Running() int                { return 0 }
func (e *Engine) IsRunning(_ string) bool     { return false }
func (e *Engine) ReloadScript(_ string) error { return nil }
func (e *Engine) StopScript(_ string)         {}

// RunLuaCode returns a stub result.
func (e *Engine) RunLuaCode(_ string, _ device.ConnectPoint, _ *device.PortDescription) *RunResult {
	return &RunResult{Error: errDisabled.Error()}
}
