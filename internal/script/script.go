//go:build !no_scripts

package script

import "netcontrol/internal/overlay"

// Meta holds user-editable metadata for a script.
type Meta struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Enabled     bool           `json:"enabled"`
	Kinds       []overlay.Kind `json:"kinds,omitempty"` // config kinds that re-run the script
}

// Script is a port operator script stored on disk.
type Script struct {
	ID       string `json:"id"` // filename stem (no .lua)
	Meta     Meta   `json:"meta"`
	LuaCode  string `json:"lua_code"` // Lua source without the metadata line
	FilePath string `json:"-"`
}
