// Package rules implements the optional command rule hook (§4.12): a Lua
// script consulted on every inbound CMD before it reaches the application's
// on_command callback. A script error or a missing hook function is never
// fatal — the command passes through unmodified, matching the
// callback-panic-must-not-break-the-core policy of §7.
package rules

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/telepose/posehost/pkg/codec"
)

// Engine evaluates inbound commands against a rule script.
type Engine interface {
	// Execute runs the hook against cmd. keep=false means the command
	// must be dropped silently (not delivered to on_command). A non-nil
	// error is logged by the caller and never treated as fatal; when
	// err != nil the returned cmd/keep are always (cmd, true) so the
	// caller can choose to pass the original through.
	Execute(cmd codec.Cmd) (out codec.Cmd, keep bool, err error)
	Close() error
}

// LuaEngine is a gopher-lua Engine. The script may define a global
// on_command(cmd_type, value) function returning either nil (drop), or
// two numbers new_cmd_type, new_value (rewrite); any other return, or no
// function at all, passes the command through unmodified.
type LuaEngine struct {
	mu sync.Mutex
	L  *lua.LState
}

// NewLuaEngine loads scriptPath and returns a ready Engine.
func NewLuaEngine(scriptPath string) (*LuaEngine, error) {
	L := lua.NewState()
	L.OpenLibs()

	if err := L.DoFile(scriptPath); err != nil {
		L.Close()
		return nil, err
	}

	return &LuaEngine{L: L}, nil
}

// Execute runs the 'on_command' global, if defined.
func (e *LuaEngine) Execute(cmd codec.Cmd) (codec.Cmd, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn := e.L.GetGlobal("on_command")
	if fn.Type() != lua.LTFunction {
		return cmd, true, nil
	}

	e.L.Push(fn)
	e.L.Push(lua.LNumber(cmd.CmdType))
	e.L.Push(lua.LNumber(cmd.Value))

	if err := e.L.PCall(2, 2, nil); err != nil {
		return cmd, true, fmt.Errorf("rules: on_command: %w", err)
	}

	value := e.L.Get(-1)
	cmdType := e.L.Get(-2)
	e.L.Pop(2)

	if cmdType.Type() == lua.LTNil {
		return cmd, false, nil
	}
	ct, ok1 := cmdType.(lua.LNumber)
	v, ok2 := value.(lua.LNumber)
	if !ok1 || !ok2 {
		return cmd, true, nil
	}

	return codec.Cmd{CmdType: uint8(ct), Value: uint8(v)}, true, nil
}

// Close releases the Lua state.
func (e *LuaEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.L.Close()
	return nil
}
