package bindgen

import (
	internal "github.com/jerbob92/wazero-bindgen/internal"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

type Engine interface {
	internal.IEngine
	NewFunctionExporterForModule(guest wazero.CompiledModule) FunctionExporter
	// Bind routes calls to the thunks exported by mod.
	Bind(mod api.Module) error
}

// CreateEngine returns an engine for bindings. Give it a native side with
// Bind or SetNative before making calls.
func CreateEngine(config internal.IEngineConfig, bindings *Bindings) Engine {
	if config == nil {
		config = NewConfig()
	}
	return &wazeroEngine{
		config:   config,
		bindings: bindings,
		IEngine:  internal.CreateEngine(config, bindings, nil),
	}
}
