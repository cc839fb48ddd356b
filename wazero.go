package bindgen

import (
	"fmt"
	"strings"

	internal "github.com/jerbob92/wazero-bindgen/internal"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

type wazeroEngine struct {
	internal.IEngine
	config   internal.IEngineConfig
	bindings *Bindings
}

func (we *wazeroEngine) NewFunctionExporterForModule(guest wazero.CompiledModule) FunctionExporter {
	return &functionExporter{
		bindings: we.bindings,
		guest:    guest,
	}
}

func (we *wazeroEngine) Bind(mod api.Module) error {
	if missing := internal.MissingExports(mod, we.bindings); len(missing) > 0 {
		return unexportedFunctionError{names: missing}
	}
	we.SetNative(internal.NewWasmNative(mod, we.config.Logger()))
	return nil
}

// FunctionExporter configures the functions in the "env" module used by
// the generated glue.
type FunctionExporter interface {
	// ExportFunctions builds functions to export with a wazero.HostModuleBuilder
	// named "env".
	ExportFunctions(wazero.HostModuleBuilder) error
}

type functionExporter struct {
	bindings *Bindings
	guest    wazero.CompiledModule
}

type unexportedFunctionError struct {
	names []string
}

func (e unexportedFunctionError) Error() string {
	return fmt.Sprintf("the module does not export %s, make sure gen-bindings.cpp is compiled in and that malloc and free are exported", strings.Join(e.names, ", "))
}

// ExportFunctions implements FunctionExporter.ExportFunctions
func (e functionExporter) ExportFunctions(b wazero.HostModuleBuilder) error {
	// First validate whether required functions are available.
	exportedFunctions := e.guest.ExportedFunctions()
	var missing []string
	for _, name := range internal.RequiredExports {
		if _, ok := exportedFunctions[name]; !ok {
			missing = append(missing, name)
		}
	}
	if e.bindings != nil {
		for _, name := range e.bindings.Symbols() {
			if _, ok := exportedFunctions[name]; !ok {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		return unexportedFunctionError{names: missing}
	}

	b.NewFunctionBuilder().
		WithName(internal.CallbackImport).
		WithParameterNames("id", "args", "argc", "ret").
		WithGoModuleFunction(internal.InvokeCallback, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{}).
		Export(internal.CallbackImport)

	b.NewFunctionBuilder().
		WithName(internal.ThrowImport).
		WithParameterNames("message").
		WithGoModuleFunction(internal.Throw, []api.ValueType{api.ValueTypeI32}, []api.ValueType{}).
		Export(internal.ThrowImport)

	return nil
}
