// Package wasm runs the pixel-shift transform as a WebAssembly module whose
// linear memory is imported, so the controller and the worker instantiate
// the same compiled module over one memory.
package wasm

import (
	_ "embed"
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"
)

//go:embed shift.wat
var shiftWAT string

const stepExport = "step"

// Program is the compiled transform plus the memory every instance imports.
// It is the Module carried in a wasm Handle.
type Program struct {
	store  *wasmer.Store
	module *wasmer.Module
	memory *wasmer.Memory
}

// Compile builds the transform module and a fixed-size memory of pages pages.
func Compile(pages uint32) (*Program, error) {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)

	wasmBytes, err := wasmer.Wat2Wasm(shiftWAT)
	if err != nil {
		return nil, fmt.Errorf("assemble transform: %w", err)
	}
	module, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile transform: %w", err)
	}

	limits, err := wasmer.NewLimits(pages, pages)
	if err != nil {
		return nil, err
	}
	memory := wasmer.NewMemory(store, wasmer.NewMemoryType(limits))

	return &Program{store: store, module: module, memory: memory}, nil
}

// Memory returns the shared linear memory. The slice stays valid for the
// life of the Program because the memory never grows.
func (p *Program) Memory() []byte {
	return p.memory.Data()
}

// Instantiate creates an instance importing the shared memory and returns
// its step function.
func (p *Program) Instantiate() (*wasmer.Instance, wasmer.NativeFunction, error) {
	imports := wasmer.NewImportObject()
	imports.Register("env", map[string]wasmer.IntoExtern{
		"memory": p.memory,
	})

	instance, err := wasmer.NewInstance(p.module, imports)
	if err != nil {
		return nil, nil, fmt.Errorf("instantiate transform: %w", err)
	}
	step, err := instance.Exports.GetFunction(stepExport)
	if err != nil {
		return nil, nil, err
	}
	return instance, step, nil
}
