// Package wasmbin assembles small core wasm binaries in memory.
//
// It covers the subset of the binary format that boundary tests and the demo
// module need: function imports, one memory, functions with locals, exports
// and active data segments.
package wasmbin

import (
	"github.com/tetratelabs/wazero/api"
)

var magicVersion = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionExport   = 7
	sectionCode     = 10
	sectionData     = 11
)

const (
	externFunc   = 0x00
	externMemory = 0x02
)

// FuncType is a core function signature.
type FuncType struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// Sig is shorthand for building a FuncType.
func Sig(params []api.ValueType, results ...api.ValueType) FuncType {
	return FuncType{Params: params, Results: results}
}

// Params returns its arguments as a slice.
func Params(types ...api.ValueType) []api.ValueType { return types }

func (t FuncType) equal(o FuncType) bool {
	if len(t.Params) != len(o.Params) || len(t.Results) != len(o.Results) {
		return false
	}
	for i := range t.Params {
		if t.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range t.Results {
		if t.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

type funcImport struct {
	module  string
	name    string
	typeIdx uint32
}

type funcDef struct {
	typeIdx uint32
	locals  []api.ValueType
	body    []byte
}

type export struct {
	name  string
	kind  byte
	index uint32
}

type segment struct {
	offset int32
	data   []byte
}

// Module accumulates module contents. Function indices follow the wasm index
// space: imports first, then defined functions, so every import must be
// added before the first Func.
type Module struct {
	types     []FuncType
	imports   []funcImport
	funcs     []funcDef
	exports   []export
	data      []segment
	memMin    uint32
	memMax    uint32
	hasMemory bool
	hasMax    bool
}

// New returns an empty module.
func New() *Module {
	return &Module{}
}

func (m *Module) typeIndex(ft FuncType) uint32 {
	for i, t := range m.types {
		if t.equal(ft) {
			return uint32(i)
		}
	}
	m.types = append(m.types, ft)
	return uint32(len(m.types) - 1)
}

// ImportFunc declares a function import and returns its function index.
func (m *Module) ImportFunc(module, name string, ft FuncType) uint32 {
	if len(m.funcs) > 0 {
		panic("wasmbin: imports must precede function definitions")
	}
	m.imports = append(m.imports, funcImport{module: module, name: name, typeIdx: m.typeIndex(ft)})
	return uint32(len(m.imports) - 1)
}

// Func defines a function. Parameters occupy the first local indices,
// declared locals follow. The closing end opcode is appended.
func (m *Module) Func(ft FuncType, locals []api.ValueType, body ...[]byte) uint32 {
	var code []byte
	for _, b := range body {
		code = append(code, b...)
	}
	code = append(code, opEnd)
	m.funcs = append(m.funcs, funcDef{typeIdx: m.typeIndex(ft), locals: locals, body: code})
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// ExportFunc exports the function at index fn.
func (m *Module) ExportFunc(name string, fn uint32) *Module {
	m.exports = append(m.exports, export{name: name, kind: externFunc, index: fn})
	return m
}

// Memory declares memory 0 with minPages initial pages. A non-empty export
// name exports it.
func (m *Module) Memory(minPages uint32, exportName string) *Module {
	m.hasMemory = true
	m.memMin = minPages
	if exportName != "" {
		m.exports = append(m.exports, export{name: exportName, kind: externMemory})
	}
	return m
}

// MaxPages bounds memory 0.
func (m *Module) MaxPages(n uint32) *Module {
	m.hasMax = true
	m.memMax = n
	return m
}

// Data adds an active data segment for memory 0.
func (m *Module) Data(offset uint32, data []byte) *Module {
	m.data = append(m.data, segment{offset: int32(offset), data: append([]byte(nil), data...)})
	return m
}

// Encode serializes the module.
func (m *Module) Encode() []byte {
	out := append([]byte(nil), magicVersion...)

	if len(m.types) > 0 {
		var p []byte
		p = append(p, uleb(uint32(len(m.types)))...)
		for _, t := range m.types {
			p = append(p, 0x60)
			p = appendTypes(p, t.Params)
			p = appendTypes(p, t.Results)
		}
		out = appendSection(out, sectionType, p)
	}

	if len(m.imports) > 0 {
		var p []byte
		p = append(p, uleb(uint32(len(m.imports)))...)
		for _, imp := range m.imports {
			p = appendName(p, imp.module)
			p = appendName(p, imp.name)
			p = append(p, externFunc)
			p = append(p, uleb(imp.typeIdx)...)
		}
		out = appendSection(out, sectionImport, p)
	}

	if len(m.funcs) > 0 {
		var p []byte
		p = append(p, uleb(uint32(len(m.funcs)))...)
		for _, f := range m.funcs {
			p = append(p, uleb(f.typeIdx)...)
		}
		out = appendSection(out, sectionFunction, p)
	}

	if m.hasMemory {
		p := []byte{1}
		if m.hasMax {
			p = append(p, 0x01)
			p = append(p, uleb(m.memMin)...)
			p = append(p, uleb(m.memMax)...)
		} else {
			p = append(p, 0x00)
			p = append(p, uleb(m.memMin)...)
		}
		out = appendSection(out, sectionMemory, p)
	}

	if len(m.exports) > 0 {
		var p []byte
		p = append(p, uleb(uint32(len(m.exports)))...)
		for _, e := range m.exports {
			p = appendName(p, e.name)
			p = append(p, e.kind)
			p = append(p, uleb(e.index)...)
		}
		out = appendSection(out, sectionExport, p)
	}

	if len(m.funcs) > 0 {
		var p []byte
		p = append(p, uleb(uint32(len(m.funcs)))...)
		for _, f := range m.funcs {
			body := appendLocals(nil, f.locals)
			body = append(body, f.body...)
			p = append(p, uleb(uint32(len(body)))...)
			p = append(p, body...)
		}
		out = appendSection(out, sectionCode, p)
	}

	if len(m.data) > 0 {
		var p []byte
		p = append(p, uleb(uint32(len(m.data)))...)
		for _, d := range m.data {
			p = append(p, 0x00)
			p = append(p, I32Const(d.offset)...)
			p = append(p, opEnd)
			p = append(p, uleb(uint32(len(d.data)))...)
			p = append(p, d.data...)
		}
		out = appendSection(out, sectionData, p)
	}

	return out
}

func appendSection(out []byte, id byte, payload []byte) []byte {
	out = append(out, id)
	out = append(out, uleb(uint32(len(payload)))...)
	return append(out, payload...)
}

func appendName(out []byte, s string) []byte {
	out = append(out, uleb(uint32(len(s)))...)
	return append(out, s...)
}

func appendTypes(out []byte, types []api.ValueType) []byte {
	out = append(out, uleb(uint32(len(types)))...)
	for _, t := range types {
		out = append(out, byte(t))
	}
	return out
}

// appendLocals run-length encodes local declarations.
func appendLocals(out []byte, locals []api.ValueType) []byte {
	type run struct {
		t api.ValueType
		n uint32
	}
	var runs []run
	for _, t := range locals {
		if len(runs) > 0 && runs[len(runs)-1].t == t {
			runs[len(runs)-1].n++
			continue
		}
		runs = append(runs, run{t: t, n: 1})
	}
	out = append(out, uleb(uint32(len(runs)))...)
	for _, r := range runs {
		out = append(out, uleb(r.n)...)
		out = append(out, byte(r.t))
	}
	return out
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func sleb[T int32 | int64](v T) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
