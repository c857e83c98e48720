package wasmbin

const (
	opUnreachable = 0x00
	opEnd         = 0x0b
	opCall        = 0x10
	opDrop        = 0x1a
	opLocalGet    = 0x20
	opLocalSet    = 0x21
	opI32Load     = 0x28
	opI64Load     = 0x29
	opI32Store    = 0x36
	opI64Store    = 0x37
	opF32Store    = 0x38
	opF64Store    = 0x39
	opI32Const    = 0x41
	opI64Const    = 0x42
	opI32Add      = 0x6a
)

func Unreachable() []byte       { return []byte{opUnreachable} }
func Drop() []byte              { return []byte{opDrop} }
func I32Add() []byte            { return []byte{opI32Add} }
func LocalGet(i uint32) []byte  { return append([]byte{opLocalGet}, uleb(i)...) }
func LocalSet(i uint32) []byte  { return append([]byte{opLocalSet}, uleb(i)...) }
func Call(fn uint32) []byte     { return append([]byte{opCall}, uleb(fn)...) }
func I32Const(v int32) []byte   { return append([]byte{opI32Const}, sleb(v)...) }
func I64Const(v int64) []byte   { return append([]byte{opI64Const}, sleb(v)...) }
func I32Load(off uint32) []byte { return memarg(opI32Load, 2, off) }
func I64Load(off uint32) []byte { return memarg(opI64Load, 3, off) }

// I32Store pops a value and an address.
func I32Store(off uint32) []byte { return memarg(opI32Store, 2, off) }
func I64Store(off uint32) []byte { return memarg(opI64Store, 3, off) }
func F32Store(off uint32) []byte { return memarg(opF32Store, 2, off) }
func F64Store(off uint32) []byte { return memarg(opF64Store, 3, off) }

// Seq concatenates instruction sequences.
func Seq(instrs ...[]byte) []byte {
	var out []byte
	for _, in := range instrs {
		out = append(out, in...)
	}
	return out
}

func memarg(op byte, align, off uint32) []byte {
	out := []byte{op}
	out = append(out, uleb(align)...)
	return append(out, uleb(off)...)
}
