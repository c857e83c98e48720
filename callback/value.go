package callback

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-gfx-bridge/errors"
	"github.com/wippyai/wasm-gfx-bridge/resource"
)

// Kind is the type of a value crossing the closure boundary.
type Kind uint8

const (
	KindI32 Kind = iota + 1
	KindI64
	KindF32
	KindF64
	// KindExtern is an opaque host reference. It travels as a handle table
	// handle and reaches the module as an externref.
	KindExtern
)

var kindNames = map[Kind]string{
	KindI32:    "i32",
	KindI64:    "i64",
	KindF32:    "f32",
	KindF64:    "f64",
	KindExtern: "externref",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// WitType returns the WIT type used to describe and parse values of this kind.
// Extern values are addressed by their u32 handle.
func (k Kind) WitType() wit.Type {
	switch k {
	case KindI32:
		return wit.S32{}
	case KindI64:
		return wit.S64{}
	case KindF32:
		return wit.F32{}
	case KindF64:
		return wit.F64{}
	case KindExtern:
		return wit.U32{}
	}
	return nil
}

// Value is a single closure argument. Bits holds the raw 64-bit encoding:
// sign-extended integers, IEEE-754 floats, or a handle.
type Value struct {
	Bits uint64
	Kind Kind
}

func I32(v int32) Value             { return Value{Kind: KindI32, Bits: uint64(uint32(v))} }
func I64(v int64) Value             { return Value{Kind: KindI64, Bits: uint64(v)} }
func F32(v float32) Value           { return Value{Kind: KindF32, Bits: uint64(math.Float32bits(v))} }
func F64(v float64) Value           { return Value{Kind: KindF64, Bits: math.Float64bits(v)} }
func Extern(h resource.Handle) Value { return Value{Kind: KindExtern, Bits: uint64(h)} }

func (v Value) I32() int32              { return int32(uint32(v.Bits)) }
func (v Value) I64() int64              { return int64(v.Bits) }
func (v Value) F32() float32            { return math.Float32frombits(uint32(v.Bits)) }
func (v Value) F64() float64            { return math.Float64frombits(v.Bits) }
func (v Value) Handle() resource.Handle { return resource.Handle(uint32(v.Bits)) }

func (v Value) String() string {
	switch v.Kind {
	case KindI32:
		return strconv.FormatInt(int64(v.I32()), 10)
	case KindI64:
		return strconv.FormatInt(v.I64(), 10)
	case KindF32:
		return strconv.FormatFloat(float64(v.F32()), 'g', -1, 32)
	case KindF64:
		return strconv.FormatFloat(v.F64(), 'g', -1, 64)
	case KindExtern:
		return "extern#" + strconv.FormatUint(uint64(v.Handle()), 10)
	}
	return "?"
}

// Parse reads a value of kind k from its textual form.
func Parse(k Kind, s string) (Value, error) {
	s = strings.TrimSpace(s)
	var (
		v   Value
		err error
	)
	switch k.WitType().(type) {
	case wit.S32:
		var n int64
		n, err = strconv.ParseInt(s, 10, 32)
		v = I32(int32(n))
	case wit.S64:
		var n int64
		n, err = strconv.ParseInt(s, 10, 64)
		v = I64(n)
	case wit.F32:
		var f float64
		f, err = strconv.ParseFloat(s, 32)
		v = F32(float32(f))
	case wit.F64:
		var f float64
		f, err = strconv.ParseFloat(s, 64)
		v = F64(f)
	case wit.U32:
		var n uint64
		n, err = strconv.ParseUint(strings.TrimPrefix(s, "extern#"), 10, 32)
		v = Extern(resource.Handle(n))
	default:
		return Value{}, errors.InvalidInput(errors.PhaseCallback, "unknown value kind "+k.String())
	}
	if err != nil {
		return Value{}, errors.Wrap(errors.PhaseCallback, errors.KindInvalidInput, err, "parse "+k.String())
	}
	return v, nil
}

// MaxArity is the largest number of arguments a closure may take.
const MaxArity = 2

// Signature is the argument shape of a closure. Closures return nothing.
type Signature struct {
	Params [MaxArity]Kind
	Arity  uint8
}

// Sig builds a signature from up to MaxArity kinds.
func Sig(kinds ...Kind) Signature {
	if len(kinds) > MaxArity {
		panic(fmt.Sprintf("callback: arity %d exceeds %d", len(kinds), MaxArity))
	}
	var s Signature
	s.Arity = uint8(len(kinds))
	copy(s.Params[:], kinds)
	return s
}

// Kinds returns the parameter kinds in order.
func (s Signature) Kinds() []Kind {
	return append([]Kind(nil), s.Params[:s.Arity]...)
}

// Accepts reports whether args fit the signature.
func (s Signature) Accepts(args []Value) bool {
	if len(args) != int(s.Arity) {
		return false
	}
	for i, a := range args {
		if a.Kind != s.Params[i] {
			return false
		}
	}
	return true
}

func (s Signature) String() string {
	parts := make([]string, s.Arity)
	for i := range parts {
		parts[i] = s.Params[i].String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Tag identifies one entry of the invoker table a module exports.
type Tag uint32
