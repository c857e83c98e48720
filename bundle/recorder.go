package bundle

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/wippyai/wasm-gfx-bridge/errors"
)

// MaxLabelLen bounds NUL-terminated labels read from module memory.
const MaxLabelLen = 1024

const labelChunk = 64

// EncoderID identifies a bundle while it is being recorded.
type EncoderID uint32

// DeviceHandle identifies a finalized bundle owned by the device.
type DeviceHandle uint64

// State is the lifecycle position of a bundle.
type State uint8

const (
	StateUnrecorded State = iota
	StateRecording
	StateFinalized
	StateReleased
	StateFailed // finalize rejected the bundle; terminal
)

var stateNames = [...]string{
	StateUnrecorded: "unrecorded",
	StateRecording:  "recording",
	StateFinalized:  "finalized",
	StateReleased:   "released",
	StateFailed:     "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Descriptor configures a new bundle.
type Descriptor struct {
	Label string
}

// Source is the memory pointer arguments are resolved against.
type Source interface {
	Size() uint32
	Read(offset, length uint32) ([]byte, error)
}

type encoder struct {
	err      error
	commands []Command
	desc     Descriptor
	handle   DeviceHandle
	state    State
}

func (e *encoder) fail() {
	e.state = StateFailed
	e.commands = nil
}

// Recorder records render bundles on behalf of a module.
// Pointer arguments are copied out of the source at record time; a failed
// read poisons the bundle and is reported by Finalize.
type Recorder struct {
	src      Source
	device   Device
	encoders map[EncoderID]*encoder
	handles  map[DeviceHandle]EncoderID
	next     EncoderID
	mu       sync.Mutex
}

// NewRecorder creates a recorder reading pointer arguments from src and
// compiling finished bundles on device.
func NewRecorder(src Source, device Device) *Recorder {
	return &Recorder{
		src:      src,
		device:   device,
		encoders: make(map[EncoderID]*encoder),
		handles:  make(map[DeviceHandle]EncoderID),
	}
}

// Create starts a new bundle.
func (r *Recorder) Create(desc Descriptor) EncoderID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	r.encoders[r.next] = &encoder{desc: desc}
	return r.next
}

// Label reads a NUL-terminated label at ptr. Offset 0 is the empty label.
func (r *Recorder) Label(ptr uint32) (string, error) {
	if ptr == 0 {
		return "", nil
	}

	size := r.src.Size()
	if ptr >= size {
		return "", errors.OutOfBounds(errors.PhaseBundle, ptr, 1, size)
	}

	var label []byte
	for off := ptr; len(label) <= MaxLabelLen; {
		n := min(uint32(labelChunk), size-off)
		if n == 0 {
			break
		}
		chunk, err := r.src.Read(off, n)
		if err != nil {
			return "", err
		}
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			label = append(label, chunk[:i]...)
			if len(label) > MaxLabelLen {
				break
			}
			return string(label), nil
		}
		label = append(label, chunk...)
		off += n
	}

	if len(label) > MaxLabelLen {
		return "", errors.InvalidInput(errors.PhaseBundle, "label longer than 1024 bytes")
	}
	return "", errors.InvalidInput(errors.PhaseBundle, "label is not NUL-terminated")
}

// State returns the state of a bundle still known to the recorder.
func (r *Recorder) State(id EncoderID) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.encoders[id]
	if !ok {
		return StateReleased, errors.InvalidHandle(errors.PhaseBundle, "bundle", uint64(id))
	}
	return e.state, nil
}

// Commands returns a copy of the commands recorded so far.
func (r *Recorder) Commands(id EncoderID) ([]Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.encoders[id]
	if !ok {
		return nil, errors.InvalidHandle(errors.PhaseBundle, "bundle", uint64(id))
	}
	return append([]Command(nil), e.commands...), nil
}

// Len returns the number of bundles not yet released. Failed bundles are
// not counted.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.encoders {
		if e.state != StateFailed {
			n++
		}
	}
	return n
}

func (r *Recorder) SetPipeline(id EncoderID, pipeline ResourceID) error {
	return r.record(id, "set_pipeline", func() (Command, error) {
		return SetPipelineCommand{Pipeline: pipeline}, nil
	})
}

func (r *Recorder) SetBindGroup(id EncoderID, index uint32, group ResourceID, offsetsPtr, offsetsLen uint32) error {
	return r.record(id, "set_bind_group", func() (Command, error) {
		offsets, err := r.readOffsets(offsetsPtr, offsetsLen)
		if err != nil {
			return nil, err
		}
		return SetBindGroupCommand{Index: index, Group: group, Offsets: offsets}, nil
	})
}

func (r *Recorder) SetVertexBuffer(id EncoderID, slot uint32, buffer ResourceID, offset, size uint64) error {
	return r.record(id, "set_vertex_buffer", func() (Command, error) {
		return SetVertexBufferCommand{Slot: slot, Buffer: buffer, Offset: offset, Size: size}, nil
	})
}

func (r *Recorder) SetIndexBuffer(id EncoderID, buffer ResourceID, format gputypes.IndexFormat, offset, size uint64) error {
	return r.record(id, "set_index_buffer", func() (Command, error) {
		return SetIndexBufferCommand{Buffer: buffer, Format: format, Offset: offset, Size: size}, nil
	})
}

func (r *Recorder) SetPushConstants(id EncoderID, stages gputypes.ShaderStages, offset, dataPtr, dataLen uint32) error {
	return r.record(id, "set_push_constants", func() (Command, error) {
		var data []byte
		if dataLen > 0 {
			var err error
			if data, err = r.src.Read(dataPtr, dataLen); err != nil {
				return nil, err
			}
		}
		return SetPushConstantsCommand{Stages: stages, Offset: offset, Data: data}, nil
	})
}

func (r *Recorder) Draw(id EncoderID, vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	return r.record(id, "draw", func() (Command, error) {
		return DrawCommand{
			VertexCount:   vertexCount,
			InstanceCount: instanceCount,
			FirstVertex:   firstVertex,
			FirstInstance: firstInstance,
		}, nil
	})
}

func (r *Recorder) DrawIndexed(id EncoderID, indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) error {
	return r.record(id, "draw_indexed", func() (Command, error) {
		return DrawIndexedCommand{
			IndexCount:    indexCount,
			InstanceCount: instanceCount,
			FirstIndex:    firstIndex,
			BaseVertex:    baseVertex,
			FirstInstance: firstInstance,
		}, nil
	})
}

func (r *Recorder) DrawIndirect(id EncoderID, buffer ResourceID, offset uint64) error {
	return r.record(id, "draw_indirect", func() (Command, error) {
		return DrawIndirectCommand{Buffer: buffer, Offset: offset}, nil
	})
}

func (r *Recorder) DrawIndexedIndirect(id EncoderID, buffer ResourceID, offset uint64) error {
	return r.record(id, "draw_indexed_indirect", func() (Command, error) {
		return DrawIndexedIndirectCommand{Buffer: buffer, Offset: offset}, nil
	})
}

func (r *Recorder) PushDebugGroup(id EncoderID, labelPtr uint32) error {
	return r.record(id, "push_debug_group", func() (Command, error) {
		label, err := r.Label(labelPtr)
		if err != nil {
			return nil, err
		}
		return PushDebugGroupCommand{Label: label}, nil
	})
}

func (r *Recorder) PopDebugGroup(id EncoderID) error {
	return r.record(id, "pop_debug_group", func() (Command, error) {
		return PopDebugGroupCommand{}, nil
	})
}

func (r *Recorder) InsertDebugMarker(id EncoderID, labelPtr uint32) error {
	return r.record(id, "insert_debug_marker", func() (Command, error) {
		label, err := r.Label(labelPtr)
		if err != nil {
			return nil, err
		}
		return InsertDebugMarkerCommand{Label: label}, nil
	})
}

// Append records an already built command.
func (r *Recorder) Append(id EncoderID, cmd Command) error {
	return r.record(id, cmd.Type().String(), func() (Command, error) {
		return cmd, nil
	})
}

// Finalize hands the recorded commands to the device and returns the handle
// the finished bundle is known by. A bundle whose recording hit a read
// failure, or that the device rejects, moves to StateFailed and its commands
// are dropped; later calls on its id fail with invalid_state.
func (r *Recorder) Finalize(id EncoderID) (DeviceHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.writable(id, "finalize")
	if err != nil {
		return 0, err
	}
	if e.err != nil {
		e.fail()
		return 0, errors.New(errors.PhaseBundle, errors.KindInvalidInput).
			Value(id).
			Cause(e.err).
			Detail("bundle %d recorded an invalid command", id).
			Build()
	}

	h, err := r.device.CreateRenderBundle(&Bundle{label: e.desc.Label, commands: e.commands})
	if err != nil {
		e.fail()
		return 0, err
	}
	e.state = StateFinalized
	e.commands = nil
	e.handle = h
	r.handles[h] = id
	return h, nil
}

// Release frees a finalized bundle on the device.
func (r *Recorder) Release(h DeviceHandle) error {
	r.mu.Lock()
	id, ok := r.handles[h]
	if !ok {
		r.mu.Unlock()
		return errors.InvalidHandle(errors.PhaseBundle, "device bundle", uint64(h))
	}
	delete(r.handles, h)
	if e := r.encoders[id]; e != nil {
		e.state = StateReleased
	}
	delete(r.encoders, id)
	r.mu.Unlock()

	return r.device.ReleaseRenderBundle(h)
}

// Close releases every finalized bundle and forgets unfinished ones.
func (r *Recorder) Close() error {
	r.mu.Lock()
	handles := make([]DeviceHandle, 0, len(r.handles))
	for h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	var first error
	for _, h := range handles {
		if err := r.Release(h); err != nil && first == nil {
			first = err
		}
	}

	r.mu.Lock()
	clear(r.encoders)
	r.mu.Unlock()
	return first
}

func (r *Recorder) record(id EncoderID, op string, build func() (Command, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.writable(id, op)
	if err != nil {
		return err
	}
	e.state = StateRecording
	if e.err != nil {
		return nil
	}

	cmd, err := build()
	if err != nil {
		e.err = errors.New(errors.PhaseBundle, errors.KindInvalidInput).
			Path(op).
			Cause(err).
			Detail("command %d", len(e.commands)).
			Build()
		return nil
	}
	e.commands = append(e.commands, cmd)
	return nil
}

func (r *Recorder) writable(id EncoderID, op string) (*encoder, error) {
	e, ok := r.encoders[id]
	if !ok {
		return nil, errors.InvalidHandle(errors.PhaseBundle, "bundle", uint64(id))
	}
	if e.state >= StateFinalized {
		return nil, errors.InvalidState(errors.PhaseBundle, op, e.state.String())
	}
	return e, nil
}

func (r *Recorder) readOffsets(ptr, n uint32) ([]uint32, error) {
	if n == 0 {
		return nil, nil
	}
	if n > (1<<32-1)/4 {
		return nil, errors.InvalidInput(errors.PhaseBundle, "too many dynamic offsets")
	}
	raw, err := r.src.Read(ptr, n*4)
	if err != nil {
		return nil, err
	}
	offsets := make([]uint32, n)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return offsets, nil
}
