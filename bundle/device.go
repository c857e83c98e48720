package bundle

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/wippyai/wasm-gfx-bridge/errors"
)

// Bundle is a finalized, immutable command sequence.
type Bundle struct {
	label    string
	commands []Command
}

// NewBundle builds a bundle from commands. The slice is copied.
func NewBundle(label string, commands []Command) *Bundle {
	return &Bundle{label: label, commands: append([]Command(nil), commands...)}
}

func (b *Bundle) Label() string { return b.label }
func (b *Bundle) Len() int      { return len(b.commands) }

// Commands returns a copy of the command sequence.
func (b *Bundle) Commands() []Command {
	return append([]Command(nil), b.commands...)
}

// Replay issues every command to pass in recorded order.
func (b *Bundle) Replay(pass Pass) error {
	for i, cmd := range b.commands {
		var err error
		switch c := cmd.(type) {
		case SetPipelineCommand:
			err = pass.SetPipeline(c.Pipeline)
		case SetBindGroupCommand:
			err = pass.SetBindGroup(c.Index, c.Group, c.Offsets)
		case SetVertexBufferCommand:
			err = pass.SetVertexBuffer(c.Slot, c.Buffer, c.Offset, c.Size)
		case SetIndexBufferCommand:
			err = pass.SetIndexBuffer(c.Buffer, c.Format, c.Offset, c.Size)
		case SetPushConstantsCommand:
			err = pass.SetPushConstants(c.Stages, c.Offset, c.Data)
		case DrawCommand:
			err = pass.Draw(c.VertexCount, c.InstanceCount, c.FirstVertex, c.FirstInstance)
		case DrawIndexedCommand:
			err = pass.DrawIndexed(c.IndexCount, c.InstanceCount, c.FirstIndex, c.BaseVertex, c.FirstInstance)
		case DrawIndirectCommand:
			err = pass.DrawIndirect(c.Buffer, c.Offset)
		case DrawIndexedIndirectCommand:
			err = pass.DrawIndexedIndirect(c.Buffer, c.Offset)
		case PushDebugGroupCommand:
			err = pass.PushDebugGroup(c.Label)
		case PopDebugGroupCommand:
			err = pass.PopDebugGroup()
		case InsertDebugMarkerCommand:
			err = pass.InsertDebugMarker(c.Label)
		default:
			err = fmt.Errorf("unsupported command %T", cmd)
		}
		if err != nil {
			return errors.New(errors.PhaseBundle, errors.KindInvalidState).
				Path(b.label, cmd.Type().String()).
				Cause(err).
				Detail("replay stopped at command %d", i).
				Build()
		}
	}
	return nil
}

// Pass receives replayed commands. A real backend implements it on top of
// its render pass encoder.
type Pass interface {
	SetPipeline(pipeline ResourceID) error
	SetBindGroup(index uint32, group ResourceID, offsets []uint32) error
	SetVertexBuffer(slot uint32, buffer ResourceID, offset, size uint64) error
	SetIndexBuffer(buffer ResourceID, format gputypes.IndexFormat, offset, size uint64) error
	SetPushConstants(stages gputypes.ShaderStages, offset uint32, data []byte) error
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) error
	DrawIndirect(buffer ResourceID, offset uint64) error
	DrawIndexedIndirect(buffer ResourceID, offset uint64) error
	PushDebugGroup(label string) error
	PopDebugGroup() error
	InsertDebugMarker(label string) error
}

// Device compiles finalized bundles and owns them until released.
type Device interface {
	CreateRenderBundle(b *Bundle) (DeviceHandle, error)
	ReleaseRenderBundle(h DeviceHandle) error
}

// MemoryDevice is an in-process Device. It validates bundles when they are
// created and replays them onto any Pass.
type MemoryDevice struct {
	bundles map[DeviceHandle]*Bundle
	next    DeviceHandle
	mu      sync.RWMutex
}

var _ Device = (*MemoryDevice)(nil)

func NewMemoryDevice() *MemoryDevice {
	return &MemoryDevice{bundles: make(map[DeviceHandle]*Bundle)}
}

func (d *MemoryDevice) CreateRenderBundle(b *Bundle) (DeviceHandle, error) {
	if err := Validate(b); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.bundles[d.next] = b
	return d.next, nil
}

func (d *MemoryDevice) ReleaseRenderBundle(h DeviceHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.bundles[h]; !ok {
		return errors.InvalidHandle(errors.PhaseBundle, "device bundle", uint64(h))
	}
	delete(d.bundles, h)
	return nil
}

// Bundle returns the bundle behind a live handle.
func (d *MemoryDevice) Bundle(h DeviceHandle) (*Bundle, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	b, ok := d.bundles[h]
	if !ok {
		return nil, errors.InvalidHandle(errors.PhaseBundle, "device bundle", uint64(h))
	}
	return b, nil
}

// Handles returns live bundle handles in creation order.
func (d *MemoryDevice) Handles() []DeviceHandle {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]DeviceHandle, 0, len(d.bundles))
	for h := DeviceHandle(1); h <= d.next; h++ {
		if _, ok := d.bundles[h]; ok {
			out = append(out, h)
		}
	}
	return out
}

// Execute replays the given bundles onto pass in order, like a render pass
// executing bundles.
func (d *MemoryDevice) Execute(pass Pass, handles ...DeviceHandle) error {
	for _, h := range handles {
		b, err := d.Bundle(h)
		if err != nil {
			return err
		}
		if err := b.Replay(pass); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks rules a device enforces on a finished bundle: debug groups
// balance, indexed draws follow an index buffer, push constant ranges are
// 4-byte aligned.
func Validate(b *Bundle) error {
	depth := 0
	indexBound := false

	for i, cmd := range b.commands {
		var problem string
		switch c := cmd.(type) {
		case PushDebugGroupCommand:
			depth++
		case PopDebugGroupCommand:
			if depth == 0 {
				problem = "pop without matching push"
			}
			depth--
		case SetIndexBufferCommand:
			if c.Format != gputypes.IndexFormatUint16 && c.Format != gputypes.IndexFormatUint32 {
				problem = "index format " + c.Format.String()
			}
			indexBound = true
		case DrawIndexedCommand, DrawIndexedIndirectCommand:
			if !indexBound {
				problem = "indexed draw without index buffer"
			}
		case SetPushConstantsCommand:
			if c.Offset%4 != 0 || len(c.Data)%4 != 0 {
				problem = "push constant range not 4-byte aligned"
			}
		}
		if problem != "" {
			return errors.New(errors.PhaseBundle, errors.KindInvalidInput).
				Path(b.label).
				Detail("command %d (%s): %s", i, cmd.Type(), problem).
				Build()
		}
	}

	if depth != 0 {
		return errors.New(errors.PhaseBundle, errors.KindInvalidInput).
			Path(b.label).
			Detail("%d debug group(s) left open", depth).
			Build()
	}
	return nil
}

// TracePass is a Pass that records what it is given.
type TracePass struct {
	commands []Command
}

var _ Pass = (*TracePass)(nil)

// Commands returns the commands received so far.
func (p *TracePass) Commands() []Command { return p.commands }

// Reset forgets received commands.
func (p *TracePass) Reset() { p.commands = p.commands[:0] }

func (p *TracePass) add(c Command) error {
	p.commands = append(p.commands, c)
	return nil
}

func (p *TracePass) SetPipeline(pipeline ResourceID) error {
	return p.add(SetPipelineCommand{Pipeline: pipeline})
}

func (p *TracePass) SetBindGroup(index uint32, group ResourceID, offsets []uint32) error {
	return p.add(SetBindGroupCommand{Index: index, Group: group, Offsets: offsets})
}

func (p *TracePass) SetVertexBuffer(slot uint32, buffer ResourceID, offset, size uint64) error {
	return p.add(SetVertexBufferCommand{Slot: slot, Buffer: buffer, Offset: offset, Size: size})
}

func (p *TracePass) SetIndexBuffer(buffer ResourceID, format gputypes.IndexFormat, offset, size uint64) error {
	return p.add(SetIndexBufferCommand{Buffer: buffer, Format: format, Offset: offset, Size: size})
}

func (p *TracePass) SetPushConstants(stages gputypes.ShaderStages, offset uint32, data []byte) error {
	return p.add(SetPushConstantsCommand{Stages: stages, Offset: offset, Data: data})
}

func (p *TracePass) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	return p.add(DrawCommand{vertexCount, instanceCount, firstVertex, firstInstance})
}

func (p *TracePass) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) error {
	return p.add(DrawIndexedCommand{indexCount, instanceCount, firstIndex, baseVertex, firstInstance})
}

func (p *TracePass) DrawIndirect(buffer ResourceID, offset uint64) error {
	return p.add(DrawIndirectCommand{Buffer: buffer, Offset: offset})
}

func (p *TracePass) DrawIndexedIndirect(buffer ResourceID, offset uint64) error {
	return p.add(DrawIndexedIndirectCommand{Buffer: buffer, Offset: offset})
}

func (p *TracePass) PushDebugGroup(label string) error {
	return p.add(PushDebugGroupCommand{Label: label})
}

func (p *TracePass) PopDebugGroup() error {
	return p.add(PopDebugGroupCommand{})
}

func (p *TracePass) InsertDebugMarker(label string) error {
	return p.add(InsertDebugMarkerCommand{Label: label})
}
