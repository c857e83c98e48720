package bundle

import (
	"github.com/gogpu/gputypes"
)

// CommandType identifies a recorded render command.
type CommandType uint8

const (
	// State commands
	CmdSetPipeline     CommandType = iota // Bind a render pipeline
	CmdSetBindGroup                       // Bind a bind group with dynamic offsets
	CmdSetVertexBuffer                    // Bind a vertex buffer slot
	CmdSetIndexBuffer                     // Bind the index buffer
	CmdSetPushConstants                   // Upload push constant bytes

	// Draw commands
	CmdDraw                // Non-indexed draw
	CmdDrawIndexed         // Indexed draw
	CmdDrawIndirect        // Non-indexed draw with GPU-side arguments
	CmdDrawIndexedIndirect // Indexed draw with GPU-side arguments

	// Debug commands
	CmdPushDebugGroup    // Open a labelled group
	CmdPopDebugGroup     // Close the innermost group
	CmdInsertDebugMarker // Single labelled marker
)

var commandTypeNames = [...]string{
	CmdSetPipeline:         "SetPipeline",
	CmdSetBindGroup:        "SetBindGroup",
	CmdSetVertexBuffer:     "SetVertexBuffer",
	CmdSetIndexBuffer:      "SetIndexBuffer",
	CmdSetPushConstants:    "SetPushConstants",
	CmdDraw:                "Draw",
	CmdDrawIndexed:         "DrawIndexed",
	CmdDrawIndirect:        "DrawIndirect",
	CmdDrawIndexedIndirect: "DrawIndexedIndirect",
	CmdPushDebugGroup:      "PushDebugGroup",
	CmdPopDebugGroup:       "PopDebugGroup",
	CmdInsertDebugMarker:   "InsertDebugMarker",
}

// String returns the string representation of a CommandType.
func (c CommandType) String() string {
	if int(c) < len(commandTypeNames) {
		return commandTypeNames[c]
	}
	return "Unknown"
}

// Command is implemented by every recorded command.
// Commands own their data; nothing in a command refers back to module memory.
type Command interface {
	Type() CommandType
}

// ResourceID names a device object (pipeline, buffer, bind group) owned by
// the device collaborator.
type ResourceID uint64

type SetPipelineCommand struct {
	Pipeline ResourceID
}

type SetBindGroupCommand struct {
	Offsets []uint32
	Group   ResourceID
	Index   uint32
}

// SetVertexBufferCommand binds Buffer to Slot. A Size of 0 binds the rest of
// the buffer from Offset.
type SetVertexBufferCommand struct {
	Buffer ResourceID
	Offset uint64
	Size   uint64
	Slot   uint32
}

// SetIndexBufferCommand binds the index buffer. A Size of 0 binds the rest of
// the buffer from Offset.
type SetIndexBufferCommand struct {
	Buffer ResourceID
	Offset uint64
	Size   uint64
	Format gputypes.IndexFormat
}

type SetPushConstantsCommand struct {
	Data   []byte
	Stages gputypes.ShaderStages
	Offset uint32
}

type DrawCommand struct {
	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstInstance uint32
}

type DrawIndexedCommand struct {
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	BaseVertex    int32
	FirstInstance uint32
}

type DrawIndirectCommand struct {
	Buffer ResourceID
	Offset uint64
}

type DrawIndexedIndirectCommand struct {
	Buffer ResourceID
	Offset uint64
}

type PushDebugGroupCommand struct {
	Label string
}

type PopDebugGroupCommand struct{}

type InsertDebugMarkerCommand struct {
	Label string
}

func (SetPipelineCommand) Type() CommandType         { return CmdSetPipeline }
func (SetBindGroupCommand) Type() CommandType        { return CmdSetBindGroup }
func (SetVertexBufferCommand) Type() CommandType     { return CmdSetVertexBuffer }
func (SetIndexBufferCommand) Type() CommandType      { return CmdSetIndexBuffer }
func (SetPushConstantsCommand) Type() CommandType    { return CmdSetPushConstants }
func (DrawCommand) Type() CommandType                { return CmdDraw }
func (DrawIndexedCommand) Type() CommandType         { return CmdDrawIndexed }
func (DrawIndirectCommand) Type() CommandType        { return CmdDrawIndirect }
func (DrawIndexedIndirectCommand) Type() CommandType { return CmdDrawIndexedIndirect }
func (PushDebugGroupCommand) Type() CommandType      { return CmdPushDebugGroup }
func (PopDebugGroupCommand) Type() CommandType       { return CmdPopDebugGroup }
func (InsertDebugMarkerCommand) Type() CommandType   { return CmdInsertDebugMarker }
