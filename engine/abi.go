package engine

import (
	"github.com/tetratelabs/wazero/api"
)

// DefaultNamespace is the import module name of the host surface.
const DefaultNamespace = "gfx"

// Exports the host looks for on a module.
const (
	MemoryExport  = "memory"
	StartExport   = "__start"
	EntryExport   = "run_entry"
	invokePrefix  = "closure_invoke_"
	destroyPrefix = "closure_destroy_"
)

// Arena imports.
const (
	ImportArenaAlloc   = "arena_alloc"
	ImportArenaRealloc = "arena_realloc"
	ImportArenaFree    = "arena_free"
)

// Handle table imports.
const (
	ImportHandleAlloc = "handle_alloc"
	ImportHandleFree  = "handle_free"
	ImportHandleClone = "handle_clone"
	ImportExternDrop  = "extern_drop"
	ImportExternLen   = "extern_len"
	ImportExternCopy  = "extern_copy"
)

// Render bundle imports.
const (
	ImportBundleCreate              = "render_bundle_create"
	ImportBundleSetPipeline         = "render_bundle_set_pipeline"
	ImportBundleSetBindGroup        = "render_bundle_set_bind_group"
	ImportBundleSetVertexBuffer     = "render_bundle_set_vertex_buffer"
	ImportBundleSetIndexBuffer      = "render_bundle_set_index_buffer"
	ImportBundleSetPushConstants    = "render_bundle_set_push_constants"
	ImportBundleDraw                = "render_bundle_draw"
	ImportBundleDrawIndexed         = "render_bundle_draw_indexed"
	ImportBundleDrawIndirect        = "render_bundle_draw_indirect"
	ImportBundleDrawIndexedIndirect = "render_bundle_draw_indexed_indirect"
	ImportBundlePushDebugGroup      = "render_bundle_push_debug_group"
	ImportBundlePopDebugGroup       = "render_bundle_pop_debug_group"
	ImportBundleInsertDebugMarker   = "render_bundle_insert_debug_marker"
	ImportBundleFinish              = "render_bundle_finish"
	ImportBundleRelease             = "render_bundle_release"
)

// Callback imports.
const (
	ImportClosureRegister = "closure_register"
	ImportClosureDrop     = "closure_drop"
	ImportEventSubscribe  = "event_subscribe"
)

// RequiredImports must be present in every import table passed to
// Instantiate, whether or not the module uses them.
var RequiredImports = []string{
	ImportArenaAlloc,
	ImportArenaRealloc,
	ImportArenaFree,
	ImportHandleAlloc,
	ImportHandleFree,
}

const (
	i32       = api.ValueTypeI32
	i64       = api.ValueTypeI64
	f32       = api.ValueTypeF32
	f64       = api.ValueTypeF64
	externref = api.ValueTypeExternref
)

func types(t ...api.ValueType) []api.ValueType { return t }

func formatTypes(t []api.ValueType) string {
	s := "("
	for i, v := range t {
		if i > 0 {
			s += ", "
		}
		s += api.ValueTypeName(v)
	}
	return s + ")"
}
