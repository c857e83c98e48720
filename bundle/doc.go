// Package bundle records render bundles: command sequences a module builds
// once and the host replays every frame.
//
// A bundle moves through four states:
//
//	unrecorded -> recording -> finalized -> released
//
// Recording appends commands without checking how they relate to each other.
// Arguments that point into module memory (dynamic offsets, push constant
// bytes, labels) are copied when the command is recorded, so the module may
// reuse the memory as soon as the call returns. Finalize hands the sequence
// to a Device, which validates it and returns the handle the bundle is
// replayed and released by:
//
//	rec := bundle.NewRecorder(arena, device)
//	id := rec.Create(bundle.Descriptor{Label: "scene"})
//	rec.SetPipeline(id, pipeline)
//	rec.SetVertexBuffer(id, 0, vertices, 0, 64)
//	rec.Draw(id, 3, 1, 0, 0)
//	h, err := rec.Finalize(id)
//
//	device.Execute(pass, h) // every frame
//	rec.Release(h)
package bundle
