// Package resource provides the handle table shared by the host and a module.
//
// A Handle is a small non-zero integer standing for a host value the module
// cannot address directly: an external payload, a registered closure, or a
// slot the module reserved for itself. Handles are unique while live and are
// reused only after their last reference is released.
//
//	table := resource.NewTable()
//
//	h, _ := table.Insert(payload)
//	v, err := table.Get(h)
//
//	_ = table.Retain(h) // refs: 2
//	_ = table.Free(h)   // refs: 1
//	_ = table.Free(h)   // released, Dropper.Drop runs
//
//	_, err = table.Get(h) // invalid_handle
//
// # Observers
//
// Observers see slot creation, retention and release:
//
//	stop := table.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//	    log.Printf("%s handle %d", e.Type, e.Handle)
//	}))
//	defer stop()
package resource
