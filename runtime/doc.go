// Package runtime is the host-side API for running a graphics module.
//
// # Quick Start
//
//	ctx := context.Background()
//	dev := bundle.NewMemoryDevice()
//	rt, err := runtime.New(ctx, cfg, runtime.WithDevice(dev))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	inst, err := rt.Load(ctx, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// __start, then run_entry(canvas, gateway, token)
//	if err := inst.Run(ctx, "main", "wss://gw.example.com", token); err != nil {
//	    log.Fatal(err)
//	}
//
//	// replay what the module recorded
//	err = dev.Execute(pass, dev.Handles()...)
//
// # Events
//
// During run_entry (or any later call) the module registers closures with
// closure_register and attaches them to event kinds with
// event_subscribe(kind, slot):
//
//	1  resize   (width i32, height i32)
//	2  input    (code i32)
//	3  message  (payload externref)
//
// The closure's invoker shape must match the kind. The host then calls
//
//	inst.Dispatch(ctx, runtime.EventResize(1280, 720))
//	inst.Dispatch(ctx, runtime.EventInput(13))
//	inst.Deliver(ctx, payload)
//
// Subscribers run in subscription order. A closure that fails or traps does
// not stop the rest; the failures are returned joined. Destroyed closures
// are unsubscribed automatically.
//
// # Extra Host Functions
//
// Functions a particular module imports beyond the built-in surface are
// registered before Load:
//
//	rt.RegisterFunc("log", func(ctx context.Context, m api.Module, stack []uint64) {
//	    ...
//	}, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil)
//
// # Thread Safety
//
// A Runtime holds at most one live Instance. Calls into an Instance are
// serialized, so Deliver may be called from a network goroutine while the
// UI goroutine dispatches input.
package runtime
