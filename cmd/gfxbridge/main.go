// Command gfxbridge loads a graphics module, runs its entry point and
// replays what it recorded.
//
//	gfxbridge run app.wasm --canvas main --gateway wss://gw.example.com --token t
//	gfxbridge run app.wasm -i
//	gfxbridge inspect app.wasm
//	gfxbridge demo
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
