package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-gfx-bridge/bundle"
	"github.com/wippyai/wasm-gfx-bridge/config"
	"github.com/wippyai/wasm-gfx-bridge/errors"
	"github.com/wippyai/wasm-gfx-bridge/internal/demo"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("GFXBRIDGE_LOG_LEVEL", "error")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeDemo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "demo.wasm")
	if err := os.WriteFile(path, demo.Module(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func openDemo(t *testing.T, cfg *config.Config) *session {
	t.Helper()
	ctx := context.Background()
	s, err := openSession(ctx, cfg, zap.NewNop(), demo.Module())
	if err != nil {
		t.Fatalf("openSession: %v", err)
	}
	t.Cleanup(func() { s.close(ctx) })
	return s
}

func readU32(t *testing.T, s *session, offset uint32) uint32 {
	t.Helper()
	b, err := s.inst.Memory().Read(offset, 4)
	if err != nil {
		t.Fatalf("read %d: %v", offset, err)
	}
	return binary.LittleEndian.Uint32(b)
}

func TestDemoCommand(t *testing.T) {
	out, err := execute(t, "demo", "--canvas", "main")
	if err != nil {
		t.Fatalf("demo: %v\n%s", err, out)
	}
	for _, want := range []string{
		"module         demo",
		"subscriptions  3",
		"PushDebugGroup {Label:frame}",
		"SetPipeline {Pipeline:1}",
		"Draw {VertexCount:3 InstanceCount:1 FirstVertex:0 FirstInstance:0}",
		"PopDebugGroup {}",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunCommand(t *testing.T) {
	path := writeDemo(t)

	out, err := execute(t, "run", path)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "module         demo.wasm") {
		t.Errorf("output does not name the module:\n%s", out)
	}

	if _, err := execute(t, "run", filepath.Join(t.TempDir(), "missing.wasm")); err == nil {
		t.Error("run of a missing file succeeded")
	}
	if _, err := execute(t, "run", path, "--gateway", "http://gw.example.com"); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Errorf("http gateway err = %v, want invalid_input", err)
	}
	if _, err := execute(t, "run"); err == nil {
		t.Error("run without a module succeeded")
	}
}

func TestInspectCommand(t *testing.T) {
	out, err := execute(t, "inspect", writeDemo(t))
	if err != nil {
		t.Fatalf("inspect: %v\n%s", err, out)
	}
	for _, want := range []string{
		"gfx.render_bundle_finish",
		"gfx.event_subscribe",
		"run_entry",
		"memory",
		"tag 0",
		"(i32, i32)",
		"(externref)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestActions(t *testing.T) {
	s := openDemo(t, config.Default())
	ctx := context.Background()

	run := func(name string, args ...string) (string, error) {
		for _, a := range actions {
			if a.name == name {
				return a.run(ctx, s, args)
			}
		}
		t.Fatalf("no action %q", name)
		return "", nil
	}

	if _, err := run("resize", "640", "480"); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if _, err := run("input", " 13 "); err != nil {
		t.Fatalf("input: %v", err)
	}
	if _, err := run("message", "hello"); err != nil {
		t.Fatalf("message: %v", err)
	}

	got := []uint32{
		readU32(t, s, demo.Width), readU32(t, s, demo.Height),
		readU32(t, s, demo.InputCode), readU32(t, s, demo.MessageLen),
	}
	if diff := cmp.Diff([]uint32{640, 480, 13, 5}, got); diff != "" {
		t.Errorf("module state (-want +got):\n%s", diff)
	}

	if _, err := run("resize", "wide", "480"); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Errorf("bad width err = %v, want invalid_input", err)
	}

	out, err := run("replay")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !strings.Contains(out, "Draw {VertexCount:3") {
		t.Errorf("replay output:\n%s", out)
	}
}

func TestSession_Replay(t *testing.T) {
	s := openDemo(t, config.Default())

	bundles, err := s.replay()
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(bundles) != 1 {
		t.Fatalf("got %d bundles, want 1", len(bundles))
	}
	want := []bundle.Command{
		bundle.PushDebugGroupCommand{Label: "frame"},
		bundle.SetPipelineCommand{Pipeline: demo.Pipeline},
		bundle.SetVertexBufferCommand{Slot: 0, Buffer: demo.VertexBuffer},
		bundle.DrawCommand{VertexCount: 3, InstanceCount: 1},
		bundle.PopDebugGroupCommand{},
	}
	if diff := cmp.Diff(want, bundles[0].commands); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}
}

func TestSession_Gateway(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		c.WriteMessage(websocket.TextMessage, []byte("frame-one"))
		c.WriteMessage(websocket.TextMessage, []byte("two"))
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.GatewayURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.HandoffToken = "t0k"
	s := openDemo(t, cfg)

	ctx := context.Background()
	if err := s.connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if s.received() != 2 {
		t.Errorf("received %d frames, want 2", s.received())
	}
	if got := readU32(t, s, demo.MessageCount); got != 2 {
		t.Errorf("module saw %d messages, want 2", got)
	}
	if got := readU32(t, s, demo.MessageLen); got != 3 {
		t.Errorf("last message length = %d, want 3", got)
	}
}

func TestWitTypeStr(t *testing.T) {
	for _, a := range actions {
		for _, p := range a.params {
			if s := witTypeStr(p.witType); strings.HasPrefix(s, "wit.") {
				t.Errorf("%s.%s renders as %s", a.name, p.name, s)
			}
		}
	}
}
