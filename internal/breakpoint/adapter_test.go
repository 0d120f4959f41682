package breakpoint

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dbgpdap/adapter/internal/dbgp"
)

// fakeEngine answers breakpoint_set with a resolved reply echoing the
// transaction id, and breakpoint_get/remove with minimal success replies.
func fakeEngine(t *testing.T, server net.Conn) {
	t.Helper()
	dec := dbgp.NewFrameDecoder()
	buf := make([]byte, 4096)
	for {
		n, err := server.Read(buf)
		if n > 0 {
			frames, _ := dec.Feed(buf[:n])
			for _, f := range frames {
				cmd := string(f)
				txID := extractTx(cmd)
				var reply string
				switch {
				case strings.HasPrefix(cmd, "breakpoint_set"):
					reply = `<response xmlns="urn:debugger_protocol_v1" command="breakpoint_set" transaction_id="` + txID + `" id="eng-1" state="enabled" resolved="resolved"></response>`
				case strings.HasPrefix(cmd, "breakpoint_get"):
					reply = `<response xmlns="urn:debugger_protocol_v1" command="breakpoint_get" transaction_id="` + txID + `"><breakpoint lineno="42" resolved="resolved"></breakpoint></response>`
				case strings.HasPrefix(cmd, "breakpoint_remove"):
					reply = `<response xmlns="urn:debugger_protocol_v1" command="breakpoint_remove" transaction_id="` + txID + `"></response>`
				default:
					reply = `<response xmlns="urn:debugger_protocol_v1" command="unknown" transaction_id="` + txID + `"></response>`
				}
				server.Write(dbgp.EncodeFrame([]byte(reply)))
			}
		}
		if err != nil {
			return
		}
	}
}

func extractTx(cmd string) string {
	idx := strings.Index(cmd, "-i ")
	if idx < 0 {
		return "0"
	}
	rest := cmd[idx+3:]
	if sp := strings.IndexByte(rest, ' '); sp >= 0 {
		return rest[:sp]
	}
	return rest
}

func TestAdapterReconcilesAddsAndEmitsVerifiedEvent(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go fakeEngine(t, server)

	conn := dbgp.NewConnection(1, client)
	go conn.Run(context.Background())

	mgr := NewManager()
	mgr.SetLineBreakpoints("/a.php", "file:///a.php", []LineSpecInput{{Line: 10}})

	var mu sync.Mutex
	var events []ChangedEvent
	log := logrus.NewEntry(logrus.New())
	adapter := NewAdapter(conn, mgr, log, func(e ChangedEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	defer adapter.Close()

	adapter.Process(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(events)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a breakpoint-changed event")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if !events[0].Verified {
		t.Fatal("expected verified=true after a resolved breakpoint_set")
	}
	if !events[0].HasLine || events[0].Line != 42 {
		t.Fatalf("expected refreshed line 42, got %+v", events[0])
	}
}

func TestAdapterNoOpWhileExecuteCommandPending(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// This fake engine never answers anything, so the "run" command we
	// send below stays pending forever.
	gotRun := make(chan struct{})
	go func() {
		dec := dbgp.NewFrameDecoder()
		buf := make([]byte, 4096)
		for {
			n, err := server.Read(buf)
			if n > 0 {
				frames, _ := dec.Feed(buf[:n])
				if len(frames) > 0 {
					close(gotRun)
				}
			}
			if err != nil {
				return
			}
		}
	}()

	conn := dbgp.NewConnection(2, client)
	go conn.Run(context.Background())
	go func() { _, _ = conn.Continue(context.Background()) }()

	select {
	case <-gotRun:
	case <-time.After(2 * time.Second):
		t.Fatal("engine never observed the run command")
	}

	mgr := NewManager()
	mgr.SetLineBreakpoints("/a.php", "file:///a.php", []LineSpecInput{{Line: 1}})

	called := false
	log := logrus.NewEntry(logrus.New())
	adapter := NewAdapter(conn, mgr, log, func(e ChangedEvent) { called = true })
	defer adapter.Close()

	adapter.Process(context.Background())
	if called {
		t.Fatal("expected no breakpoint_set while a run/step command is pending")
	}
}
