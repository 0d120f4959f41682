package dbgp

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeEngine services one Connection from the other end of a net.Pipe,
// answering "status" with a scripted break reply and echoing the
// transaction id it received.
func fakeEngine(t *testing.T, server net.Conn, scriptedStatus string) {
	t.Helper()
	dec := NewFrameDecoder()
	buf := make([]byte, 4096)
	for {
		n, err := server.Read(buf)
		if n > 0 {
			frames, _ := dec.Feed(buf[:n])
			for _, f := range frames {
				cmd := string(f)
				txID := "0"
				if idx := strings.Index(cmd, "-i "); idx >= 0 {
					rest := cmd[idx+3:]
					if sp := strings.IndexByte(rest, ' '); sp >= 0 {
						txID = rest[:sp]
					} else {
						txID = rest
					}
				}
				reply := `<response xmlns="urn:debugger_protocol_v1" command="status" transaction_id="` + txID + `" status="` + scriptedStatus + `" reason="ok"></response>`
				server.Write(EncodeFrame([]byte(reply)))
			}
		}
		if err != nil {
			return
		}
	}
}

func TestConnection_SendStatus(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go fakeEngine(t, server, "break")

	conn := NewConnection(1, client)
	go conn.Run(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := conn.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if reply.Status != "break" {
		t.Fatalf("got status %q, want break", reply.Status)
	}
}

func TestConnection_InitThenClose(t *testing.T) {
	client, server := net.Pipe()

	go func() {
		init := `<init xmlns="urn:debugger_protocol_v1" fileuri="file:///a.php" appid="1" idekey="x"><engine version="1.0">eng</engine></init>`
		server.Write(EncodeFrame([]byte(init)))
		server.Close()
	}()

	conn := NewConnection(2, client)
	done := make(chan error, 1)
	go func() { done <- conn.Run(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pkt, err := conn.WaitInit(ctx)
	if err != nil {
		t.Fatalf("WaitInit: %v", err)
	}
	if pkt.FileURI != "file:///a.php" {
		t.Fatalf("got fileuri %q", pkt.FileURI)
	}

	<-done

	if _, err := conn.Status(context.Background()); err == nil {
		t.Fatal("expected ConnectionClosed error after socket close")
	}
}

func TestConnection_IsPendingExecuteCommand(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	gotCmd := make(chan struct{})
	go func() {
		dec := NewFrameDecoder()
		buf := make([]byte, 4096)
		for {
			n, err := server.Read(buf)
			if n > 0 {
				frames, _ := dec.Feed(buf[:n])
				if len(frames) > 0 {
					close(gotCmd)
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	conn := NewConnection(3, client)
	go conn.Run(context.Background())

	// Issue a "run" command but never reply to it from the fake engine, so
	// it stays in flight for the duration of the assertion below.
	go func() { _, _ = conn.Send(context.Background(), "run", nil, nil, false) }()

	select {
	case <-gotCmd:
	case <-time.After(2 * time.Second):
		t.Fatal("engine never saw the run command")
	}

	if !conn.IsPendingExecuteCommand() {
		t.Fatal("expected IsPendingExecuteCommand to be true while run is in flight")
	}
}
