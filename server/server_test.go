package server

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/arrow-wasm-ffi/arrow"
	"github.com/VanDung-dev/arrow-wasm-ffi/host"
	"github.com/VanDung-dev/arrow-wasm-ffi/internal/fixture"
)

func ipcBytes(t testing.TB, rows ...int) []byte {
	t.Helper()
	records, err := fixture.EventBatches(memory.NewGoAllocator(), rows...)
	if err != nil {
		t.Fatalf("Failed to build batches: %v", err)
	}
	defer fixture.Release(records)

	data, err := arrow.NewIPCWriter().SerializeMultipleToIPC(fixture.EventSchema(), records)
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}
	return data
}

func newHandler() *Handler {
	return NewHandler(host.NewInProcess(), time.Second)
}

func TestHandleTable(t *testing.T) {
	resp := newHandler().Handle(context.Background(), Request{Op: OpTable, Data: ipcBytes(t, 2, 3)}.Bytes())
	if !resp.OK {
		t.Fatalf("Expected ok response, got error %q", resp.Error)
	}
	if len(resp.Schema) != 5 || resp.Schema[0].Name != "entity_id" || resp.Schema[0].Nullable {
		t.Errorf("Unexpected schema %+v", resp.Schema)
	}
	if len(resp.Chunks) != 2 || resp.Chunks[0].Rows != 2 || resp.Chunks[1].Rows != 3 {
		t.Errorf("Unexpected chunks %+v", resp.Chunks)
	}
	if resp.Chunks[0].Columns != 5 {
		t.Errorf("Expected 5 columns, got %d", resp.Chunks[0].Columns)
	}
}

func TestHandleRecordBatch(t *testing.T) {
	h := newHandler()
	data := ipcBytes(t, 2, 3)

	resp := h.Handle(context.Background(), Request{Op: OpRecordBatch, Index: 1, Data: data}.Bytes())
	if !resp.OK {
		t.Fatalf("Expected ok response, got error %q", resp.Error)
	}
	if len(resp.Chunks) != 1 || resp.Chunks[0].Rows != 3 {
		t.Errorf("Unexpected chunks %+v", resp.Chunks)
	}

	resp = h.Handle(context.Background(), Request{Op: OpRecordBatch, Index: 2, Data: data}.Bytes())
	if resp.OK || resp.Error != "Index out of range" {
		t.Errorf("Expected 'Index out of range', got %+v", resp)
	}
}

func TestHandleMalformed(t *testing.T) {
	h := newHandler()

	resp := h.Handle(context.Background(), []byte{1})
	if resp.OK || !strings.Contains(resp.Error, "shorter than header") {
		t.Errorf("Unexpected response %+v", resp)
	}

	resp = h.Handle(context.Background(), Request{Op: OpTable, Data: ipcBytes(t, 3)[:10]}.Bytes())
	if resp.OK || resp.Error == "" {
		t.Errorf("Expected decode error, got %+v", resp)
	}
}

func TestProcessEncodesJSON(t *testing.T) {
	out, err := newHandler().Process(context.Background(), Request{Op: OpTable, Data: ipcBytes(t, 1)}.Bytes())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !strings.HasPrefix(string(out), `{"ok":true,"schema":[{"name":"entity_id"`) {
		t.Errorf("Unexpected body %s", out)
	}

	resp, err := DecodeResponse(out)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if len(resp.Chunks) != 1 || resp.Chunks[0].Rows != 1 {
		t.Errorf("Unexpected chunks %+v", resp.Chunks)
	}
}

func startServer(t *testing.T, auth *Authenticator) *Server {
	t.Helper()
	server := NewServer(newHandler(), auth)
	if err := server.StartAsync("127.0.0.1:0"); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(server.Stop)
	return server
}

func TestServer_BasicConnection(t *testing.T) {
	server := startServer(t, nil)

	client, err := Dial(server.Addr().String(), "", time.Second)
	if err != nil {
		t.Fatalf("Failed to connect to server: %v", err)
	}
	defer client.Close()

	data := ipcBytes(t, 4, 0, 2)
	resp, err := client.Do(Request{Op: OpTable, Data: data})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if !resp.OK || len(resp.Chunks) != 3 {
		t.Fatalf("Unexpected response %+v", resp)
	}

	// The connection stays open for further requests
	resp, err = client.Do(Request{Op: OpRecordBatch, Index: 2, Data: data})
	if err != nil {
		t.Fatalf("Second request failed: %v", err)
	}
	if !resp.OK || resp.Chunks[0].Rows != 2 {
		t.Errorf("Unexpected response %+v", resp)
	}
}

func TestServer_StartTwice(t *testing.T) {
	server := startServer(t, nil)
	if err := server.StartAsync("127.0.0.1:0"); err == nil {
		t.Fatal("Expected error starting a running server")
	}
}

func TestServer_StopClosesConnections(t *testing.T) {
	server := NewServer(newHandler(), nil)
	if err := server.StartAsync("127.0.0.1:0"); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	// Round trip once so the connection is tracked
	if err := WriteMessage(conn, Request{Op: OpTable, Data: ipcBytes(t, 1)}.Bytes()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := ReadMessage(conn); err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	server.Stop()
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := ReadMessage(conn); err == nil {
		t.Fatal("Expected closed connection after Stop")
	}
}

func TestServer_Auth(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{Enabled: true, Token: "secret"})
	if err != nil {
		t.Fatalf("NewAuthenticator failed: %v", err)
	}
	server := startServer(t, auth)
	addr := server.Addr().String()

	if _, err := Dial(addr, "wrong", time.Second); err == nil {
		t.Fatal("Expected authentication failure")
	}

	client, err := Dial(addr, "secret", time.Second)
	if err != nil {
		t.Fatalf("Authenticated dial failed: %v", err)
	}
	defer client.Close()

	resp, err := client.Do(Request{Op: OpTable, Data: ipcBytes(t, 2)})
	if err != nil || !resp.OK {
		t.Fatalf("Unexpected response %+v, %v", resp, err)
	}
}

func TestAuthenticator(t *testing.T) {
	disabled, _ := NewAuthenticator(AuthConfig{})
	if err := disabled.ValidateToken(""); err != nil {
		t.Errorf("Disabled auth should accept everything, got %v", err)
	}

	var none *Authenticator
	if none.IsEnabled() {
		t.Error("Nil authenticator should be disabled")
	}

	generated, err := NewAuthenticator(AuthConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewAuthenticator failed: %v", err)
	}
	if len(generated.Token()) != 64 {
		t.Errorf("Expected 64 hex chars, got %q", generated.Token())
	}
	if err := generated.ValidateToken(""); !errors.Is(err, ErrAuthRequired) {
		t.Errorf("Expected ErrAuthRequired, got %v", err)
	}
	if err := generated.ValidateToken("nope"); !errors.Is(err, ErrAuthTokenMismatch) {
		t.Errorf("Expected ErrAuthTokenMismatch, got %v", err)
	}
	if err := generated.ValidateToken(generated.Token()); err != nil {
		t.Errorf("Expected valid token, got %v", err)
	}
}

func TestZmqServer(t *testing.T) {
	z := NewZmqServer("tcp://127.0.0.1:0", newHandler())
	if err := z.Start(); err != nil {
		t.Fatalf("Failed to start zmq server: %v", err)
	}
	defer z.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr := "tcp://" + z.Addr().String()
	resp, err := SendZmq(ctx, addr, Request{Op: OpTable, Data: ipcBytes(t, 3, 1)})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if !resp.OK || len(resp.Chunks) != 2 {
		t.Fatalf("Unexpected response %+v", resp)
	}

	resp, err = SendZmq(ctx, addr, Request{Op: OpRecordBatch, Index: 9, Data: ipcBytes(t, 1)})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.OK || resp.Error != "Index out of range" {
		t.Errorf("Unexpected response %+v", resp)
	}
}

func TestServer_Restart(t *testing.T) {
	server := NewServer(newHandler(), nil)
	defer server.Stop()

	for round := 0; round < 2; round++ {
		if err := server.StartAsync("127.0.0.1:0"); err != nil {
			t.Fatalf("Round %d: failed to start server: %v", round, err)
		}

		client, err := Dial(server.Addr().String(), "", time.Second)
		if err != nil {
			t.Fatalf("Round %d: failed to connect: %v", round, err)
		}
		resp, err := client.Do(Request{Op: OpTable, Data: ipcBytes(t, 2)})
		client.Close()
		if err != nil || !resp.OK {
			t.Fatalf("Round %d: unexpected response %+v, %v", round, resp, err)
		}

		server.Stop()
	}
	server.Stop()
}

func TestZmqServer_Restart(t *testing.T) {
	z := NewZmqServer("tcp://127.0.0.1:0", newHandler())
	defer z.Stop()

	for round := 0; round < 2; round++ {
		if err := z.Start(); err != nil {
			t.Fatalf("Round %d: failed to start zmq server: %v", round, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		resp, err := SendZmq(ctx, "tcp://"+z.Addr().String(), Request{Op: OpTable, Data: ipcBytes(t, 1)})
		cancel()
		if err != nil || !resp.OK {
			t.Fatalf("Round %d: unexpected response %+v, %v", round, resp, err)
		}

		z.Stop()
		if z.Addr() != nil {
			t.Errorf("Round %d: expected nil address after Stop", round)
		}
	}
}

func TestNextBackoff(t *testing.T) {
	d := nextBackoff(0)
	if d != minRecvBackoff {
		t.Fatalf("Expected first backoff %v, got %v", minRecvBackoff, d)
	}
	for i := 0; i < 20; i++ {
		next := nextBackoff(d)
		if next < d {
			t.Fatalf("Backoff decreased from %v to %v", d, next)
		}
		d = next
	}
	if d != maxRecvBackoff {
		t.Errorf("Expected backoff to settle at %v, got %v", maxRecvBackoff, d)
	}
}
