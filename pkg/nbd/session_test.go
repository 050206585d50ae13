package nbd

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/marmos91/cloudnbd/pkg/export"
	"github.com/marmos91/cloudnbd/pkg/provider/memory"
)

// readReplyHeader reads and decodes a 16-byte simple-reply header.
func readReplyHeader(t *testing.T, conn net.Conn) (magic uint32, errCode uint32, cookie uint64) {
	t.Helper()
	buf := make([]byte, simpleReplyHeaderSize)
	if _, err := readFull(conn, buf); err != nil {
		t.Fatalf("read reply header: %v", err)
	}
	return binary.BigEndian.Uint32(buf[0:4]), binary.BigEndian.Uint32(buf[4:8]), binary.BigEndian.Uint64(buf[8:16])
}

func TestSessionReadReply(t *testing.T) {
	pattern := bytes.Repeat([]byte{0xAB}, 4096)
	p := memory.New(16384, 4096)
	if err := p.WriteAt(context.Background(), pattern, 4096, false); err != nil {
		t.Fatalf("seed provider: %v", err)
	}
	handle := export.NewHandle("disk0", p)

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	session := NewSession(server, handle, nil)
	done := make(chan error, 1)
	go func() { done <- session.Run(context.Background()) }()

	req := buildRequest(0, cmdRead, 0xDEADBEEF, 4096, 4096)
	if _, err := client.Write(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	magic, errCode, cookie := readReplyHeader(t, client)
	if magic != simpleReplyMagic {
		t.Fatalf("magic = %#x, want %#x", magic, simpleReplyMagic)
	}
	if errCode != 0 {
		t.Fatalf("error = %d, want 0", errCode)
	}
	if cookie != 0xDEADBEEF {
		t.Fatalf("cookie = %#x, want 0xDEADBEEF", cookie)
	}

	payload := make([]byte, 4096)
	if _, err := readFull(client, payload); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if !bytes.Equal(payload, pattern) {
		t.Fatal("read payload did not match seeded pattern")
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session.Run did not return after client closed")
	}
}

func TestSessionWriteMisalignedIsInval(t *testing.T) {
	p := memory.New(16384, 4096)
	handle := export.NewHandle("disk0", p)

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	session := NewSession(server, handle, nil)
	done := make(chan error, 1)
	go func() { done <- session.Run(context.Background()) }()

	payload := make([]byte, 16)
	req := buildRequest(0, cmdWrite, 0x1234, 100, uint32(len(payload)))
	if _, err := client.Write(req); err != nil {
		t.Fatalf("write request: %v", err)
	}
	if _, err := client.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	magic, errCode, cookie := readReplyHeader(t, client)
	if magic != simpleReplyMagic {
		t.Fatalf("magic = %#x, want %#x", magic, simpleReplyMagic)
	}
	if errCode != errInval {
		t.Fatalf("error = %d, want %d (EINVAL)", errCode, errInval)
	}
	if cookie != 0x1234 {
		t.Fatalf("cookie = %#x, want 0x1234", cookie)
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session.Run did not return after client closed")
	}
}

func TestSessionDiscClosesAfterReply(t *testing.T) {
	p := memory.New(16384, 4096)
	handle := export.NewHandle("disk0", p)

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	session := NewSession(server, handle, nil)
	done := make(chan error, 1)
	go func() { done <- session.Run(context.Background()) }()

	req := buildRequest(0, cmdDisc, 0x9999, 0, 0)
	if _, err := client.Write(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	magic, errCode, cookie := readReplyHeader(t, client)
	if magic != simpleReplyMagic {
		t.Fatalf("magic = %#x, want %#x", magic, simpleReplyMagic)
	}
	if errCode != 0 {
		t.Fatalf("error = %d, want 0", errCode)
	}
	if cookie != 0x9999 {
		t.Fatalf("cookie = %#x, want 0x9999", cookie)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("session.Run returned error after DISC: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("session.Run did not return after DISC")
	}

	// No further reads should succeed: the server side of the pipe is done
	// writing and the session has returned, so the pipe now only yields EOF
	// once the peer closes.
	server.Close()
	buf := make([]byte, 1)
	if _, err := client.Read(buf); err == nil {
		t.Fatal("expected read to fail after server closed following DISC")
	}
}

func TestSessionWriteOutOfRangeIsNoSpace(t *testing.T) {
	p := memory.New(16384, 4096)
	handle := export.NewHandle("disk0", p)

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	session := NewSession(server, handle, nil)
	done := make(chan error, 1)
	go func() { done <- session.Run(context.Background()) }()

	payload := bytes.Repeat([]byte{0x11}, 4096)
	req := buildRequest(0, cmdWrite, 0x2222, 16384, uint32(len(payload)))
	if _, err := client.Write(req); err != nil {
		t.Fatalf("write request: %v", err)
	}
	if _, err := client.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	_, errCode, cookie := readReplyHeader(t, client)
	if errCode != errNoSpace {
		t.Fatalf("error = %d, want %d (ENOSPC)", errCode, errNoSpace)
	}
	if cookie != 0x2222 {
		t.Fatalf("cookie = %#x, want 0x2222", cookie)
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session.Run did not return after client closed")
	}
}

func TestSessionReadZeroLengthIsInval(t *testing.T) {
	p := memory.New(16384, 4096)
	handle := export.NewHandle("disk0", p)

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	session := NewSession(server, handle, nil)
	done := make(chan error, 1)
	go func() { done <- session.Run(context.Background()) }()

	req := buildRequest(0, cmdRead, 0x3333, 0, 0)
	if _, err := client.Write(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	_, errCode, cookie := readReplyHeader(t, client)
	if errCode != errInval {
		t.Fatalf("error = %d, want %d (EINVAL)", errCode, errInval)
	}
	if cookie != 0x3333 {
		t.Fatalf("cookie = %#x, want 0x3333", cookie)
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session.Run did not return after client closed")
	}
}

func TestSessionWriteZeroLengthIsInval(t *testing.T) {
	p := memory.New(16384, 4096)
	handle := export.NewHandle("disk0", p)

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	session := NewSession(server, handle, nil)
	done := make(chan error, 1)
	go func() { done <- session.Run(context.Background()) }()

	req := buildRequest(0, cmdWrite, 0x4444, 0, 0)
	if _, err := client.Write(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	_, errCode, cookie := readReplyHeader(t, client)
	if errCode != errInval {
		t.Fatalf("error = %d, want %d (EINVAL)", errCode, errInval)
	}
	if cookie != 0x4444 {
		t.Fatalf("cookie = %#x, want 0x4444", cookie)
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session.Run did not return after client closed")
	}
}
