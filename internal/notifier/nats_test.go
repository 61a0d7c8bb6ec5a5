package notifier

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "chapterbot/pkg/logx"
)

type natsMsg struct {
	subject string
	data    []byte
}

// natsStub speaks just enough of the NATS text protocol for a client to
// connect, publish and flush.
type natsStub struct {
	ln   net.Listener
	msgs chan natsMsg
	pong atomic.Bool
}

func startNATSStub(t *testing.T) *natsStub {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &natsStub{ln: ln, msgs: make(chan natsMsg, 8)}
	s.pong.Store(true)
	t.Cleanup(func() { _ = ln.Close() })
	go s.serve()
	return s
}

func (s *natsStub) url() string { return "nats://" + s.ln.Addr().String() }

func (s *natsStub) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *natsStub) handle(conn net.Conn) {
	defer conn.Close()
	port := s.ln.Addr().(*net.TCPAddr).Port
	fmt.Fprintf(conn, "INFO {\"server_id\":\"stub\",\"version\":\"2.10.0\",\"proto\":1,\"host\":\"127.0.0.1\",\"port\":%d,\"max_payload\":1048576}\r\n", port)

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "PING":
			if s.pong.Load() {
				_, _ = io.WriteString(conn, "PONG\r\n")
			}
		case strings.HasPrefix(line, "PUB "):
			f := strings.Fields(line)
			n, _ := strconv.Atoi(f[len(f)-1])
			buf := make([]byte, n+2)
			if _, err := io.ReadFull(r, buf); err != nil {
				return
			}
			s.msgs <- natsMsg{subject: f[1], data: buf[:n]}
		}
	}
}

func TestDialNATSRequiresURL(t *testing.T) {
	if _, err := DialNATS(NATSConfig{URL: "  "}, logx.Nop()); err == nil {
		t.Fatal("empty url accepted")
	}
}

func TestDialNATSUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	if _, err := DialNATS(NATSConfig{URL: "nats://" + addr}, logx.Nop()); err == nil || !strings.Contains(err.Error(), "connect nats") {
		t.Fatalf("DialNATS err = %v", err)
	}
}

func TestNATSPublishSendsChangeEvent(t *testing.T) {
	stub := startNATSStub(t)
	n, err := DialNATS(NATSConfig{URL: stub.url()}, logx.Nop())
	if err != nil {
		t.Fatalf("DialNATS: %v", err)
	}
	defer n.Close()

	if err := n.Publish(context.Background(), sampleChange()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case msg := <-stub.msgs:
		if msg.subject != DefaultNATSSubject {
			t.Fatalf("subject = %q", msg.subject)
		}
		var ev ChangeEvent
		if err := json.Unmarshal(msg.data, &ev); err != nil {
			t.Fatalf("payload %q: %v", msg.data, err)
		}
		if ev.Series != "one_piece" || ev.Chapter != "1172" || ev.CycleID != "c-1" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

func TestNATSPublishFlushHonorsDeadline(t *testing.T) {
	stub := startNATSStub(t)
	n, err := DialNATS(NATSConfig{URL: stub.url(), Subject: "chapters.test"}, logx.Nop())
	if err != nil {
		t.Fatalf("DialNATS: %v", err)
	}
	defer n.conn.Close()

	stub.pong.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = n.Publish(ctx, sampleChange())
	if err == nil || !strings.Contains(err.Error(), "nats flush") {
		t.Fatalf("Publish err = %v", err)
	}
	if took := time.Since(start); took > time.Second {
		t.Fatalf("flush outlived its deadline (took %s)", took)
	}
	select {
	case msg := <-stub.msgs:
		if msg.subject != "chapters.test" {
			t.Fatalf("subject = %q", msg.subject)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never reached the server")
	}
}
