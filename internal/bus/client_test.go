package bus

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vitali87/LinuxWhisper/internal/config"
	"github.com/vitali87/LinuxWhisper/internal/natsserver"
	"github.com/vitali87/LinuxWhisper/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := Connect(config.BusConfig{}, newLogger()); err == nil {
		t.Fatal("expected error for empty server list")
	}
}

func TestPublishTranscript(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := Connect(config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	if !client.Healthy() {
		t.Fatal("expected healthy connection")
	}

	sub, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	t.Cleanup(sub.Close)
	inbox, err := sub.SubscribeSync(protocol.SubjectTranscriptFinal)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	want := protocol.Transcript{Text: "hello", AudioMS: 1200, LatencyMS: 90, Model: "tiny.en", Timestamp: time.Now().UTC()}
	if err := client.PublishTranscript(want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg, err := inbox.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	var got protocol.Transcript
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Text != want.Text || got.Model != want.Model {
		t.Fatalf("unexpected transcript %+v", got)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if err := c.PublishTranscript(protocol.Transcript{Text: "x"}); err != nil {
		t.Fatalf("nil client publish: %v", err)
	}
	c.Close()
	if c.Healthy() {
		t.Fatal("nil client must not report healthy")
	}
}
