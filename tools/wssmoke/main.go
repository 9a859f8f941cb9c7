// Package main provides a CI-friendly WebSocket smoke test for a running pulse server.
//
// It validates:
//   - handshake against /ws
//   - a non-subscribe first frame is rejected without closing the session
//   - subscribe ack
//   - HTTP publish reaches the subscriber
//   - post-subscribe client text is relayed to the relay topic
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "pulse/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "pulse.realtime.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8090/ws", "WebSocket URL")
		origin  = flag.String("origin", "", "Origin header to send (browser-like WS handshake)")
		topic   = flag.String("topic", "smoke", "Topic to subscribe and publish to")
		relay   = flag.String("relay", "echo", "Relay topic the server republishes client text to")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *timeout)
	defer closeWS(a)

	b := mustConnect(root, "B", *wsURL, *origin, *timeout)
	defer closeWS(b)

	mustWrite(root, a, "A", []byte("hello"), *timeout)
	mustExpectError(root, a, "A", v1.ReasonExpectedSubscribe, *timeout)
	if *verbose {
		fmt.Println("ok: bad first frame rejected, session kept")
	}

	mustSubscribe(root, a, "A", *topic, *timeout)
	mustSubscribe(root, b, "B", *relay, *timeout)
	if *verbose {
		fmt.Printf("ok: A subscribed to %q, B subscribed to %q\n", *topic, *relay)
	}

	payload := fmt.Sprintf(`{"smoke":%d}`, time.Now().UnixNano())
	delivered := mustPublish(root, httpBase(*wsURL), *topic, payload, *timeout)
	if delivered < 1 {
		fatalf("publish: expected at least 1 subscriber, got %d", delivered)
	}
	mustRead(root, a, "A", payload, *timeout)
	if *verbose {
		fmt.Printf("ok: publish delivered to %d subscriber(s)\n", delivered)
	}

	relayed := "relay-" + payload
	mustWrite(root, a, "A", []byte(relayed), *timeout)
	mustRead(root, b, "B", relayed, *timeout)
	if *verbose {
		fmt.Println("ok: client text relayed")
	}

	fmt.Println("OK")
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

// httpBase maps ws(s)://host/ws to http(s)://host.
func httpBase(wsURL string) string {
	u, _ := url.Parse(wsURL)
	if u.Scheme == "wss" {
		u.Scheme = "https"
	} else {
		u.Scheme = "http"
	}
	u.Path = ""
	u.RawQuery = ""
	return u.String()
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustWrite(parent context.Context, conn *websocket.Conn, name string, data []byte, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		fatalf("write %s: %v", name, err)
	}
}

func readFrame(parent context.Context, conn *websocket.Conn, name string, stepTimeout time.Duration) []byte {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		fatalf("read %s: %v (close_status=%v)", name, err, websocket.CloseStatus(err))
	}
	return data
}

func mustSubscribe(parent context.Context, conn *websocket.Conn, name, topic string, stepTimeout time.Duration) {
	mustWrite(parent, conn, name, v1.EncodeSubscribe(topic), stepTimeout)

	var ack v1.Ack
	data := readFrame(parent, conn, name, stepTimeout)
	if err := json.Unmarshal(data, &ack); err != nil || !ack.OK {
		fatalf("subscribe %s: expected ack, got %s", name, data)
	}
}

func mustExpectError(parent context.Context, conn *websocket.Conn, name, reason string, stepTimeout time.Duration) {
	var reply v1.ErrorReply
	data := readFrame(parent, conn, name, stepTimeout)
	if err := json.Unmarshal(data, &reply); err != nil || reply.Error != reason {
		fatalf("%s: expected error %q, got %s", name, reason, data)
	}
}

func mustRead(parent context.Context, conn *websocket.Conn, name, want string, stepTimeout time.Duration) {
	if got := string(readFrame(parent, conn, name, stepTimeout)); got != want {
		fatalf("%s: expected %q, got %q", name, want, got)
	}
}

func mustPublish(parent context.Context, base, topic, payload string, stepTimeout time.Duration) int {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/topics/"+url.PathEscape(topic), strings.NewReader(payload))
	if err != nil {
		fatalf("publish: %v", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("publish: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatalf("publish: status %d", resp.StatusCode)
	}

	var res v1.PublishResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		fatalf("publish: decode: %v", err)
	}
	return res.Delivered
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
