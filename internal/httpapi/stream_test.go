package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ebnrushd/corporate-ledger/internal/stream"
)

// The SSE endpoint must deliver through the complete middleware chain, not
// just the bare mux: every wrapper in between has to pass Flush down to the
// real connection or events sit in the server's write buffer forever.
func TestStreamDeliversThroughFullHandlerChain(t *testing.T) {
	c := newTestAPI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// The opening comment must arrive before any event is published; if a
	// middleware wrapper swallows Flush this read blocks until the context
	// deadline kills the connection.
	reader := bufio.NewReader(resp.Body)
	preamble, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read preamble: %v", err)
	}
	if !strings.HasPrefix(preamble, ": stream started") {
		t.Fatalf("preamble = %q", preamble)
	}

	c.events.Publish(stream.Event{
		Type:          stream.EventTopUpInitiated,
		CorrelationID: "corr-1",
		Amount:        2000,
		Currency:      "USD",
	})

	var payload string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		if rest, ok := strings.CutPrefix(line, "data: "); ok {
			payload = strings.TrimSpace(rest)
			break
		}
	}

	var got stream.Event
	if err := json.Unmarshal([]byte(payload), &got); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if got.Type != stream.EventTopUpInitiated || got.CorrelationID != "corr-1" || got.Amount != 2000 {
		t.Fatalf("unexpected event %+v", got)
	}
}
