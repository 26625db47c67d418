package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *bytes.Buffer) {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	var buf bytes.Buffer
	c, err := New(ts.URL, WithLogger(zerolog.New(&buf)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return c, &buf
}

func logLines(buf *bytes.Buffer) int {
	s := strings.TrimSpace(buf.String())
	if s == "" {
		return 0
	}
	return len(strings.Split(s, "\n"))
}

func TestGenerateTextReturnsBody(t *testing.T) {
	var gotPath, gotMethod, gotCT, gotReqID string
	var gotBody map[string]any
	c, buf := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		gotCT = r.Header.Get("Content-Type")
		gotReqID = r.Header.Get("X-Request-Id")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`"hello"`))
	})

	text, err := c.GenerateTextWithOpenAI(context.Background(), "greet me")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "hello" {
		t.Fatalf("text = %q; want hello", text)
	}
	if gotMethod != http.MethodPost || gotPath != GenerateTextPath {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotCT != "application/json" {
		t.Fatalf("content-type = %q", gotCT)
	}
	if gotReqID == "" {
		t.Fatalf("missing X-Request-Id")
	}
	if len(gotBody) != 1 || gotBody["prompt"] != "greet me" {
		t.Fatalf("body = %v", gotBody)
	}
	if n := logLines(buf); n != 0 {
		t.Fatalf("unexpected log output on success: %s", buf.String())
	}
}

func TestGenerateTextNonJSONBodyVerbatim(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("plain completion"))
	})
	text, err := c.GenerateTextWithOpenAI(context.Background(), "x")
	if err != nil || text != "plain completion" {
		t.Fatalf("text=%q err=%v", text, err)
	}
}

func TestGenerateTextNon2xx(t *testing.T) {
	var calls atomic.Int32
	c, buf := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "Error generating text", http.StatusInternalServerError)
	})
	_, err := c.GenerateTextWithOpenAI(context.Background(), "x")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v; want *StatusError", err)
	}
	if se.StatusCode != http.StatusInternalServerError || se.Body != "Error generating text" {
		t.Fatalf("status error = %+v", se)
	}
	if n := logLines(buf); n != 1 {
		t.Fatalf("log entries = %d; want exactly 1: %s", n, buf.String())
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("endpoint called %d times; want 1", n)
	}
}

func TestGenerateTextTransportErrorUnmodified(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := ts.URL
	ts.Close()

	var buf bytes.Buffer
	c, err := New(base, WithLogger(zerolog.New(&buf)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = c.GenerateTextWithOpenAI(context.Background(), "x")
	var ue *url.Error
	if !errors.As(err, &ue) {
		t.Fatalf("err = %T %v; want *url.Error from the transport", err, err)
	}
	if n := logLines(&buf); n != 1 {
		t.Fatalf("log entries = %d; want 1", n)
	}
}

func TestGenerateTextTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	c, err := New(ts.URL, WithTimeout(50*time.Millisecond), WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.GenerateTextWithOpenAI(context.Background(), "x"); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestWithTimeoutAnyOrder(t *testing.T) {
	custom := &http.Client{Transport: http.DefaultTransport}
	for name, opts := range map[string][]Option{
		"timeout first": {WithTimeout(3 * time.Second), WithHTTPClient(custom)},
		"timeout last":  {WithHTTPClient(custom), WithTimeout(3 * time.Second)},
	} {
		c, err := New("http://relay.local", opts...)
		if err != nil {
			t.Fatalf("%s: new: %v", name, err)
		}
		if c.http.Timeout != 3*time.Second {
			t.Fatalf("%s: timeout = %s; want 3s", name, c.http.Timeout)
		}
		if c.http.Transport != custom.Transport {
			t.Fatalf("%s: custom transport not used", name)
		}
	}
	if custom.Timeout != 0 {
		t.Fatalf("caller's http.Client was modified")
	}
}

func TestNewValidatesBaseURL(t *testing.T) {
	for _, bad := range []string{"", "   ", "not a url", "ftp://example.com", "/relative", "http://"} {
		_, err := New(bad)
		if err == nil {
			t.Fatalf("New(%q) succeeded", bad)
		}
		if !errors.Is(err, ErrMissingBaseURL) && !errors.Is(err, ErrInvalidBaseURL) {
			t.Fatalf("New(%q) err = %v", bad, err)
		}
	}
	if _, err := New(""); !errors.Is(err, ErrMissingBaseURL) {
		t.Fatalf("empty base URL should be ErrMissingBaseURL")
	}
}

func TestEndpointJoinsPath(t *testing.T) {
	cases := map[string]string{
		"https://relay.example":      "https://relay.example/openai/generate-text",
		"https://relay.example/":     "https://relay.example/openai/generate-text",
		"https://relay.example/api/": "https://relay.example/api/openai/generate-text",
	}
	for in, want := range cases {
		c, err := New(in)
		if err != nil {
			t.Fatalf("New(%q): %v", in, err)
		}
		if c.Endpoint() != want {
			t.Fatalf("Endpoint(%q) = %q; want %q", in, c.Endpoint(), want)
		}
	}
}

func TestGenerateTextConcurrent(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var req promptRequest
		_ = json.Unmarshal(b, &req)
		out, _ := json.Marshal("re: " + req.Prompt)
		_, _ = w.Write(out)
	})
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := fmt.Sprintf("p%d", i)
			got, err := c.GenerateTextWithOpenAI(context.Background(), p)
			if err != nil {
				errs <- err
				return
			}
			if got != "re: "+p {
				errs <- fmt.Errorf("prompt %q got %q", p, got)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
