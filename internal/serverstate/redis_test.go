package serverstate

import (
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	rs, err := NewRedisStore(mr.Addr(), "relay-a")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer rs.Close()

	prev := current()
	UseStore(rs)
	defer UseStore(prev)

	if got := GetState(); got != StatusNotReady {
		t.Fatalf("initial state = %q; want %q", got, StatusNotReady)
	}

	SetState(StatusReady)
	if got := GetState(); got != StatusReady {
		t.Fatalf("state after SetState = %q; want %q", got, StatusReady)
	}

	StartDrain()
	if got := GetState(); got != StatusDraining {
		t.Fatalf("state after StartDrain = %q; want %q", got, StatusDraining)
	}
	if !IsDraining() {
		t.Fatalf("IsDraining = false; want true")
	}

	// The persisted state is visible to any reader of the key.
	if st := (&RedisStore{client: rs.client, key: rs.Key()}).Load(); st.Status != StatusDraining || !st.Draining {
		t.Fatalf("persisted state = %#v; want draining", st)
	}

	// A restarted instance starts over as not_ready.
	rs2, err := NewRedisStore(mr.Addr(), "relay-a")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer rs2.Close()
	if st := rs2.Load(); st.Status != StatusNotReady || st.Draining {
		t.Fatalf("restarted state = %#v; want not_ready", st)
	}

	// Other instances keep their own key.
	rs3, err := NewRedisStore(mr.Addr(), "relay-b")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer rs3.Close()
	if st := rs3.Load(); st.Status != StatusNotReady {
		t.Fatalf("relay-b state = %#v; want not_ready", st)
	}
	if !mr.Exists(rs.Key()) || !mr.Exists(rs3.Key()) {
		t.Fatalf("expected one key per instance")
	}
	if ttl := mr.TTL(rs.Key()); ttl <= 0 {
		t.Fatalf("state key should expire, ttl=%s", ttl)
	}
}

func TestRedisStoreReadyOutlivesTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	rs, err := NewRedisStore(mr.Addr(), "relay-a")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer rs.Close()
	prev := current()
	UseStore(rs)
	defer UseStore(prev)

	SetState(StatusReady)
	mr.FastForward(redisTTL + time.Hour)
	if mr.Exists(rs.Key()) {
		t.Fatalf("key should have expired in redis")
	}
	if got := GetState(); got != StatusReady || !IsReady() {
		t.Fatalf("state after expiry = %q ready=%v; want ready", got, IsReady())
	}
	if !mr.Exists(rs.Key()) {
		t.Fatalf("expired key was not rewritten")
	}
	if ttl := mr.TTL(rs.Key()); ttl != redisTTL {
		t.Fatalf("rewritten ttl = %s; want %s", ttl, redisTTL)
	}
}

func TestRedisStoreRefresh(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	rs, err := NewRedisStore(mr.Addr(), "relay-a")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer rs.Close()

	rs.Store(State{Status: StatusReady})
	mr.FastForward(redisTTL - time.Hour)
	rs.refresh()
	if ttl := mr.TTL(rs.Key()); ttl != redisTTL {
		t.Fatalf("ttl after refresh = %s; want %s", ttl, redisTTL)
	}

	// the background loop rewrites the key on its own
	mr.SetTTL(rs.Key(), time.Minute)
	go rs.keepAlive(5 * time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for mr.TTL(rs.Key()) != redisTTL {
		if time.Now().After(deadline) {
			t.Fatalf("keepAlive did not refresh the key, ttl=%s", mr.TTL(rs.Key()))
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st := rs.Load(); st.Status != StatusReady {
		t.Fatalf("state = %#v; want ready", st)
	}
}

func TestRedisStoreCloseTwice(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rs, err := NewRedisStore(mr.Addr(), "relay-a")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	_ = rs.Close()
	_ = rs.Close()
}

func TestRedisStoreUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()
	if _, err := NewRedisStore(addr, "x"); err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestParseRedisURL(t *testing.T) {
	tests := []struct {
		url    string
		addrs  int
		master string
		db     int
		tls    bool
	}{
		{"localhost:6379", 1, "", 0, false},
		{"redis://:pass@localhost:6379/1", 1, "", 1, false},
		{"redis://host1:6379,host2:6379/0", 2, "", 0, false},
		{"rediss://localhost:6380?db=3", 1, "", 3, true},
		{"redis-sentinel://localhost:26379/mymaster?db=2", 1, "mymaster", 2, false},
	}
	for _, tt := range tests {
		opts, err := parseRedisURL(tt.url)
		if err != nil {
			t.Fatalf("parseRedisURL(%q): %v", tt.url, err)
		}
		if len(opts.Addrs) != tt.addrs {
			t.Fatalf("%q addrs = %d; want %d", tt.url, len(opts.Addrs), tt.addrs)
		}
		if opts.MasterName != tt.master {
			t.Fatalf("%q master = %q; want %q", tt.url, opts.MasterName, tt.master)
		}
		if opts.DB != tt.db {
			t.Fatalf("%q db = %d; want %d", tt.url, opts.DB, tt.db)
		}
		if (opts.TLSConfig != nil) != tt.tls {
			t.Fatalf("%q tls = %v; want %v", tt.url, opts.TLSConfig != nil, tt.tls)
		}
	}
	if _, err := parseRedisURL("http://localhost"); err == nil {
		t.Fatalf("expected scheme error")
	}
	if _, err := parseRedisURL("redis://localhost/abc"); err == nil {
		t.Fatalf("expected db error")
	}
}
