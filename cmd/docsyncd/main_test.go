package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vango-dev/docsync/internal/config"
	"github.com/vango-dev/docsync/internal/errors"
	"github.com/vango-dev/docsync/pkg/crdt"
	"github.com/vango-dev/docsync/pkg/server"
	"github.com/vango-dev/docsync/pkg/store"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func seedBolt(t *testing.T, path string) {
	t.Helper()
	bs, err := store.OpenBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer bs.Close()

	replica := crdt.New(1)
	replica.Insert(0, "hello")
	err = bs.SaveSnapshot(context.Background(), "doc-1", store.Snapshot{
		State:          replica.EncodeStateAsUpdate(),
		Content:        "hello",
		UpdatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		ContributorIDs: []string{"alice"},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version", "--short")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != version {
		t.Errorf("version --short = %q, want %q", out, version)
	}
}

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	seedBolt(t, path)
	t.Setenv("DOCSYNC_STORE_BOLT_PATH", path)

	out, err := run(t, "inspect", "--store=bolt")
	if err != nil {
		t.Fatalf("inspect list: %v", err)
	}
	if strings.TrimSpace(out) != "doc-1" {
		t.Errorf("listing = %q, want doc-1", out)
	}

	out, err = run(t, "inspect", "--store=bolt", "--json", "doc-1")
	if err != nil {
		t.Fatalf("inspect doc-1: %v", err)
	}
	var info inspection
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if info.Content != "hello" || info.Length != 5 || !info.Consistent {
		t.Errorf("inspection = %+v", info)
	}
	if len(info.ContributorIDs) != 1 || info.ContributorIDs[0] != "alice" {
		t.Errorf("contributors = %v", info.ContributorIDs)
	}

	out, err = run(t, "inspect", "--store=bolt", "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Consistent:    true") || !strings.HasSuffix(out, "hello\n") {
		t.Errorf("text output = %q", out)
	}

	_, err = run(t, "inspect", "--store=bolt", "missing")
	if !errors.HasCode(err, "D202") {
		t.Errorf("missing document error = %v, want D202", err)
	}
}

func TestInspectListNeedsBolt(t *testing.T) {
	_, err := run(t, "inspect")
	if !errors.HasCode(err, "D301") {
		t.Errorf("error = %v, want D301", err)
	}
}

func TestUnknownDriver(t *testing.T) {
	_, err := run(t, "inspect", "--store=mongo", "doc-1")
	if !errors.HasCode(err, "D103") {
		t.Errorf("error = %v, want D103", err)
	}
}

func TestToken(t *testing.T) {
	_, err := run(t, "token", "alice")
	if !errors.HasCode(err, "D302") {
		t.Fatalf("token without secret error = %v, want D302", err)
	}

	t.Setenv("DOCSYNC_AUTH_JWT_SECRET", "s3cret")
	out, err := run(t, "token", "alice", "--ttl=1h")
	if err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest("GET", "/ws/doc-1", nil)
	r.Header.Set("Authorization", "Bearer "+strings.TrimSpace(out))
	actor, err := server.NewTokenAuthenticator([]byte("s3cret")).Authenticate(r)
	if err != nil || actor != "alice" {
		t.Errorf("issued token authenticates as %q, %v", actor, err)
	}
}

func TestNewLogger(t *testing.T) {
	c := config.Default()
	c.Log.Format = "json"
	c.Log.Level = "warn"

	var buf bytes.Buffer
	logger := newLogger(c, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "document_id", "doc-1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "shown" || rec["service"] != "docsyncd" || rec["document_id"] != "doc-1" {
		t.Errorf("record = %v", rec)
	}
}

func TestOpenStoreMemory(t *testing.T) {
	c := config.Default()
	st, err := openStore(context.Background(), c, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := st.Store.(*store.MemoryStore); !ok {
		t.Errorf("store = %T, want *store.MemoryStore", st.Store)
	}
	if err := st.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
