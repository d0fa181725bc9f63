package crdt

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/vango-dev/docsync/pkg/protocol"
)

func mustInsert(t *testing.T, d *Doc, index int, text string) []byte {
	t.Helper()
	u, err := d.Insert(index, text)
	if err != nil {
		t.Fatalf("Insert(%d, %q) error = %v", index, text, err)
	}
	return u
}

func mustDelete(t *testing.T, d *Doc, index, n int) []byte {
	t.Helper()
	u, err := d.Delete(index, n)
	if err != nil {
		t.Fatalf("Delete(%d, %d) error = %v", index, n, err)
	}
	return u
}

func mustApply(t *testing.T, d *Doc, u []byte) Result {
	t.Helper()
	res, err := d.ApplyUpdate(u)
	if err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}
	return res
}

func TestLocalEdits(t *testing.T) {
	d := New(1)
	mustInsert(t, d, 0, "hello")
	mustInsert(t, d, 5, " world")
	mustInsert(t, d, 0, ">")
	if got := d.String(); got != ">hello world" {
		t.Fatalf("String() = %q, want %q", got, ">hello world")
	}

	mustDelete(t, d, 0, 1)
	mustDelete(t, d, 5, 6)
	if got := d.String(); got != "hello" {
		t.Errorf("String() = %q, want %q", got, "hello")
	}
	if d.Len() != 5 {
		t.Errorf("Len() = %d, want 5", d.Len())
	}

	mustInsert(t, d, 2, "LL")
	if got := d.String(); got != "heLLllo" {
		t.Errorf("String() = %q, want %q", got, "heLLllo")
	}
}

func TestLocalEditErrors(t *testing.T) {
	ro := New(0)
	if _, err := ro.Insert(0, "x"); err != ErrReadOnly {
		t.Errorf("Insert on read-only replica: err = %v, want ErrReadOnly", err)
	}

	d := New(1)
	if _, err := d.Insert(1, "x"); err != ErrIndexOutOfRange {
		t.Errorf("Insert past end: err = %v, want ErrIndexOutOfRange", err)
	}
	mustInsert(t, d, 0, "ab")
	if _, err := d.Delete(1, 2); err != ErrIndexOutOfRange {
		t.Errorf("Delete past end: err = %v, want ErrIndexOutOfRange", err)
	}
}

func TestConvergenceConcurrentInserts(t *testing.T) {
	a := New(1)
	b := New(2)

	base := mustInsert(t, a, 0, "ac")
	mustApply(t, b, base)

	ua := mustInsert(t, a, 1, "X")
	ub := mustInsert(t, b, 1, "Y")

	mustApply(t, a, ub)
	mustApply(t, b, ua)

	if a.String() != b.String() {
		t.Fatalf("replicas diverged: %q vs %q", a.String(), b.String())
	}
	if len(a.String()) != 4 || a.String()[0] != 'a' || a.String()[3] != 'c' {
		t.Errorf("unexpected merge result %q", a.String())
	}
}

func TestConvergenceConcurrentDeleteAndInsert(t *testing.T) {
	a := New(1)
	b := New(2)
	mustApply(t, b, mustInsert(t, a, 0, "abc"))

	del := mustDelete(t, a, 1, 1)   // remove "b"
	ins := mustInsert(t, b, 2, "Z") // insert after "b"
	mustApply(t, a, ins)
	mustApply(t, b, del)

	if a.String() != "aZc" || b.String() != "aZc" {
		t.Errorf("got %q and %q, want both %q", a.String(), b.String(), "aZc")
	}
}

func TestIdempotence(t *testing.T) {
	a := New(1)
	u := mustInsert(t, a, 0, "hello")

	b := New(0)
	first := mustApply(t, b, u)
	if !first.Changed() || first.Integrated != 5 {
		t.Fatalf("first apply: %+v", first)
	}
	once := b.String()

	second := mustApply(t, b, u)
	if second.Changed() {
		t.Errorf("second apply reported changes: %+v", second)
	}
	if b.String() != once {
		t.Errorf("String() after duplicate = %q, want %q", b.String(), once)
	}
}

func TestReorderedDelivery(t *testing.T) {
	a := New(7)
	u1 := mustInsert(t, a, 0, "abc")
	u2 := mustInsert(t, a, 3, "def")
	u3 := mustDelete(t, a, 1, 2)
	want := a.String()

	fresh := New(0)
	r3 := mustApply(t, fresh, u3)
	if !r3.Changed() || r3.Integrated != 0 {
		t.Errorf("u3 first: %+v, want buffered", r3)
	}
	mustApply(t, fresh, u2)
	if fresh.PendingCount() == 0 {
		t.Error("u2 before u1 should stay buffered")
	}
	mustApply(t, fresh, u1)

	if fresh.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0", fresh.PendingCount())
	}
	if got := fresh.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestConvergenceRandomOrderWithDuplicates(t *testing.T) {
	a := New(1)
	b := New(2)
	c := New(3)

	var updates [][]byte
	updates = append(updates, mustInsert(t, a, 0, "The quick fox"))
	mustApply(t, b, updates[0])
	mustApply(t, c, updates[0])

	updates = append(updates, mustInsert(t, b, 4, "very "))
	updates = append(updates, mustDelete(t, c, 10, 3))
	updates = append(updates, mustInsert(t, c, 10, "cat"))
	updates = append(updates, mustInsert(t, a, 13, "!"))
	updates = append(updates, mustDelete(t, b, 0, 4))

	reference := New(0)
	for _, u := range updates {
		mustApply(t, reference, u)
	}
	want := reference.String()

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		replica := New(0)
		order := rng.Perm(len(updates))
		for _, i := range order {
			mustApply(t, replica, updates[i])
			if rng.Intn(2) == 0 {
				mustApply(t, replica, updates[i])
			}
		}
		if got := replica.String(); got != want {
			t.Fatalf("trial %d order %v: String() = %q, want %q", trial, order, got, want)
		}
	}
}

func TestDiffUpdate(t *testing.T) {
	a := New(1)
	mustInsert(t, a, 0, "hello")

	b := New(2)
	mustApply(t, b, a.EncodeStateAsUpdate())
	mustInsert(t, a, 5, " world")

	diff, err := a.DiffUpdate(b.EncodeStateVector())
	if err != nil {
		t.Fatalf("DiffUpdate() error = %v", err)
	}
	if len(diff) >= len(a.EncodeStateAsUpdate()) {
		t.Errorf("diff (%d bytes) should be smaller than full state (%d bytes)", len(diff), len(a.EncodeStateAsUpdate()))
	}

	res := mustApply(t, b, diff)
	if res.Integrated != 6 {
		t.Errorf("Integrated = %d, want 6", res.Integrated)
	}
	if b.String() != "hello world" {
		t.Errorf("String() = %q, want %q", b.String(), "hello world")
	}

	empty, err := a.DiffUpdate(a.EncodeStateVector())
	if err != nil {
		t.Fatalf("DiffUpdate(own state vector) error = %v", err)
	}
	if !bytes.Equal(empty, []byte{0x00}) {
		t.Errorf("DiffUpdate(own state vector) = %x, want empty update", empty)
	}
}

func TestEmptyDocState(t *testing.T) {
	d := New(0)
	if d.String() != "" {
		t.Errorf("String() = %q, want empty", d.String())
	}
	if sv := d.EncodeStateVector(); !bytes.Equal(sv, []byte{0x00}) {
		t.Errorf("EncodeStateVector() = %x, want 00", sv)
	}
	full, err := d.DiffUpdate(nil)
	if err != nil || !bytes.Equal(full, []byte{0x00}) {
		t.Errorf("DiffUpdate(nil) = %x, %v", full, err)
	}
}

func TestStateVector(t *testing.T) {
	a := New(3)
	mustInsert(t, a, 0, "ab")
	b := New(9)
	mustApply(t, b, a.EncodeStateAsUpdate())
	mustDelete(t, b, 0, 1)

	sv, err := DecodeStateVector(b.EncodeStateVector())
	if err != nil {
		t.Fatalf("DecodeStateVector() error = %v", err)
	}
	if sv[3] != 2 || sv[9] != 1 || len(sv) != 2 {
		t.Errorf("state vector = %v, want map[3:2 9:1]", sv)
	}
	if got := b.Clients(); len(got) != 2 || got[0] != 3 || got[1] != 9 {
		t.Errorf("Clients() = %v, want [3 9]", got)
	}
}

func TestSnapshotIncludesBufferedOps(t *testing.T) {
	a := New(1)
	u1 := mustInsert(t, a, 0, "x")
	u2 := mustInsert(t, a, 1, "y")

	partial := New(0)
	mustApply(t, partial, u2)

	restored := New(0)
	mustApply(t, restored, partial.EncodeStateAsUpdate())
	if restored.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d, want 1", restored.PendingCount())
	}
	mustApply(t, restored, u1)
	if restored.String() != "xy" {
		t.Errorf("String() = %q, want %q", restored.String(), "xy")
	}
}

func TestApplyUpdateMalformed(t *testing.T) {
	a := New(1)
	valid := mustInsert(t, a, 0, "hi")

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", valid[:len(valid)-1]},
		{"trailing", append(append([]byte{}, valid...), 0x00)},
		{"unknown kind", []byte{0x01, 0x09, 0x01, 0x00, 0x01, 0x00, 0x00}},
		{"reserved client", []byte{0x01, 0x01, 0x00, 0x00, 0x01, 0x00, 0x00, 'a'}},
		{"delete head", []byte{0x01, 0x02, 0x01, 0x00, 0x01, 0x00, 0x00}},
		{"invalid rune", []byte{0x01, 0x01, 0x01, 0x00, 0x01, 0x00, 0x00, 0x80, 0xB0, 0x03}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := New(0)
			if _, err := d.ApplyUpdate(tc.data); !protocol.IsDecodeError(err) {
				t.Fatalf("ApplyUpdate() error = %v, want DecodeError", err)
			}
			if d.Len() != 0 || d.PendingCount() != 0 {
				t.Error("malformed update mutated the replica")
			}
		})
	}
}

func TestDiffUpdateMalformedStateVector(t *testing.T) {
	d := New(1)
	if _, err := d.DiffUpdate([]byte{0x02, 0x01}); !protocol.IsDecodeError(err) {
		t.Errorf("DiffUpdate() error = %v, want DecodeError", err)
	}
}
