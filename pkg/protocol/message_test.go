package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"step1", Message{Type: MessageSync, Sync: SyncStep1, Payload: []byte{0x00}}},
		{"step2", Message{Type: MessageSync, Sync: SyncStep2, Payload: []byte{0x01, 0x02}}},
		{"update", Message{Type: MessageSync, Sync: SyncUpdate, Payload: bytes.Repeat([]byte{0xAB}, 300)}},
		{"awareness", Message{Type: MessageAwareness, Payload: []byte(`{"x":1}`)}},
		{"empty payload", Message{Type: MessageAwareness, Payload: []byte{}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(tc.msg.Encode())
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got.Type != tc.msg.Type || got.Sync != tc.msg.Sync || !bytes.Equal(got.Payload, tc.msg.Payload) {
				t.Errorf("Decode() = %+v, want %+v", got, tc.msg)
			}
		})
	}
}

func TestEncodeSyncLayout(t *testing.T) {
	got := EncodeSync(SyncUpdate, []byte{0xAA, 0xBB})
	want := []byte{0x00, 0x01, 0x02, 0xAA, 0xBB}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeSync() = %x, want %x", got, want)
	}

	got = EncodeAwareness([]byte{0xCC})
	want = []byte{0x01, 0x01, 0xCC}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeAwareness() = %x, want %x", got, want)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, io.ErrUnexpectedEOF},
		{"unknown message type", []byte{0x07, 0x00}, ErrUnknownMessageType},
		{"unknown sync type", []byte{0x00, 0x09, 0x00}, ErrUnknownSyncType},
		{"missing sync type", []byte{0x00}, io.ErrUnexpectedEOF},
		{"truncated payload", []byte{0x01, 0x05, 0x01}, io.ErrUnexpectedEOF},
		{"trailing bytes", []byte{0x01, 0x01, 0xCC, 0xDD}, ErrTrailingBytes},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.data)
			if err == nil {
				t.Fatal("Decode() should fail")
			}
			if !IsDecodeError(err) {
				t.Errorf("error %v is not a DecodeError", err)
			}
			if !errors.Is(err, tc.want) {
				t.Errorf("error %v does not wrap %v", err, tc.want)
			}
		})
	}
}

func TestNewDecodeErrorDoesNotDoubleWrap(t *testing.T) {
	inner := NewDecodeError("update", io.ErrUnexpectedEOF)
	outer := NewDecodeError("message", inner)
	if outer != inner {
		t.Errorf("NewDecodeError rewrapped an existing DecodeError: %v", outer)
	}
}

func TestTypeStrings(t *testing.T) {
	if MessageSync.String() != "Sync" || MessageAwareness.String() != "Awareness" {
		t.Error("unexpected MessageType strings")
	}
	if SyncStep1.String() != "Step1" || SyncUpdate.String() != "Update" || SyncStep2.String() != "Step2" {
		t.Error("unexpected SyncType strings")
	}
	if !SyncStep2.CarriesUpdate() || SyncStep1.CarriesUpdate() {
		t.Error("CarriesUpdate mismatch")
	}
}
