package outbox

import (
	"testing"

	"github.com/silverbackgo/silverback/internal/envelope"
)

func TestEncodeDecodeHeadersRoundTrip(t *testing.T) {
	h := envelope.NewHeaders()
	h.Add("x-message-id", []byte("abc"))
	h.Add("x-chunk-index", []byte("0"))
	h.Add("x-chunk-index", []byte("1"))

	blob, err := EncodeHeaders(h)
	if err != nil {
		t.Fatalf("EncodeHeaders() error = %v", err)
	}

	decoded, err := DecodeHeaders(blob)
	if err != nil {
		t.Fatalf("DecodeHeaders() error = %v", err)
	}

	got := decoded.All()
	want := h.All()
	if len(got) != len(want) {
		t.Fatalf("len(decoded) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Name != want[i].Name || string(got[i].Value) != string(want[i].Value) {
			t.Fatalf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDecodeHeadersEmptyBlobReturnsEmptyHeaders(t *testing.T) {
	decoded, err := DecodeHeaders(nil)
	if err != nil {
		t.Fatalf("DecodeHeaders(nil) error = %v", err)
	}
	if len(decoded.All()) != 0 {
		t.Fatalf("len(All()) = %d, want 0", len(decoded.All()))
	}
}
