package envelope

import "testing"

func TestHeadersPreserveInsertionOrderAcrossDuplicateNames(t *testing.T) {
	h := NewHeaders()
	h.Add("x-chunk-index", []byte("0"))
	h.Add("x-trace-baggage", []byte("a"))
	h.Add("x-chunk-index", []byte("1"))

	all := h.All()
	if len(all) != 3 {
		t.Fatalf("len(All()) = %d, want 3", len(all))
	}
	if all[0].Name != "x-chunk-index" || string(all[0].Value) != "0" {
		t.Fatalf("entry 0 = %+v, want x-chunk-index=0", all[0])
	}
	if all[1].Name != "x-trace-baggage" {
		t.Fatalf("entry 1 = %+v, want x-trace-baggage", all[1])
	}
	if all[2].Name != "x-chunk-index" || string(all[2].Value) != "1" {
		t.Fatalf("entry 2 = %+v, want x-chunk-index=1", all[2])
	}
}

func TestHeadersGetIsCaseInsensitiveButPreservesStoredCasing(t *testing.T) {
	h := NewHeaders()
	h.Add("X-Message-Id", []byte("abc"))

	v, ok := h.Get("x-message-id")
	if !ok || string(v) != "abc" {
		t.Fatalf("Get(lowercase) = (%q, %v), want (abc, true)", v, ok)
	}
	if h.All()[0].Name != "X-Message-Id" {
		t.Fatalf("stored name = %q, want original casing preserved", h.All()[0].Name)
	}
}

func TestHeadersValuesReturnsAllMatchesInOrder(t *testing.T) {
	h := NewHeaders()
	h.Add("x-chunk-index", []byte("0"))
	h.Add("x-chunk-index", []byte("1"))
	h.Add("x-chunk-index", []byte("2"))

	got := h.Values("X-CHUNK-INDEX")
	if len(got) != 3 {
		t.Fatalf("len(Values) = %d, want 3", len(got))
	}
	for i, v := range got {
		if string(v) != string(rune('0'+i)) {
			t.Fatalf("Values()[%d] = %q, want %q", i, v, string(rune('0'+i)))
		}
	}
}

func TestHeadersSetReplacesFirstMatchAndDropsOthers(t *testing.T) {
	h := NewHeaders()
	h.Add("x-batch-id", []byte("old1"))
	h.Add("x-trace-baggage", []byte("keep"))
	h.Add("x-batch-id", []byte("old2"))

	h.Set("x-batch-id", []byte("new"))

	all := h.All()
	if len(all) != 2 {
		t.Fatalf("len(All()) after Set = %d, want 2", len(all))
	}
	if all[0].Name != "x-batch-id" || string(all[0].Value) != "new" {
		t.Fatalf("entry 0 = %+v, want x-batch-id=new", all[0])
	}
	if all[1].Name != "x-trace-baggage" {
		t.Fatalf("entry 1 = %+v, want x-trace-baggage preserved", all[1])
	}
}

func TestHeadersDelRemovesAllMatches(t *testing.T) {
	h := NewHeaders()
	h.Add("x-chunk-index", []byte("0"))
	h.Add("x-chunk-index", []byte("1"))
	h.Add("x-batch-id", []byte("b"))

	h.Del("X-Chunk-Index")

	if len(h.All()) != 1 {
		t.Fatalf("len(All()) after Del = %d, want 1", len(h.All()))
	}
	if _, ok := h.Get("x-chunk-index"); ok {
		t.Fatalf("x-chunk-index still present after Del")
	}
}

func TestHeadersCloneIsIndependent(t *testing.T) {
	h := NewHeaders()
	h.Add("x-message-id", []byte("abc"))

	clone := h.Clone()
	clone.Set("x-message-id", []byte("xyz"))

	if v, _ := h.Get("x-message-id"); string(v) != "abc" {
		t.Fatalf("original mutated via clone: got %q, want abc", v)
	}
}

func TestEnvelopeCloneDeepCopiesBodyAndHeaders(t *testing.T) {
	env := New()
	env.Body = []byte("hello")
	env.Headers.Add("x-message-id", []byte("1"))

	clone := env.Clone()
	clone.Body[0] = 'H'
	clone.Headers.Set("x-message-id", []byte("2"))

	if env.Body[0] != 'h' {
		t.Fatalf("original body mutated via clone")
	}
	if v, _ := env.Headers.Get("x-message-id"); string(v) != "1" {
		t.Fatalf("original headers mutated via clone: got %q, want 1", v)
	}
}

func TestStaticEndpointResolverRoundTrips(t *testing.T) {
	r := StaticEndpointResolver{Endpoint: Endpoint{Name: "orders"}}

	resolved, err := r.Resolve(nil)
	if err != nil || resolved.Name != "orders" {
		t.Fatalf("Resolve() = (%+v, %v), want (orders, nil)", resolved, err)
	}

	s, err := r.Serialize(resolved)
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	back, err := r.DeserializeEndpoint(s)
	if err != nil || back.Name != "orders" {
		t.Fatalf("DeserializeEndpoint(%q) = (%+v, %v), want (orders, nil)", s, back, err)
	}
}
