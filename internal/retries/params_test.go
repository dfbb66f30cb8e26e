package retries

import "testing"

func TestDecodeParamsKeepsIntegers(t *testing.T) {
	got, err := DecodeParams([]byte(`{"id":9007199254740993,"price":9.5,"nested":{"qty":[1,2]}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["id"] != int64(9007199254740993) {
		t.Fatalf("expected exact int64, got %#v", got["id"])
	}
	if got["price"] != 9.5 {
		t.Fatalf("expected float64 9.5, got %#v", got["price"])
	}
	qty := got["nested"].(map[string]any)["qty"].([]any)
	if qty[0] != int64(1) || qty[1] != int64(2) {
		t.Fatalf("unexpected nested numbers %#v", qty)
	}

	if m, err := DecodeParams([]byte(`[1,2]`)); err != nil || m != nil {
		t.Fatalf("non-object document should decode to nil map, got %v %v", m, err)
	}
	if _, err := DecodeParams([]byte(`{`)); err == nil {
		t.Fatal("expected error for truncated json")
	}
}
