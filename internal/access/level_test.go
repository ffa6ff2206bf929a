package access

import (
	"encoding/json"
	"testing"
)

func TestLevelOrdering(t *testing.T) {
	if !(LevelNone < LevelRead && LevelRead < LevelWrite && LevelWrite < LevelAdmin) {
		t.Fatal("levels are not strictly ordered")
	}
}

func TestWidenAndCap(t *testing.T) {
	cases := []struct {
		a, b       Level
		widen, cap Level
	}{
		{LevelNone, LevelNone, LevelNone, LevelNone},
		{LevelNone, LevelAdmin, LevelAdmin, LevelNone},
		{LevelRead, LevelWrite, LevelWrite, LevelRead},
		{LevelWrite, LevelWrite, LevelWrite, LevelWrite},
		{LevelAdmin, LevelRead, LevelAdmin, LevelRead},
	}
	for _, tc := range cases {
		if got := Widen(tc.a, tc.b); got != tc.widen {
			t.Errorf("Widen(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.widen)
		}
		if got := Cap(tc.a, tc.b); got != tc.cap {
			t.Errorf("Cap(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.cap)
		}
	}
}

func TestWidenIsCommutativeAndAssociative(t *testing.T) {
	levels := []Level{LevelNone, LevelRead, LevelWrite, LevelAdmin}
	for _, a := range levels {
		for _, b := range levels {
			if Widen(a, b) != Widen(b, a) {
				t.Fatalf("Widen(%v, %v) not commutative", a, b)
			}
			if Widen(a, a) != a {
				t.Fatalf("Widen(%v, %v) not idempotent", a, a)
			}
			for _, c := range levels {
				if Widen(Widen(a, b), c) != Widen(a, Widen(b, c)) {
					t.Fatalf("Widen not associative for %v, %v, %v", a, b, c)
				}
			}
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"none":  LevelNone,
		"read":  LevelRead,
		"Write": LevelWrite,
		"ADMIN": LevelAdmin,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("superuser"); err == nil {
		t.Error("ParseLevel accepted an unknown level")
	}
}

func TestLevelJSONRoundTrip(t *testing.T) {
	raw, err := json.Marshal(LevelWrite)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `"write"` {
		t.Fatalf("marshal = %s, want \"write\"", raw)
	}
	var level Level
	if err := json.Unmarshal([]byte(`"admin"`), &level); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if level != LevelAdmin {
		t.Fatalf("unmarshal = %v, want admin", level)
	}
	if err := json.Unmarshal([]byte(`"root"`), &level); err == nil {
		t.Error("unmarshal accepted an unknown level")
	}
}
