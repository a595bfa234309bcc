package program

import "testing"

func TestGenerator_Encode(t *testing.T) {
	g := &generator{alphabet: []byte(letters)}
	tests := []struct {
		n    uint64
		want string
	}{
		{1, "a"},
		{26, "z"},
		{27, "aa"},
		{52, "az"},
		{702, "zz"},
		{703, "aaa"},
	}
	for _, tt := range tests {
		if got := g.encode(tt.n); got != tt.want {
			t.Errorf("encode(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestGenerator_Next(t *testing.T) {
	skip := map[string]bool{}
	g := newGenerator(3, "member", "", func(s string) bool { return skip[s] })
	first := g.next()
	skip[first] = true

	g = newGenerator(3, "member", "", func(s string) bool { return skip[s] })
	seen := make(map[string]bool)
	for range 1000 {
		n := g.next()
		if n == first {
			t.Fatalf("next returned skipped name %q", n)
		}
		if javaKeywords[n] {
			t.Fatalf("next returned keyword %q", n)
		}
		if seen[n] {
			t.Fatalf("next returned %q twice", n)
		}
		seen[n] = true
	}

	if a, b := newGenerator(3, "member", "", nil).next(), newGenerator(3, "member", "", nil).next(); a != b {
		t.Errorf("same seed gives %q and %q", a, b)
	}
}
