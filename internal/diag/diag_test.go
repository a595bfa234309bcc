package diag

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	e := New(LayoutDivergence, "no fixed point after %d rounds", 8).In("a/B").At("m()V", 12)
	got := e.Error()
	for _, want := range []string{"layout_divergence", "a/B.m()V@12", "8 rounds"} {
		if !strings.Contains(got, want) {
			t.Errorf("Error() = %q, missing %q", got, want)
		}
	}
}

func TestIsKindThroughWrapping(t *testing.T) {
	base := errors.New("short read")
	e := Wrap(MalformedUnit, base, "constant pool").In("x.class")
	wrapped := fmt.Errorf("pipeline: %w", e)

	if !IsKind(wrapped, MalformedUnit) {
		t.Fatal("IsKind(MalformedUnit) = false, want true")
	}
	if IsKind(wrapped, UnresolvedSymbol) {
		t.Fatal("IsKind(UnresolvedSymbol) = true, want false")
	}
	if !errors.Is(wrapped, base) {
		t.Fatal("errors.Is(base) = false, want true")
	}
}

func TestFatal(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{MalformedUnit, false},
		{UnresolvedSymbol, true},
		{UnsupportedConstruct, false},
		{LayoutDivergence, false},
	}
	for _, tt := range tests {
		if got := tt.kind.Fatal(); got != tt.want {
			t.Errorf("%s.Fatal() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestErrorsAccumulate(t *testing.T) {
	var d Errors
	d.Add(New(UnsupportedConstruct, "jsr"))
	d.Add(New(UnsupportedConstruct, "constructor"))
	if d.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", d.Len())
	}
	if d.Items()[1].Msg != "constructor" {
		t.Errorf("Items()[1].Msg = %q", d.Items()[1].Msg)
	}
}
