package classfile

import (
	"bytes"
	"testing"
)

func TestParseMethodDesc(t *testing.T) {
	d, err := ParseMethodDesc("(IJ[Ljava/lang/String;D)Ljava/lang/Object;")
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Args) != 4 || d.Args[2] != "[Ljava/lang/String;" {
		t.Errorf("Args = %v", d.Args)
	}
	if d.Ret != "Ljava/lang/Object;" {
		t.Errorf("Ret = %q", d.Ret)
	}
	if got := d.ArgSlots(); got != 6 {
		t.Errorf("ArgSlots() = %d, want 6", got)
	}
	for _, bad := range []string{"", "()", "(I", "(Q)V", "()VV", "(L;)V"} {
		if _, err := ParseMethodDesc(bad); err == nil {
			t.Errorf("ParseMethodDesc(%q) succeeded", bad)
		}
	}
}

func rename(m map[string]string) func(string) string {
	return func(s string) string {
		if r, ok := m[s]; ok {
			return r
		}
		return s
	}
}

func TestRemapDesc(t *testing.T) {
	fn := rename(map[string]string{"a/Foo": "x/a", "a/Bar": "x/b"})
	got := RemapDesc("(La/Foo;I[[La/Bar;)La/Foo;", fn)
	if want := "(Lx/a;I[[Lx/b;)Lx/a;"; got != want {
		t.Errorf("RemapDesc = %q, want %q", got, want)
	}
	if got := RemapClassName("[La/Foo;", fn); got != "[Lx/a;" {
		t.Errorf("RemapClassName(array) = %q", got)
	}
}

func TestRemapSignature(t *testing.T) {
	fn := rename(map[string]string{
		"a/Outer":       "x/o",
		"a/Outer$Inner": "x/o$i",
		"a/Box":         "x/b",
	})
	tests := []struct{ in, want string }{
		{"La/Box<Ljava/lang/String;>;", "Lx/b<Ljava/lang/String;>;"},
		{"<T:La/Box<*>;U::Ljava/lang/Comparable<-TT;>;>Ljava/lang/Object;",
			"<T:Lx/b<*>;U::Ljava/lang/Comparable<-TT;>;>Ljava/lang/Object;"},
		{"<T:Ljava/lang/Object;>(TT;[La/Box<+TT;>;)La/Outer<TT;>.Inner<TT;>;^La/Box;",
			"<T:Ljava/lang/Object;>(TT;[Lx/b<+TT;>;)Lx/o<TT;>.i<TT;>;^Lx/b;"},
	}
	for _, tt := range tests {
		got, err := RemapSignature(tt.in, fn)
		if err != nil {
			t.Errorf("RemapSignature(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("RemapSignature(%q)\n got  %q\n want %q", tt.in, got, tt.want)
		}
	}
	if _, err := RemapSignature("La/Box<", fn); err == nil {
		t.Error("truncated signature accepted")
	}
}

func TestModifiedUTF8(t *testing.T) {
	s := "a\x00b\U0001F600é"
	enc := EncodeString(s)
	if bytes.IndexByte(enc, 0) >= 0 {
		t.Error("encoded form contains a NUL byte")
	}
	// The supplementary character is two surrogates of three bytes each.
	if want := 1 + 2 + 1 + 6 + 2; len(enc) != want {
		t.Errorf("len = %d, want %d", len(enc), want)
	}
	dec, err := DecodeString(enc)
	if err != nil {
		t.Fatal(err)
	}
	if dec != s {
		t.Errorf("decoded %q, want %q", dec, s)
	}
	if _, err := DecodeChars([]byte{0xe0, 0x80}); err == nil {
		t.Error("truncated sequence accepted")
	}
}

func TestEncodeStackMap_CompactForms(t *testing.T) {
	obj := VType{Tag: VObject, Index: 3}
	initial := []VType{obj}
	frames := []Frame{
		{Offset: 5, Locals: []VType{obj}},                                  // same
		{Offset: 9, Locals: []VType{obj}, Stack: []VType{{Tag: VInteger}}}, // same_locals_1
		{Offset: 12, Locals: []VType{obj, {Tag: VInteger}, {Tag: VLong}}},  // append 2
		{Offset: 20, Locals: []VType{obj}},                                 // chop 2
		{Offset: 200, Locals: []VType{obj}, Stack: []VType{obj, obj}},      // full
	}
	data := EncodeStackMap(frames, initial)
	s := NewStream(data)
	if n, _ := s.ReadUint16(); n != 5 {
		t.Fatalf("count = %d, want 5", n)
	}
	decoded, err := DecodeStackMap(data, initial)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != len(frames) {
		t.Fatalf("decoded %d frames", len(decoded))
	}
	for i, f := range decoded {
		if f.Offset != frames[i].Offset || len(f.Locals) != len(frames[i].Locals) || len(f.Stack) != len(frames[i].Stack) {
			t.Errorf("frame %d = %+v, want %+v", i, f, frames[i])
		}
	}
	// same (delta 5), then same_locals_1 (delta 3) with an int on the stack,
	// then append 2 with a u2 delta of 2.
	if want := []byte{5, 64 + 3, VInteger, 253, 0, 2}; !bytes.Equal(data[2:8], want) {
		t.Errorf("frames start % x, want % x", data[2:8], want)
	}
}

func TestCompressLocals(t *testing.T) {
	slots := []VType{{Tag: VInteger}, {Tag: VLong}, {Tag: VTop}, {Tag: VTop}, {Tag: VTop}}
	got := CompressLocals(slots)
	if len(got) != 2 || got[1].Tag != VLong {
		t.Errorf("CompressLocals = %+v, want [int long]", got)
	}
}
