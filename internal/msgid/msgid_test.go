package msgid

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"<abc@x>", "abc@x"},
		{"abc@x", "abc@x"},
		{"<a@x> <b@y>", "b@y"},
		{"  <weird id\t@host> ", "weirdid@host"},
		{"<a\"b(c)@x>", "abc@x"},
		{"<CAF+x=y_z{1}|~@mail.example.com>", "CAF+x=y_z{1}|~@mail.example.com"},
		{"junk <only@this>", "only@this"},
		{"<unterminated@host", "unterminated@host"},
	}

	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	for _, in := range []string{"<a@b>", "x y z", "<1.2.3@[host]>"} {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize(Normalize(%q)) = %q, want %q", in, twice, once)
		}
	}
}

func TestList(t *testing.T) {
	got := List("<root@x>\r\n <mid@x> <root@x> <>")
	want := []string{"root@x", "mid@x"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("List = %v, want %v", got, want)
	}

	got = List("a@x b@y")
	want = []string{"a@x", "b@y"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("List without brackets = %v, want %v", got, want)
	}

	if got := List(""); len(got) != 0 {
		t.Fatalf("List(\"\") = %v, want empty", got)
	}
}
