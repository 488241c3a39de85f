package hash

import (
	"testing"
)

func TestSHA256(t *testing.T) {
	tests := []struct {
		input []byte
		want  string
	}{
		{
			[]byte("hello"),
			"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		},
		{
			[]byte(""),
			"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			got := SHA256(tt.input)
			if got != tt.want {
				t.Errorf("SHA256(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestSHA256String(t *testing.T) {
	got := SHA256String("hello")
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	if got != want {
		t.Errorf("SHA256String(hello) = %s, want %s", got, want)
	}
}

func TestSHA256Short(t *testing.T) {
	hash := SHA256([]byte("hello"))

	tests := []struct {
		n    int
		want string
	}{
		{8, hash[:8]},
		{16, hash[:16]},
		{1000, hash},
	}

	for _, tt := range tests {
		if got := SHA256Short([]byte("hello"), tt.n); got != tt.want {
			t.Errorf("SHA256Short(hello, %d) = %s, want %s", tt.n, got, tt.want)
		}
	}
}

func TestUint64(t *testing.T) {
	// 0x2cf24dba5fb0a30e is the first eight bytes of sha256("hello").
	if got := Uint64("hello"); got != 0x2cf24dba5fb0a30e {
		t.Errorf("Uint64(hello) = %#x, want 0x2cf24dba5fb0a30e", got)
	}
	if Uint64("a") == Uint64("b") {
		t.Error("Uint64 collided for distinct inputs")
	}
}

func TestDigest(t *testing.T) {
	a := Digest([]string{"ab", "c"})
	b := Digest([]string{"a", "bc"})

	if a == b {
		t.Error("Digest should separate parts")
	}
	if len(a) != 16 {
		t.Errorf("len(Digest) = %d, want 16", len(a))
	}
	if a != Digest([]string{"ab", "c"}) {
		t.Error("Digest is not deterministic")
	}
}
