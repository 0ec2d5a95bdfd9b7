package tokens

import (
	"strings"
	"testing"
)

func TestDigest_StableAndShort(t *testing.T) {
	a := Digest("123456:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw")
	b := Digest("123456:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw")
	if a != b {
		t.Fatalf("digest not stable: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("digest length = %d, want 16", len(a))
	}
	if strings.Contains(a, ":") {
		t.Fatalf("digest leaks token structure: %q", a)
	}
}

func TestDigest_DistinguishesTokens(t *testing.T) {
	if Digest("token-a") == Digest("token-b") {
		t.Fatal("distinct tokens produced the same digest")
	}
}
