package cipher

import (
	"bytes"
	"testing"
)

func TestCipherIdentityWholeBlocks(t *testing.T) {
	plain := bytes.Repeat([]byte("0123456789abcdef"), BlockSize/16*5) // 5 full blocks
	got, err := RoundTrip(plain, "123456")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plain, got) {
		t.Fatalf("round trip mismatch: lengths %d vs %d", len(plain), len(got))
	}
}

func TestCipherIdentityWithPartialTrailingBlock(t *testing.T) {
	full := bytes.Repeat([]byte{0xAB}, BlockSize*2)
	partial := bytes.Repeat([]byte{0xCD}, 800) // multiple of 8, not of 2048
	plain := append(full, partial...)
	got, err := RoundTrip(plain, "tidal-track-1")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plain, got) {
		t.Fatal("round trip mismatch with trailing partial block")
	}
}

func TestStripePatternAffectsEveryThirdBlock(t *testing.T) {
	plain := bytes.Repeat([]byte{0x11}, BlockSize*6)
	var enc bytes.Buffer
	if err := Encrypt(&enc, bytes.NewReader(plain), "track-x"); err != nil {
		t.Fatal(err)
	}
	out := enc.Bytes()
	for i := 0; i < 6; i++ {
		block := out[i*BlockSize : (i+1)*BlockSize]
		original := plain[i*BlockSize : (i+1)*BlockSize]
		changed := !bytes.Equal(block, original)
		wantChanged := transformBlock(i)
		if changed != wantChanged {
			t.Fatalf("block %d: changed=%v, want changed=%v", i, changed, wantChanged)
		}
	}
}

func TestDeriveKeyLength(t *testing.T) {
	k := DeriveKey("abc123")
	if len(k) != 16 {
		t.Fatalf("expected 16-byte key, got %d", len(k))
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	a := DeriveKey("same-id")
	b := DeriveKey("same-id")
	if !bytes.Equal(a, b) {
		t.Fatal("expected deterministic key derivation")
	}
	c := DeriveKey("different-id")
	if bytes.Equal(a, c) {
		t.Fatal("expected different ids to derive different keys")
	}
}
