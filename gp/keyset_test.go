package gp

import (
	"bytes"
	"testing"
)

func TestNewKeySet_ValidatesLength(t *testing.T) {
	good := make([]byte, 16)
	if _, err := NewKeySet(good, good, good, DivNone); err != nil {
		t.Fatalf("NewKeySet() with 16-byte keys: unexpected error %v", err)
	}
	if _, err := NewKeySet(make([]byte, 8), good, good, DivNone); err == nil {
		t.Errorf("NewKeySet() should reject an 8-byte ENC key")
	}
}

func TestDiversificationBlock_VISA2(t *testing.T) {
	// Scenario 4: seed = 00 01 02 ... 0F, i = 1.
	var seed [16]byte
	for i := range seed {
		seed[i] = byte(i)
	}
	want := []byte{0x00, 0x01, 0x04, 0x05, 0x06, 0x07, 0xF0, 0x01, 0x00, 0x01, 0x04, 0x05, 0x06, 0x07, 0x0F, 0x01}
	got := diversificationBlock(DivVISA2, seed, 1)
	if !bytes.Equal(got, want) {
		t.Errorf("diversificationBlock(VISA2) = % X, want % X", got, want)
	}
}

func TestDiversificationBlock_EMV(t *testing.T) {
	var seed [16]byte
	for i := range seed {
		seed[i] = byte(i)
	}
	got := diversificationBlock(DivEMV, seed, 2)
	wantSrc := []byte{0x04, 0x05, 0x06, 0x07, 0x08, 0x09}
	if !bytes.Equal(got[0:6], wantSrc) || !bytes.Equal(got[8:14], wantSrc) {
		t.Errorf("diversificationBlock(EMV) src mismatch: % X", got)
	}
	if got[6] != 0xF0 || got[7] != 0x02 || got[14] != 0x0F || got[15] != 0x02 {
		t.Errorf("diversificationBlock(EMV) markers mismatch: % X", got)
	}
}

func TestKeySet_Diversify_Idempotent(t *testing.T) {
	enc := make([]byte, 16)
	mac := make([]byte, 16)
	kek := make([]byte, 16)
	for i := 0; i < 16; i++ {
		enc[i], mac[i], kek[i] = byte(0x40+i), byte(0x50+i), byte(0x60+i)
	}
	var seed [16]byte
	for i := range seed {
		seed[i] = byte(i)
	}

	ks, err := NewKeySet(enc, mac, kek, DivVISA2)
	if err != nil {
		t.Fatalf("NewKeySet() error = %v", err)
	}
	if err := ks.Diversify(seed); err != nil {
		t.Fatalf("Diversify() error = %v", err)
	}
	firstENC := append([]byte{}, ks.ENC...)

	if err := ks.Diversify(seed); err != nil {
		t.Fatalf("second Diversify() error = %v", err)
	}
	if !bytes.Equal(firstENC, ks.ENC) {
		t.Errorf("Diversify() is not idempotent: ENC changed on second call")
	}
}

func TestKeySet_Diversify_NoneIsNoop(t *testing.T) {
	enc := make([]byte, 16)
	mac := make([]byte, 16)
	kek := make([]byte, 16)
	ks, err := NewKeySet(enc, mac, kek, DivNone)
	if err != nil {
		t.Fatalf("NewKeySet() error = %v", err)
	}
	var seed [16]byte
	if err := ks.Diversify(seed); err != nil {
		t.Fatalf("Diversify() error = %v", err)
	}
	if !bytes.Equal(ks.ENC, enc) {
		t.Errorf("Diversify(DivNone) should leave keys unchanged")
	}
	if !ks.IsDiversified() {
		t.Errorf("Diversify(DivNone) should still mark the key set diversified")
	}
}
