package gp

import "testing"

func TestFlagsFor_SCP02(t *testing.T) {
	tests := []struct {
		i            byte
		implicit     bool
		oneBaseKey   bool
		icvEncrypted bool
		preAPDUMAC   bool
	}{
		{0x04, false, false, true, false},
		{0x05, false, true, true, false},
		{0x0A, true, false, false, false},
		{0x0B, true, true, false, false},
		{0x14, false, false, true, true},
		{0x15, false, true, true, true},
		{0x1A, true, false, false, true},
		{0x1B, true, true, false, true},
	}
	for _, tc := range tests {
		f := flagsFor(2, tc.i)
		if f.implicit != tc.implicit || f.oneBaseKey != tc.oneBaseKey ||
			f.icvEncrypted != tc.icvEncrypted || f.preAPDUMAC != tc.preAPDUMAC {
			t.Errorf("flagsFor(2, %02X) = %+v, want implicit=%v oneBaseKey=%v icvEncrypted=%v preAPDUMAC=%v",
				tc.i, f, tc.implicit, tc.oneBaseKey, tc.icvEncrypted, tc.preAPDUMAC)
		}
	}
}

func TestFlagsFor_SCP01(t *testing.T) {
	if f := flagsFor(1, 0x05); f.icvEncrypted {
		t.Errorf("flagsFor(1, 0x05).icvEncrypted = true, want false")
	}
	if f := flagsFor(1, 0x15); !f.icvEncrypted {
		t.Errorf("flagsFor(1, 0x15).icvEncrypted = false, want true")
	}
}

func TestVariantFor_RoundTrip(t *testing.T) {
	variants := []Variant{SCP01_05, SCP01_15, SCP02_04, SCP02_05, SCP02_0A, SCP02_0B, SCP02_14, SCP02_15, SCP02_1A, SCP02_1B}
	for _, v := range variants {
		got, err := variantFor(v.Major(), v.iParam())
		if err != nil {
			t.Fatalf("variantFor(%d, %02X) error = %v", v.Major(), v.iParam(), err)
		}
		if got != v {
			t.Errorf("variantFor(%d, %02X) = %v, want %v", v.Major(), v.iParam(), got, v)
		}
	}
}

func TestVariantFor_Undefined(t *testing.T) {
	if _, err := variantFor(2, 0xFF); err == nil {
		t.Errorf("variantFor(2, 0xFF) should fail for an undefined i-parameter")
	}
}

func TestIsImplicit(t *testing.T) {
	for _, v := range []Variant{SCP02_0A, SCP02_0B, SCP02_1A, SCP02_1B} {
		if !isImplicit(v) {
			t.Errorf("isImplicit(%v) = false, want true", v)
		}
	}
	for _, v := range []Variant{SCP02_04, SCP02_05, SCP02_14, SCP02_15, SCP01_05} {
		if isImplicit(v) {
			t.Errorf("isImplicit(%v) = true, want false", v)
		}
	}
}

func TestSecurityLevel_Normalize(t *testing.T) {
	if got := LevelENC.normalize(); got&LevelMAC == 0 {
		t.Errorf("SecurityLevel(ENC).normalize() must imply MAC, got %02X", byte(got))
	}
}

func TestSecurityLevel_Validate(t *testing.T) {
	if err := (LevelMAC | LevelRMAC).validate(2); err != nil {
		t.Errorf("MAC|RMAC on SCP02 should validate, got %v", err)
	}
	if err := (LevelMAC | LevelRMAC).validate(1); err == nil {
		t.Errorf("RMAC on SCP01 should fail to validate")
	}
	if err := SecurityLevel(0x08).validate(2); err == nil {
		t.Errorf("undefined security-level bits should fail to validate")
	}
}
