package gp

// Variant is the SCP variant code of §3: the pair (major, "i"-parameter
// byte). Any means "negotiate SCP01_05 or SCP02_15 based on the card's
// INITIALIZE UPDATE reply" per §4.4 step 5.
type Variant int

const (
	Any Variant = iota
	SCP01_05
	SCP01_15
	SCP02_04
	SCP02_05
	SCP02_0A
	SCP02_0B
	SCP02_14
	SCP02_15
	SCP02_1A
	SCP02_1B
)

func (v Variant) String() string {
	switch v {
	case Any:
		return "any"
	case SCP01_05:
		return "SCP01_05"
	case SCP01_15:
		return "SCP01_15"
	case SCP02_04:
		return "SCP02_04"
	case SCP02_05:
		return "SCP02_05"
	case SCP02_0A:
		return "SCP02_0A"
	case SCP02_0B:
		return "SCP02_0B"
	case SCP02_14:
		return "SCP02_14"
	case SCP02_15:
		return "SCP02_15"
	case SCP02_1A:
		return "SCP02_1A"
	case SCP02_1B:
		return "SCP02_1B"
	default:
		return "unknown"
	}
}

// Major returns the SCP major version (1 or 2), or 0 for Any.
func (v Variant) Major() int {
	switch v {
	case SCP01_05, SCP01_15:
		return 1
	case SCP02_04, SCP02_05, SCP02_0A, SCP02_0B, SCP02_14, SCP02_15, SCP02_1A, SCP02_1B:
		return 2
	default:
		return 0
	}
}

// iParam returns the "i"-parameter byte encoded by this variant.
func (v Variant) iParam() byte {
	switch v {
	case SCP01_05:
		return 0x05
	case SCP01_15:
		return 0x15
	case SCP02_04:
		return 0x04
	case SCP02_05:
		return 0x05
	case SCP02_0A:
		return 0x0A
	case SCP02_0B:
		return 0x0B
	case SCP02_14:
		return 0x14
	case SCP02_15:
		return 0x15
	case SCP02_1A:
		return 0x1A
	case SCP02_1B:
		return 0x1B
	default:
		return 0
	}
}

// scpFlags is the four-flag decomposition of the "i"-parameter named in §3
// and §9's design note: precomputed once at handshake time so the wrap path
// never branches on the variant enum itself.
type scpFlags struct {
	major        int
	preAPDUMAC   bool // MAC placement: pre-APDU (true) or post-APDU (false)
	icvEncrypted bool // ICV encryption on/off
	oneBaseKey   bool // 1 base key (true) vs 3 base keys (false)
	implicit     bool // implicit (true) vs explicit (false) channel initiation
}

// flagsFor decodes the "i"-parameter byte into scpFlags for the given
// major. SCP01's two defined variants (i=05/15) only carry the ICV-
// encryption bit; SCP02's eight variants (i=04/05/0A/0B/14/15/1A/1B) carry
// all four bits, per the GlobalPlatform 2.1.1 Amendment E bit layout:
// bit0 (0x01) = 1 base key (vs 3), bit2 (0x04) = ICV encrypted for C-MAC,
// bit3 (0x08) = implicit initiation, bit4 (0x10) = MAC on unmodified APDU
// (pre-APDU-MAC) when set, post-APDU-MAC when clear.
func flagsFor(major int, i byte) scpFlags {
	f := scpFlags{major: major}
	switch major {
	case 1:
		f.icvEncrypted = i == 0x15
		f.preAPDUMAC = false
		f.oneBaseKey = false
		f.implicit = false
	case 2:
		f.oneBaseKey = i&0x01 != 0
		f.icvEncrypted = i&0x04 != 0
		f.implicit = i&0x08 != 0
		f.preAPDUMAC = i&0x10 != 0
	}
	return f
}

// variantFor returns the canonical Variant for a (major, i) pair, the
// inverse of Major/iParam. Negotiating Any in OpenSecureChannel does not
// use it: that step picks SCP02_15 or SCP01_05 from the major alone.
func variantFor(major int, i byte) (Variant, *Error) {
	switch {
	case major == 1 && i == 0x05:
		return SCP01_05, nil
	case major == 1 && i == 0x15:
		return SCP01_15, nil
	case major == 2 && i == 0x04:
		return SCP02_04, nil
	case major == 2 && i == 0x05:
		return SCP02_05, nil
	case major == 2 && i == 0x0A:
		return SCP02_0A, nil
	case major == 2 && i == 0x0B:
		return SCP02_0B, nil
	case major == 2 && i == 0x14:
		return SCP02_14, nil
	case major == 2 && i == 0x15:
		return SCP02_15, nil
	case major == 2 && i == 0x1A:
		return SCP02_1A, nil
	case major == 2 && i == 0x1B:
		return SCP02_1B, nil
	default:
		return Any, errf(KindProtocolMismatch, "undefined SCP variant: major=%d i=%02X", major, i)
	}
}

// isImplicit reports whether v is one of the SCP02 implicit-initiation
// variants (§4.5.3).
func isImplicit(v Variant) bool {
	switch v {
	case SCP02_0A, SCP02_0B, SCP02_1A, SCP02_1B:
		return true
	default:
		return false
	}
}

// SecurityLevel is the bitmask of §3: MAC(0x01), ENC(0x02), RMAC(0x10).
type SecurityLevel byte

const (
	LevelMAC  SecurityLevel = 0x01
	LevelENC  SecurityLevel = 0x02
	LevelRMAC SecurityLevel = 0x10
)

// normalize forces MAC on whenever ENC is requested (§4.4 step 1, §3
// invariant "ENC implies MAC").
func (l SecurityLevel) normalize() SecurityLevel {
	if l&LevelENC != 0 {
		l |= LevelMAC
	}
	return l
}

func (l SecurityLevel) hasMAC() bool  { return l&LevelMAC != 0 }
func (l SecurityLevel) hasENC() bool  { return l&LevelENC != 0 }
func (l SecurityLevel) hasRMAC() bool { return l&LevelRMAC != 0 }

// validate rejects bits outside the defined mask and RMAC on SCP01 (§3
// invariant: "RMAC is only valid when the SCP variant permits it").
func (l SecurityLevel) validate(major int) *Error {
	const known = LevelMAC | LevelENC | LevelRMAC
	if l&^known != 0 {
		return errf(KindConfig, "security level has undefined bits: %02X", byte(l))
	}
	if l.hasRMAC() && major == 1 {
		return errf(KindConfig, "RMAC is not valid on SCP01")
	}
	return nil
}
