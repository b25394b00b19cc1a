package gp

// Session key index within a derived SessionKeySet, per §3.
const (
	SessENC  = 0
	SessMAC  = 1
	SessKEK  = 2
	SessRMAC = 3
)

// SessionKeySet is the per-channel derived key material (§3, "Session
// KeySet"): four 16-byte keys, indexed ENC/MAC/KEK(DEK)/RMAC. Its lifetime
// equals the secure channel; there is nothing to explicitly destroy since
// Go's GC reclaims it once the SecureChannel is dropped.
type SessionKeySet struct {
	Keys [4][]byte
}

// deriveSCP01 implements the §4.3 SCP01 KDF. derivation =
// cardResponse[16:20] ‖ hostRandom[0:4] ‖ cardResponse[12:16] ‖
// hostRandom[4:8]; session ENC/MAC are 3DES-ECB-encrypt(static[k],
// derivation); session KEK is the static KEK, unchanged.
func deriveSCP01(static *KeySet, cardResponse, hostRandom []byte) (*SessionKeySet, *Error) {
	if len(cardResponse) < 28 {
		return nil, errf(KindProtocolMismatch, "card response too short for SCP01 derivation: %d", len(cardResponse))
	}
	if len(hostRandom) != 8 {
		return nil, errf(KindCrypto, "host challenge must be 8 bytes, got %d", len(hostRandom))
	}
	derivation := make([]byte, 0, 16)
	derivation = append(derivation, cardResponse[16:20]...)
	derivation = append(derivation, hostRandom[0:4]...)
	derivation = append(derivation, cardResponse[12:16]...)
	derivation = append(derivation, hostRandom[4:8]...)

	senc, err := tdesECBEncrypt(static.ENC, derivation)
	if err != nil {
		return nil, err
	}
	smac, err := tdesECBEncrypt(static.MAC, derivation)
	if err != nil {
		return nil, err
	}

	return &SessionKeySet{Keys: [4][]byte{
		SessENC: senc,
		SessMAC: smac,
		SessKEK: static.KEK,
	}}, nil
}

// SCP02 derivation constant tags (§4.3).
const (
	scp02TagMAC  = 0x0101
	scp02TagRMAC = 0x0102
	scp02TagENC  = 0x0182
	scp02TagDEK  = 0x0181
)

// scp02DerivationBlock builds the 16-byte derivation input: a 2-byte
// constant tag, a 2-byte sequence counter, 12 zero bytes.
func scp02DerivationBlock(tag uint16, seq [2]byte) []byte {
	block := make([]byte, 16)
	block[0] = byte(tag >> 8)
	block[1] = byte(tag)
	block[2] = seq[0]
	block[3] = seq[1]
	return block
}

// scp02DeriveOne 3DES-CBC-encrypts the derivation block under a zero IV
// with the given static key, per §4.3.
func scp02DeriveOne(staticKey []byte, tag uint16, seq [2]byte) ([]byte, *Error) {
	block := scp02DerivationBlock(tag, seq)
	iv := make([]byte, 8)
	return tdesCBCEncrypt(staticKey, iv, block)
}

// deriveSCP02 implements the §4.3 SCP02 KDF for ENC/MAC/DEK and, when
// deriveRMAC is set, the RMAC key under the incremented sequence counter
// that implicit channels use (§4.3's last sentence). The explicit handshake
// derives its RMAC key itself, under the unincremented counter.
func deriveSCP02(static *KeySet, seq [2]byte, deriveRMAC bool) (*SessionKeySet, *Error) {
	senc, err := scp02DeriveOne(static.ENC, scp02TagENC, seq)
	if err != nil {
		return nil, err
	}
	smac, err := scp02DeriveOne(static.MAC, scp02TagMAC, seq)
	if err != nil {
		return nil, err
	}
	sdek, err := scp02DeriveOne(static.KEK, scp02TagDEK, seq)
	if err != nil {
		return nil, err
	}

	sess := &SessionKeySet{Keys: [4][]byte{
		SessENC: senc,
		SessMAC: smac,
		SessKEK: sdek,
	}}

	if deriveRMAC {
		rmacSeq := incrementSeq(seq)
		srmac, err := scp02DeriveOne(static.MAC, scp02TagRMAC, rmacSeq)
		if err != nil {
			return nil, err
		}
		sess.Keys[SessRMAC] = srmac
	}
	return sess, nil
}

// incrementSeq increments a 2-byte big-endian sequence counter with carry
// from the low byte, used for the implicit-channel RMAC key derivation
// (§4.3, §9 open question: wraps around on double carry 0xFFFF -> 0x0000).
func incrementSeq(seq [2]byte) [2]byte {
	if seq[1] == 0xFF {
		return [2]byte{seq[0] + 1, 0x00}
	}
	return [2]byte{seq[0], seq[1] + 1}
}
