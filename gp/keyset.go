package gp

// DiversificationMode selects the static-key diversification derivation
// applied before a handshake, per §4.2.
type DiversificationMode int

const (
	// DivNone means the static keys are used as given.
	DivNone DiversificationMode = iota
	// DivVISA2 applies the VISA2 derivation.
	DivVISA2
	// DivEMV applies the EMV derivation.
	DivEMV
)

func (d DiversificationMode) String() string {
	switch d {
	case DivNone:
		return "none"
	case DivVISA2:
		return "visa2"
	case DivEMV:
		return "emv"
	default:
		return "unknown"
	}
}

// Key index within a KeySet, per §4.2.
const (
	KeyENC = 1
	KeyMAC = 2
	KeyKEK = 3
)

// KeyTypeDESECB is the only static key type this engine supports.
const KeyTypeDESECB = "DES_ECB"

// KeySet is the static three-key material for one key-set id (§3, "Static
// KeySet"): ENC, MAC and KEK, each a 16-byte double-length DES key. It may
// carry a diversification mode, applied at most once via Diversify.
type KeySet struct {
	ENC []byte
	MAC []byte
	KEK []byte

	Diversification DiversificationMode
	diversified     bool
	keyType         string
}

// NewKeySet constructs a static KeySet from three 16-byte keys.
func NewKeySet(enc, mac, kek []byte, div DiversificationMode) (*KeySet, *Error) {
	ks := &KeySet{
		ENC:             append([]byte{}, enc...),
		MAC:             append([]byte{}, mac...),
		KEK:             append([]byte{}, kek...),
		Diversification: div,
		keyType:         KeyTypeDESECB,
	}
	for name, k := range map[string][]byte{"ENC": ks.ENC, "MAC": ks.MAC, "KEK": ks.KEK} {
		if len(k) != 16 {
			return nil, errf(KindCrypto, "%s key must be 16 bytes, got %d", name, len(k))
		}
	}
	return ks, nil
}

// SetKey mutates one of the three keys in place. id must be one of
// KeyENC/KeyMAC/KeyKEK.
func (ks *KeySet) SetKey(id int, keyType string, key16 []byte) *Error {
	if len(key16) != 16 {
		return errf(KindCrypto, "key must be 16 bytes, got %d", len(key16))
	}
	switch id {
	case KeyENC:
		ks.ENC = append([]byte{}, key16...)
	case KeyMAC:
		ks.MAC = append([]byte{}, key16...)
	case KeyKEK:
		ks.KEK = append([]byte{}, key16...)
	default:
		return errf(KindConfig, "invalid key id %d", id)
	}
	ks.keyType = keyType
	return nil
}

// IsDiversified reports whether Diversify has already run once.
func (ks *KeySet) IsDiversified() bool { return ks.diversified }

// Diversify derives ENC/MAC/KEK from seed using ks.Diversification. It is a
// no-op once already applied (§3 invariant: `diversified` flag, at most
// once), and a no-op when the mode is DivNone.
func (ks *KeySet) Diversify(seed [16]byte) *Error {
	if ks.diversified {
		return nil
	}
	switch ks.Diversification {
	case DivNone:
		ks.diversified = true
		return nil
	case DivVISA2, DivEMV:
		for i, keyPtr := range []*[]byte{&ks.ENC, &ks.MAC, &ks.KEK} {
			subkeyIndex := byte(i + 1)
			block := diversificationBlock(ks.Diversification, seed, subkeyIndex)
			newKey, err := tdesECBEncrypt(*keyPtr, block)
			if err != nil {
				return err
			}
			*keyPtr = newKey
		}
		ks.diversified = true
		return nil
	default:
		return errf(KindConfig, "unknown diversification mode %v", ks.Diversification)
	}
}

// diversificationBlock builds the 16-byte plaintext input to the 3DES-ECB
// diversification step per §4.2. VISA2 sources seed bytes [0,1,4,5,6,7];
// EMV sources seed bytes [4,5,6,7,8,9]. Both append 0xF0‖i for the first
// half and 0x0F‖i for the second.
func diversificationBlock(mode DiversificationMode, seed [16]byte, i byte) []byte {
	var src [6]byte
	switch mode {
	case DivVISA2:
		src = [6]byte{seed[0], seed[1], seed[4], seed[5], seed[6], seed[7]}
	case DivEMV:
		src = [6]byte{seed[4], seed[5], seed[6], seed[7], seed[8], seed[9]}
	}
	out := make([]byte, 0, 16)
	out = append(out, src[:]...)
	out = append(out, 0xF0, i)
	out = append(out, src[:]...)
	out = append(out, 0x0F, i)
	return out
}
