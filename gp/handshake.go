package gp

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"

	"gpsc/card"
)

// gemaltoSDAID is the well-known Gemalto Security Domain AID whose
// selection triggers the §4.4 step 2 pre-diversification GET DATA probe.
var gemaltoSDAID = []byte{0xA0, 0x00, 0x00, 0x00, 0x18, 0x43, 0x4D, 0x00}

// HandshakeOptions configures OpenSecureChannel: the §4.4 inputs plus the
// §6 configuration surface (scp_variant, security_level, diversification
// lives on the KeySet, key_set).
type HandshakeOptions struct {
	KeySetID      byte
	KeyID         byte
	Variant       Variant
	SecurityLevel SecurityLevel
	Gemalto       bool
	// SDAID is the AID of the already-selected Security Domain. Selecting
	// it is the façade's job (§4.6 "Select SD"); the handshake reads it
	// only for the Gemalto pre-step and keeps a copy on the returned
	// channel. A channel opened by the handshake never runs the implicit
	// lazy initiation of §4.5.3 (see NewImplicitSecureChannel for that).
	SDAID     []byte
	Observers []Observer
}

// OpenSecureChannel performs the §4.4 mutual-authentication handshake:
// INITIALIZE UPDATE, SCP negotiation, session-key derivation, card
// cryptogram verification, and EXTERNAL AUTHENTICATE. The caller must
// already have selected the target Security Domain AID via card.Select.
func OpenSecureChannel(t card.Transport, static *KeySet, opts HandshakeOptions) (*SecureChannel, *Error) {
	if opts.KeySetID > 127 && opts.KeySetID != 255 {
		return nil, errf(KindConfig, "key-set id %d out of range 0..127 (or 255)", opts.KeySetID)
	}
	level := opts.SecurityLevel.normalize()

	// Step 2: Gemalto pre-step diversification seed.
	if opts.Gemalto && bytes.Equal(opts.SDAID, gemaltoSDAID) {
		resp, err := card.SendAPDU(t, []byte{0x80, 0xCA, 0x9F, 0x7F, 0x00})
		if err != nil {
			return nil, errf(KindSelection, "GET DATA 9F7F: %v", err)
		}
		if !resp.IsOK() {
			return nil, cmdErr("GET DATA 9F7F", resp.SW())
		}
		if len(resp.Data) < 19 || len(opts.SDAID) < 2 {
			return nil, errf(KindProtocolMismatch, "GET DATA 9F7F response too short for diversification seed")
		}
		var seed [16]byte
		copy(seed[0:2], opts.SDAID[len(opts.SDAID)-2:])
		copy(seed[4:8], resp.Data[15:19])
		if gerr := static.Diversify(seed); gerr != nil {
			return nil, gerr
		}
	}

	// Step 3: host challenge.
	hostChallenge := make([]byte, 8)
	if _, err := rand.Read(hostChallenge); err != nil {
		return nil, errf(KindCrypto, "generate host challenge: %v", err)
	}

	// Step 4: INITIALIZE UPDATE.
	initAPDU := make([]byte, 0, 13)
	initAPDU = append(initAPDU, 0x80, 0x50, opts.KeySetID, opts.KeyID, 0x08)
	initAPDU = append(initAPDU, hostChallenge...)
	resp, err := card.SendAPDU(t, initAPDU)
	if err != nil {
		return nil, errf(KindSelection, "INITIALIZE UPDATE: %v", err)
	}
	if resp.HasMoreData() {
		resp, err = card.GetResponse(t, resp.SW2)
		if err != nil {
			return nil, errf(KindSelection, "GET RESPONSE: %v", err)
		}
	}
	if !resp.IsOK() {
		return nil, cmdErr("INITIALIZE UPDATE", resp.SW())
	}
	if len(resp.Data) != 28 {
		return nil, errf(KindProtocolMismatch, "INITIALIZE UPDATE response length = %d, want 28", len(resp.Data))
	}

	// Step 5: negotiate/confirm SCP variant.
	major := int(resp.Data[11])
	variant := opts.Variant
	if variant == Any {
		if major == 2 {
			variant = SCP02_15
		} else {
			variant = SCP01_05
		}
	}
	if variant.Major() != major {
		return nil, errf(KindProtocolMismatch, "card reported SCP major %d, requested %s", major, variant)
	}
	if major == 1 {
		level &^= LevelRMAC
	}
	if verr := level.validate(major); verr != nil {
		return nil, verr
	}

	// Step 6: default key-set diversification. §9's first open question:
	// key-set id 255 is treated as equivalent to 0 here, preserved from
	// the source behaviour though GlobalPlatform only defines key-set 0.
	if opts.KeySetID == 0 || opts.KeySetID == 255 {
		var seed [16]byte
		copy(seed[:], resp.Data[0:16])
		if gerr := static.Diversify(seed); gerr != nil {
			return nil, gerr
		}
	}

	// Step 7: key-set id confirmation.
	if opts.KeySetID != 0 && opts.KeySetID != 255 && resp.Data[10] != opts.KeySetID {
		return nil, errf(KindProtocolMismatch, "card reports key-set %d, requested %d", resp.Data[10], opts.KeySetID)
	}

	flags := flagsFor(major, variant.iParam())

	// Step 8: session key derivation.
	var session *SessionKeySet
	var gerr *Error
	switch major {
	case 1:
		session, gerr = deriveSCP01(static, resp.Data, hostChallenge)
	case 2:
		var seq [2]byte
		copy(seq[:], resp.Data[12:14])
		session, gerr = deriveSCP02(static, seq, false)
		if gerr == nil && level.hasRMAC() {
			// An explicitly opened channel derives its RMAC key under the
			// same sequence counter as the other session keys.
			session.Keys[SessRMAC], gerr = scp02DeriveOne(static.MAC, scp02TagRMAC, seq)
		}
	default:
		gerr = errf(KindProtocolMismatch, "unsupported SCP major %d", major)
	}
	if gerr != nil {
		return nil, gerr
	}

	// Step 9: cryptogram exchange. card_seq8 = response[12:20] regardless
	// of major (for SCP02 this is seq(2)‖cardChallenge(6); for SCP01 it is
	// the raw 8-byte card challenge block).
	cardSeq8 := resp.Data[12:20]
	zero8 := make([]byte, 8)

	hostCryptoInput := pad80(append(append([]byte{}, hostChallenge...), cardSeq8...))
	hostCryptogram, gerr := retailMAC(session.Keys[SessMAC], zero8, hostCryptoInput)
	if gerr != nil {
		return nil, gerr
	}

	cardCryptoInput := pad80(append(append([]byte{}, cardSeq8...), hostChallenge...))
	expectedCardCryptogram, gerr := retailMAC(session.Keys[SessMAC], zero8, cardCryptoInput)
	if gerr != nil {
		return nil, gerr
	}
	if subtle.ConstantTimeCompare(expectedCardCryptogram, resp.Data[20:28]) != 1 {
		return nil, errf(KindAuthentication, "card cryptogram mismatch")
	}

	sc := &SecureChannel{
		transport: t,
		session:   session,
		variant:   variant,
		flags:     flags,
		level:     LevelMAC,
		sdAID:     append([]byte{}, opts.SDAID...),
		observers: append(observerList{}, opts.Observers...),

		implicitDone: true,
	}

	// Step 10: EXTERNAL AUTHENTICATE through the wrapper, MAC-only, ICV=0.
	extResp, gerr := sc.transmitRaw(0x84, 0x82, byte(level), 0x00, hostCryptogram, byteptr(0x00))
	if gerr != nil {
		return nil, gerr
	}
	if !extResp.IsOK() {
		return nil, &Error{Kind: KindAuthentication, Op: "EXTERNAL AUTHENTICATE", SW: extResp.SW()}
	}

	sc.level = level
	if level.hasRMAC() {
		sc.respICV = sc.cmdICV
	}
	return sc, nil
}

func byteptr(b byte) *byte { return &b }
