package gp

import (
	"crypto/subtle"
	"time"

	"gpsc/card"
)

// SecureChannel is the §4.5 wrap/unwrap state machine: a card.Transport
// decorated with running MAC/ENC state. Not safe for concurrent use (§3
// Non-goal: "no concurrent channel use").
type SecureChannel struct {
	transport card.Transport
	session   *SessionKeySet
	static    *KeySet // set only for a channel awaiting implicit initiation (§4.5.3)
	variant   Variant
	flags     scpFlags
	level     SecurityLevel
	sdAID     []byte
	observers observerList

	cmdICV     []byte // last raw command MAC; nil until the first MAC'd command
	respICV    []byte // last raw response MAC seed; nil until RMAC activates
	macStarted bool
	rmacAccum  []byte // single session-lifetime RMAC accumulator (§4.5.2)

	implicitDone bool // lazy implicit-channel initiation already ran (§4.5.3)
}

var zero8 = make([]byte, 8)

// Transmit wraps (ins, p1, p2, data), sends it under CLA 0x80, chains GET
// RESPONSE, unwraps/verifies RMAC on the reply, and notifies observers.
// This is the façade's entry point into the channel.
func (sc *SecureChannel) Transmit(ins, p1, p2 byte, data []byte, le *byte) (*card.APDUResponse, *Error) {
	if err := sc.ensureImplicitInit(); err != nil {
		return nil, err
	}
	return sc.transmitRaw(0x80, ins, p1, p2, data, le)
}

// transmitRaw is Transmit with an explicit CLA, used directly by the
// handshake for EXTERNAL AUTHENTICATE (CLA 0x84).
func (sc *SecureChannel) transmitRaw(cla, ins, p1, p2 byte, data []byte, le *byte) (*card.APDUResponse, *Error) {
	start := time.Now()

	wrapped, werr := sc.wrap(cla, ins, p1, p2, data)
	if werr != nil {
		return nil, werr
	}
	apdu := wrapped
	if le != nil {
		apdu = append(apdu, *le)
	}

	resp, err := card.SendAPDU(sc.transport, apdu)
	if err != nil {
		return nil, errf(KindChannelClosed, "transmit: %v", err)
	}
	if resp.HasMoreData() {
		resp, err = card.GetResponse(sc.transport, resp.SW2)
		if err != nil {
			return nil, errf(KindChannelClosed, "get response: %v", err)
		}
	}

	if uerr := sc.unwrap(resp); uerr != nil {
		return nil, uerr
	}

	if len(sc.observers) > 0 {
		raw := append(append([]byte{}, resp.Data...), resp.SW1, resp.SW2)
		sc.observers.notify(Exchange{Command: apdu, Response: raw, Elapsed: time.Since(start)})
	}
	return resp, nil
}

// NewImplicitSecureChannel constructs a SecureChannel for an implicit-
// initiation SCP02 variant (§3: i in {0A,0B,1A,1B}) without running the
// §4.4 handshake at all. Per §4.5.3, "if no wrapper exists yet" the
// channel establishes itself lazily — from GET DATA, not from INITIALIZE
// UPDATE/EXTERNAL AUTHENTICATE — on the first Transmit.
func NewImplicitSecureChannel(t card.Transport, static *KeySet, variant Variant, level SecurityLevel, sdAID []byte, observers []Observer) (*SecureChannel, *Error) {
	if !isImplicit(variant) {
		return nil, errf(KindConfig, "%s is not an implicit-initiation SCP02 variant", variant)
	}
	if len(sdAID) == 0 {
		return nil, errf(KindConfig, "implicit channel initiation requires the Security Domain AID")
	}
	return &SecureChannel{
		transport: t,
		static:    static,
		variant:   variant,
		flags:     flagsFor(variant.Major(), variant.iParam()),
		level:     level.normalize(),
		sdAID:     append([]byte{}, sdAID...),
		observers: append(observerList{}, observers...),
	}, nil
}

// ensureImplicitInit performs the §4.5.3 lazy initiation for SCP02
// implicit-initiation channels: on the first transmit, fetch the key-set
// id (GET DATA 00E0) and the sequence counter (GET DATA 00C1), derive the
// session keys in implicit mode, then seed the command ICV from
// retail_mac(session_MAC, pad80(SD-AID), 0) and, if RMAC is active, the
// response ICV likewise under session_RMAC.
func (sc *SecureChannel) ensureImplicitInit() *Error {
	if sc.implicitDone || !sc.flags.implicit {
		return nil
	}
	sc.implicitDone = true
	if len(sc.sdAID) == 0 {
		return errf(KindConfig, "implicit channel initiation requires the Security Domain AID")
	}

	if _, err := sc.getDataForImplicitInit(0x00, 0xE0); err != nil {
		return err
	}
	seqData, err := sc.getDataForImplicitInit(0x00, 0xC1)
	if err != nil {
		return err
	}
	if len(seqData) < 2 {
		return errf(KindProtocolMismatch, "GET DATA 00C1 response too short for a sequence counter: %d", len(seqData))
	}
	var seq [2]byte
	copy(seq[:], seqData[len(seqData)-2:])

	session, derr := deriveSCP02(sc.static, seq, sc.level.hasRMAC())
	if derr != nil {
		return derr
	}
	sc.session = session

	seed := pad80(sc.sdAID)
	mac, merr := retailMAC(sc.session.Keys[SessMAC], zero8, seed)
	if merr != nil {
		return merr
	}
	sc.cmdICV = mac
	sc.macStarted = true
	if sc.level.hasRMAC() {
		rmac, rerr := retailMAC(sc.session.Keys[SessRMAC], zero8, seed)
		if rerr != nil {
			return rerr
		}
		sc.respICV = rmac
	}
	return nil
}

// getDataForImplicitInit sends a GET DATA P1/P2 APDU directly (the channel
// isn't wrapped yet — that's the whole point of §4.5.3) and returns its
// data on SW=9000.
func (sc *SecureChannel) getDataForImplicitInit(p1, p2 byte) ([]byte, *Error) {
	resp, err := card.SendAPDU(sc.transport, []byte{0x80, 0xCA, p1, p2, 0x00})
	if err != nil {
		return nil, errf(KindSelection, "GET DATA %02X%02X: %v", p1, p2, err)
	}
	if resp.HasMoreData() {
		resp, err = card.GetResponse(sc.transport, resp.SW2)
		if err != nil {
			return nil, errf(KindSelection, "GET DATA %02X%02X get response: %v", p1, p2, err)
		}
	}
	if !resp.IsOK() {
		return nil, cmdErr("GET DATA", resp.SW())
	}
	return resp.Data, nil
}

// wrap implements §4.5.1: encrypt (if active), MAC (if active), and
// reassemble the transmitted APDU. Overflow is checked, and returns an
// error, before any channel state (ICV, RMAC accumulator) is mutated.
func (sc *SecureChannel) wrap(cla, ins, p1, p2 byte, data []byte) ([]byte, *Error) {
	origLc := len(data)
	hasMAC := sc.level.hasMAC()
	hasENC := sc.level.hasENC()

	if sc.level.hasRMAC() {
		claClear := cla &^ 0x07
		sc.rmacAccum = append(sc.rmacAccum, claClear, ins, p1, p2, byte(origLc))
		sc.rmacAccum = append(sc.rmacAccum, data...)
	}

	if !hasMAC && !hasENC {
		apdu := []byte{cla, ins, p1, p2}
		if origLc > 0 {
			apdu = append(apdu, byte(origLc))
			apdu = append(apdu, data...)
		}
		return apdu, nil
	}

	var encData []byte
	if hasENC && origLc > 0 {
		var plain []byte
		if sc.flags.major == 1 {
			plain = append([]byte{byte(origLc)}, data...)
		} else {
			plain = data
		}
		plain = pad80(plain)
		if len(plain) > 255 {
			return nil, errf(KindOverflow, "encrypted data length %d exceeds 255", len(plain))
		}
		var eerr *Error
		encData, eerr = tdesCBCEncrypt(sc.session.Keys[SessENC], zero8, plain)
		if eerr != nil {
			return nil, eerr
		}
	} else {
		encData = data
	}

	macLen := 0
	if hasMAC {
		macLen = 8
	}
	if len(encData)+macLen > 255 {
		return nil, errf(KindOverflow, "final Lc %d exceeds 255", len(encData)+macLen)
	}

	finalCLA := cla
	if hasMAC {
		finalCLA |= 0x04
	}

	var mac []byte
	if hasMAC {
		var macHeader []byte
		var macBody []byte
		if sc.flags.preAPDUMAC {
			macHeader = []byte{cla, ins, p1, p2, byte(origLc)}
			macBody = data
		} else {
			macHeader = []byte{finalCLA, ins, p1, p2, byte(len(encData))}
			macBody = encData
		}
		macInput := pad80(append(append([]byte{}, macHeader...), macBody...))

		seed, serr := sc.encryptICV(sc.cmdICV)
		if serr != nil {
			return nil, serr
		}

		var merr *Error
		if sc.flags.major == 1 {
			mac, merr = retailMAC(sc.session.Keys[SessMAC], seed, macInput)
		} else {
			mac, merr = full3DESMAC(sc.session.Keys[SessMAC], seed, macInput)
		}
		if merr != nil {
			return nil, merr
		}
		sc.cmdICV = mac
		sc.macStarted = true
	}

	finalData := encData
	if hasMAC {
		finalData = append(append([]byte{}, encData...), mac...)
	}
	apdu := []byte{finalCLA, ins, p1, p2, byte(len(finalData))}
	apdu = append(apdu, finalData...)
	return apdu, nil
}

// encryptICV applies §4.5.1's "encrypt the previous ICV before using it to
// seed this computation" rule. Until a MAC has been produced or an ICV has
// been seeded (macStarted), the seed is all-zero and unencrypted,
// regardless of the icvEncrypted flag. An implicit channel's seeded ICV
// counts as a previous ICV and is encrypted when the flag is set.
func (sc *SecureChannel) encryptICV(prevICV []byte) ([]byte, *Error) {
	if !sc.macStarted || prevICV == nil {
		return zero8, nil
	}
	if !sc.flags.icvEncrypted {
		return prevICV, nil
	}
	if sc.flags.major == 1 {
		return tdesECBEncrypt(sc.session.Keys[SessMAC], prevICV)
	}
	k1 := sc.session.Keys[SessMAC][0:8]
	return desECBEncrypt(k1, prevICV)
}

// unwrap implements §4.5.2: when RMAC is active, append the response to
// the session's running accumulator, verify the trailing 8-byte RMAC
// field against full_3des_mac(session_RMAC, pad80(accumulator),
// response-ICV), and strip the RMAC field from the response before
// returning it to the caller.
func (sc *SecureChannel) unwrap(resp *card.APDUResponse) *Error {
	if !sc.level.hasRMAC() {
		return nil
	}
	if len(resp.Data) < 8 {
		return errf(KindSecurity, "response too short to carry an RMAC field: %d bytes", len(resp.Data))
	}
	body := resp.Data[:len(resp.Data)-8]
	rmacField := resp.Data[len(resp.Data)-8:]

	sc.rmacAccum = append(sc.rmacAccum, body...)
	sc.rmacAccum = append(sc.rmacAccum, resp.SW1, resp.SW2)

	seed := sc.respICV
	if seed == nil {
		seed = zero8
	}
	expected, err := full3DESMAC(sc.session.Keys[SessRMAC], seed, pad80(sc.rmacAccum))
	if err != nil {
		return err
	}
	if !constantTimeEqual(expected, rmacField) {
		return errf(KindSecurity, "RMAC verification failed")
	}
	sc.respICV = expected
	resp.Data = body
	return nil
}

func constantTimeEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
