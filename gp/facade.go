package gp

import "gpsc/card"

// Well-known Security Domain AIDs tried, in order, by SelectSD when the
// caller does not name one explicitly.
var defaultSDAIDs = [][]byte{
	{0xA0, 0x00, 0x00, 0x01, 0x51, 0x00, 0x00, 0x00},
	{0xA0, 0x00, 0x00, 0x00, 0x03, 0x00, 0x00, 0x00},
	gemaltoSDAID,
}

// lv prefixes data with its own length byte.
func lv(data []byte) []byte {
	out := make([]byte, 0, 1+len(data))
	out = append(out, byte(len(data)))
	return append(out, data...)
}

// SelectSD performs §4.6 "Select SD": SELECT by name for aid if given,
// else the first AID from defaultSDAIDs that answers 9000.
func SelectSD(t card.Transport, aid []byte) ([]byte, *card.APDUResponse, *Error) {
	candidates := [][]byte{aid}
	if aid == nil {
		candidates = defaultSDAIDs
	}
	var lastSW uint16
	for _, cand := range candidates {
		resp, err := card.Select(t, cand)
		if err != nil {
			return nil, nil, errf(KindSelection, "select %x: %v", cand, err)
		}
		if resp.IsOK() {
			return cand, resp, nil
		}
		lastSW = resp.SW()
	}
	return nil, nil, &Error{Kind: KindSelection, Op: "SELECT", SW: lastSW}
}

// InstallForLoad builds and sends §4.6 "Install-for-load". hash is passed
// empty unless a load-file-hash check is requested; when withLoadParams is
// set, loadParams is derived from totalCodeLength as EF 04 C6 02 <len>.
func InstallForLoad(sc *SecureChannel, pkgAID, sdAID, hash []byte, withLoadParams bool, totalCodeLength int) (*card.APDUResponse, *Error) {
	var loadParams []byte
	if withLoadParams {
		loadParams = []byte{0xEF, 0x04, 0xC6, 0x02, byte(totalCodeLength >> 8), byte(totalCodeLength)}
	}
	data := make([]byte, 0, 64)
	data = append(data, lv(pkgAID)...)
	data = append(data, lv(sdAID)...)
	data = append(data, lv(hash)...)
	data = append(data, lv(loadParams)...)
	data = append(data, 0x00)

	resp, err := sc.Transmit(card.InsInstall, 0x02, 0x00, data, nil)
	if err != nil {
		return nil, err
	}
	if !resp.IsOK() {
		return resp, cmdErr("INSTALL-for-load", resp.SW())
	}
	return resp, nil
}

// Load sends §4.6 "Load": the CAP data chunked into blockSize blocks (255
// by default), each reduced by the channel's own MAC/ENC overhead so the
// wrapped APDU still fits in 255 bytes, P1=0x00 for every block but the
// last (0x80), P2 a zero-based sequence counter.
func Load(sc *SecureChannel, capData []byte, blockSize int) ([]*card.APDUResponse, *Error) {
	if blockSize <= 0 || blockSize > 255 {
		blockSize = 255
	}
	avail := blockSize
	if sc.level.hasMAC() {
		avail -= 8
	}
	if sc.level.hasENC() {
		avail -= 8
	}
	if avail <= 0 {
		return nil, errf(KindConfig, "block size %d too small for channel overhead", blockSize)
	}

	var responses []*card.APDUResponse
	seq := 0
	for offset := 0; offset < len(capData) || (offset == 0 && len(capData) == 0); {
		end := offset + avail
		final := false
		if end >= len(capData) {
			end = len(capData)
			final = true
		}
		block := capData[offset:end]
		p1 := byte(0x00)
		if final {
			p1 = 0x80
		}
		resp, err := sc.Transmit(card.InsLoad, p1, byte(seq), block, nil)
		if err != nil {
			return responses, err
		}
		if !resp.IsOK() {
			return responses, cmdErr("LOAD", resp.SW())
		}
		responses = append(responses, resp)
		seq++
		offset = end
		if final {
			break
		}
	}
	return responses, nil
}

// InstallForInstallAndMakeSelectable builds and sends §4.6
// "Install-for-install-and-make-selectable". instanceAID defaults to
// appletAID; installParams defaults to `C9 00`; installToken defaults to
// empty.
func InstallForInstallAndMakeSelectable(sc *SecureChannel, pkgAID, appletAID, instanceAID []byte, privileges byte, installParams, installToken []byte) (*card.APDUResponse, *Error) {
	if instanceAID == nil {
		instanceAID = appletAID
	}
	if installParams == nil {
		installParams = []byte{0xC9, 0x00}
	}
	data := make([]byte, 0, 64)
	data = append(data, lv(pkgAID)...)
	data = append(data, lv(appletAID)...)
	data = append(data, lv(instanceAID)...)
	data = append(data, lv([]byte{privileges})...)
	data = append(data, lv(installParams)...)
	data = append(data, lv(installToken)...)

	resp, err := sc.Transmit(card.InsInstall, 0x0C, 0x00, data, nil)
	if err != nil {
		return nil, err
	}
	if !resp.IsOK() {
		return resp, cmdErr("INSTALL-for-install-and-make-selectable", resp.SW())
	}
	return resp, nil
}

// Delete sends §4.6 "Delete": data = 4F len aid, P2=0x80 to cascade.
func Delete(sc *SecureChannel, aid []byte, cascade bool) (*card.APDUResponse, *Error) {
	data := append([]byte{0x4F}, lv(aid)...)
	p2 := byte(0x00)
	if cascade {
		p2 = 0x80
	}
	resp, err := sc.Transmit(card.InsDelete, 0x00, p2, data, nil)
	if err != nil {
		return nil, err
	}
	if !resp.IsOK() {
		return resp, cmdErr("DELETE", resp.SW())
	}
	return resp, nil
}

// StatusRecord is one parsed GET STATUS entry (§4.6): an AID, its
// lifecycle byte, its privileges byte, and — for the executable-load-file
// category (0x10) only — the AIDs of its associated modules.
type StatusRecord struct {
	AID            []byte
	Lifecycle      byte
	Privileges     []byte
	ExecutableAIDs [][]byte
}

// getStatusRaw issues GET STATUS for one category, following the SW=6310
// continuation protocol (§7 "no silent retries" exception) until SW=9000,
// concatenating response data in receive order.
func getStatusRaw(sc *SecureChannel, category byte) ([]byte, *Error) {
	var all []byte
	p2 := byte(0x00)
	data := []byte{0x4F, 0x00}
	for {
		resp, err := sc.Transmit(card.InsGetStatus, category, p2, data, nil)
		if err != nil {
			return nil, err
		}
		if resp.SW() != card.SW_OK && resp.SW() != card.SW_MORE_DATA_AVAILABLE {
			return nil, cmdErr("GET STATUS", resp.SW())
		}
		all = append(all, resp.Data...)
		if resp.SW() == card.SW_OK {
			return all, nil
		}
		p2 = 0x01
	}
}

func parseStatusRecords(data []byte, category byte) ([]StatusRecord, *Error) {
	var out []StatusRecord
	i := 0
	for i < len(data) {
		n := int(data[i])
		i++
		if i+n > len(data) {
			return nil, errf(KindProtocolMismatch, "GET STATUS record: truncated AID")
		}
		aid := append([]byte{}, data[i:i+n]...)
		i += n
		if i+2 > len(data) {
			return nil, errf(KindProtocolMismatch, "GET STATUS record: truncated lifecycle/privileges")
		}
		rec := StatusRecord{AID: aid, Lifecycle: data[i], Privileges: []byte{data[i+1]}}
		i += 2
		if category == 0x10 {
			if i >= len(data) {
				return nil, errf(KindProtocolMismatch, "GET STATUS 0x10 record: missing module count")
			}
			count := int(data[i])
			i++
			for k := 0; k < count; k++ {
				if i >= len(data) {
					return nil, errf(KindProtocolMismatch, "GET STATUS 0x10 record: truncated module AID")
				}
				m := int(data[i])
				i++
				if i+m > len(data) {
					return nil, errf(KindProtocolMismatch, "GET STATUS 0x10 record: truncated module AID")
				}
				rec.ExecutableAIDs = append(rec.ExecutableAIDs, append([]byte{}, data[i:i+m]...))
				i += m
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetStatusRegistry implements §4.6 "Get status": categories 0x80 and
// 0x40 are always queried; 0x10 is then tried, and 0x20 only if 0x10
// fails, keyed by the category byte queried.
func GetStatusRegistry(sc *SecureChannel) (map[byte][]StatusRecord, *Error) {
	out := make(map[byte][]StatusRecord)
	for _, cat := range []byte{0x80, 0x40} {
		raw, err := getStatusRaw(sc, cat)
		if err != nil {
			return nil, err
		}
		recs, perr := parseStatusRecords(raw, cat)
		if perr != nil {
			return nil, perr
		}
		out[cat] = recs
	}

	raw10, err10 := getStatusRaw(sc, 0x10)
	if err10 == nil {
		recs, perr := parseStatusRecords(raw10, 0x10)
		if perr != nil {
			return nil, perr
		}
		out[0x10] = recs
		return out, nil
	}

	raw20, err20 := getStatusRaw(sc, 0x20)
	if err20 != nil {
		return nil, err20
	}
	recs, perr := parseStatusRecords(raw20, 0x20)
	if perr != nil {
		return nil, perr
	}
	out[0x20] = recs
	return out, nil
}
