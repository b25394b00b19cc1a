package card

import "testing"

type scriptedTransport struct {
	responses [][]byte
	i         int
	sent      [][]byte
}

func (s *scriptedTransport) Transmit(apdu []byte) ([]byte, error) {
	s.sent = append(s.sent, append([]byte{}, apdu...))
	if s.i >= len(s.responses) {
		return nil, errNoMoreScriptedResponses
	}
	r := s.responses[s.i]
	s.i++
	return r, nil
}

var errNoMoreScriptedResponses = errFixture("no more scripted responses")

type errFixture string

func (e errFixture) Error() string { return string(e) }

func TestAPDUResponse_SW(t *testing.T) {
	tests := []struct {
		name   string
		resp   *APDUResponse
		wantOK bool
		wantSW uint16
	}{
		{"ok", &APDUResponse{SW1: 0x90, SW2: 0x00}, true, 0x9000},
		{"wrong-p1p2", &APDUResponse{SW1: 0x6A, SW2: 0x86}, false, 0x6A86},
		{"more-data", &APDUResponse{SW1: 0x61, SW2: 0x10}, false, 0x6110},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.resp.SW(); got != tc.wantSW {
				t.Errorf("SW() = %04X, want %04X", got, tc.wantSW)
			}
			if got := tc.resp.IsOK(); got != tc.wantOK {
				t.Errorf("IsOK() = %v, want %v", got, tc.wantOK)
			}
		})
	}
}

func TestAPDUResponse_HasMoreData(t *testing.T) {
	r := &APDUResponse{SW1: 0x61, SW2: 0x08}
	if !r.HasMoreData() {
		t.Errorf("HasMoreData() = false, want true")
	}
	if err := r.Error(); err != nil {
		t.Errorf("Error() = %v, want nil for 0x61xx", err)
	}
}

func TestSendAPDU_ShortResponse(t *testing.T) {
	tr := &scriptedTransport{responses: [][]byte{{0x90}}}
	if _, err := SendAPDU(tr, []byte{0x00, 0xA4, 0x04, 0x00}); err == nil {
		t.Errorf("expected error for short response")
	}
}

func TestSelect_ChainsGetResponse(t *testing.T) {
	tr := &scriptedTransport{responses: [][]byte{
		{0x61, 0x10},
		{0x6F, 0x0E, 0x84, 0x07, 0xA0, 0x00, 0x00, 0x00, 0x03, 0x00, 0x00, 0x90, 0x00},
	}}
	resp, err := Select(tr, []byte{0xA0, 0x00, 0x00, 0x00, 0x03, 0x00, 0x00})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if !resp.IsOK() {
		t.Fatalf("Select() SW = %04X, want 9000", resp.SW())
	}
	if len(tr.sent) != 2 {
		t.Fatalf("expected SELECT followed by GET RESPONSE, got %d exchanges", len(tr.sent))
	}
	if tr.sent[1][1] != InsGetResponse {
		t.Errorf("second APDU INS = %02X, want GET RESPONSE", tr.sent[1][1])
	}
}

func TestSWToString_KnownAndUnknown(t *testing.T) {
	if got := SWToString(SW_OK); got != "success" {
		t.Errorf("SWToString(9000) = %q", got)
	}
	if got := SWToString(0x6C05); got == "" {
		t.Errorf("SWToString(0x6C05) empty")
	}
}
