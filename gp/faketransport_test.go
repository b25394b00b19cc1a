package gp

import "gpsc/card"

// scriptedTransport is a fake card.Transport that returns queued responses
// in order, recording every command it was handed. Mirrors the teacher's
// own scripted-transport test helper in card/apdu_test.go.
type scriptedTransport struct {
	responses [][]byte
	sent      [][]byte
	pos       int
}

func (s *scriptedTransport) Transmit(apdu []byte) ([]byte, error) {
	s.sent = append(s.sent, append([]byte{}, apdu...))
	if s.pos >= len(s.responses) {
		return []byte{0x6F, 0x00}, nil
	}
	resp := s.responses[s.pos]
	s.pos++
	return resp, nil
}

var _ card.Transport = (*scriptedTransport)(nil)
