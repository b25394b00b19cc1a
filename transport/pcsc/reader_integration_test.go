//go:build pcsc_hardware

package pcsc

import "testing"

// Requires a real PC/SC reader with a card present; run with
// `go test -tags pcsc_hardware ./transport/pcsc/...`.
func TestConnectFirst_RealReader(t *testing.T) {
	r, err := ConnectFirst()
	if err != nil {
		t.Fatalf("ConnectFirst() error = %v", err)
	}
	defer r.Close()

	if len(r.ATR()) == 0 {
		t.Errorf("ATR() is empty after connect")
	}
}
