// Package pcsc implements card.Transport over a local PC/SC smart card
// reader. It is supporting infrastructure, not part of the secure-channel
// engine (see card.Transport): a host application picks a reader, connects,
// and hands the resulting *Reader to gp.OpenSecureChannel as its transport.
package pcsc

import (
	"fmt"

	"github.com/ebfe/scard"
)

// Reader is a PC/SC connection to a single card in a single reader.
type Reader struct {
	ctx  *scard.Context
	card *scard.Card
	name string
	atr  []byte
}

// ListReaders returns the names of all PC/SC readers visible to the
// system, regardless of whether a card is present.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establish PC/SC context: %w", err)
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("list readers: %w", err)
	}
	return readers, nil
}

// Connect opens a shared connection to the card in the reader at readerIndex.
func Connect(readerIndex int) (*Reader, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establish PC/SC context: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("list readers: %w", err)
	}
	if len(readers) == 0 {
		ctx.Release()
		return nil, fmt.Errorf("no smart card readers found")
	}
	if readerIndex < 0 || readerIndex >= len(readers) {
		ctx.Release()
		return nil, fmt.Errorf("reader index %d out of range (0-%d)", readerIndex, len(readers)-1)
	}

	name := readers[readerIndex]
	c, err := ctx.Connect(name, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("connect to card in reader %q: %w", name, err)
	}

	status, err := c.Status()
	if err != nil {
		c.Disconnect(scard.LeaveCard)
		ctx.Release()
		return nil, fmt.Errorf("card status: %w", err)
	}

	return &Reader{ctx: ctx, card: c, name: name, atr: status.Atr}, nil
}

// ConnectFirst connects to the first reader reporting a card present.
func ConnectFirst() (*Reader, error) {
	readers, err := ListReaders()
	if err != nil {
		return nil, err
	}
	lastErr := fmt.Errorf("no smart card readers found")
	for i := range readers {
		r, err := Connect(i)
		if err == nil {
			return r, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Transmit implements card.Transport by forwarding the APDU to the card.
func (r *Reader) Transmit(apdu []byte) ([]byte, error) {
	resp, err := r.card.Transmit(apdu)
	if err != nil {
		return nil, fmt.Errorf("transmit: %w", err)
	}
	return resp, nil
}

// Close disconnects from the card and releases the PC/SC context. The
// caller owns the transport's lifetime (§5): the secure channel never
// closes it itself.
func (r *Reader) Close() error {
	if r.card != nil {
		r.card.Disconnect(scard.LeaveCard)
	}
	if r.ctx != nil {
		r.ctx.Release()
	}
	return nil
}

// Name returns the underlying PC/SC reader name.
func (r *Reader) Name() string { return r.name }

// ATR returns the card's Answer-To-Reset bytes observed at connect time.
func (r *Reader) ATR() []byte { return r.atr }

// Reset performs a warm (cold=false) or cold (cold=true) reconnect to the
// card, refreshing the cached ATR.
func (r *Reader) Reset(cold bool) error {
	if r.card == nil {
		return fmt.Errorf("no card connected")
	}
	disposition := scard.ResetCard
	if cold {
		disposition = scard.UnpowerCard
	}
	if err := r.card.Reconnect(scard.ShareShared, scard.ProtocolAny, disposition); err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	if status, err := r.card.Status(); err == nil {
		r.atr = status.Atr
	}
	return nil
}
