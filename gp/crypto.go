package gp

import (
	"crypto/des"
)

// Crypto primitives (§4.1). Pure functions over byte slices, lifted and
// generalized from the teacher's SCP02-only helpers (desECBEncrypt,
// tripleDESCBCEncrypt, iso7816Pad, retailMAC) to serve both SCP01 and SCP02.

// expandDESKey applies the §4.1 key-expansion contract: an 8-byte key is
// single-DES as-is; a 16-byte key becomes K1‖K2‖K1 for 3DES; a 24-byte key
// is used verbatim.
func expandDESKey(key []byte) ([]byte, *Error) {
	switch len(key) {
	case 8:
		return key, nil
	case 16:
		out := make([]byte, 24)
		copy(out[0:16], key)
		copy(out[16:24], key[0:8])
		return out, nil
	case 24:
		return key, nil
	default:
		return nil, errf(KindCrypto, "key must be 8, 16 or 24 bytes, got %d", len(key))
	}
}

// pad80 applies ISO/IEC 9797-1 padding method 2: append 0x80, then zero-pad
// to the next 8-byte boundary. Always grows the input by at least one byte.
func pad80(data []byte) []byte {
	out := make([]byte, len(data), len(data)+8)
	copy(out, data)
	out = append(out, 0x80)
	for len(out)%8 != 0 {
		out = append(out, 0x00)
	}
	return out
}

func xor8(a, b []byte) []byte {
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// desECBEncrypt encrypts a single 8-byte block with single-DES ECB.
func desECBEncrypt(key8, block8 []byte) ([]byte, *Error) {
	if len(key8) != 8 {
		return nil, errf(KindCrypto, "DES key must be 8 bytes, got %d", len(key8))
	}
	if len(block8) != 8 {
		return nil, errf(KindCrypto, "block must be 8 bytes, got %d", len(block8))
	}
	c, err := des.NewCipher(key8)
	if err != nil {
		return nil, errf(KindCrypto, "des cipher: %v", err)
	}
	out := make([]byte, 8)
	c.Encrypt(out, block8)
	return out, nil
}

// desECBDecrypt decrypts a single 8-byte block with single-DES ECB.
func desECBDecrypt(key8, block8 []byte) ([]byte, *Error) {
	if len(key8) != 8 {
		return nil, errf(KindCrypto, "DES key must be 8 bytes, got %d", len(key8))
	}
	if len(block8) != 8 {
		return nil, errf(KindCrypto, "block must be 8 bytes, got %d", len(block8))
	}
	c, err := des.NewCipher(key8)
	if err != nil {
		return nil, errf(KindCrypto, "des cipher: %v", err)
	}
	out := make([]byte, 8)
	c.Decrypt(out, block8)
	return out, nil
}

// tdesECBEncrypt encrypts data (a multiple of 8 bytes) block-by-block with
// 3DES ECB, expanding key to 24 bytes per the key-expansion contract.
func tdesECBEncrypt(key, data []byte) ([]byte, *Error) {
	key24, kerr := expandDESKey(key)
	if kerr != nil {
		return nil, kerr
	}
	if len(data)%8 != 0 {
		return nil, errf(KindCrypto, "data must be a multiple of 8 bytes, got %d", len(data))
	}
	c, err := des.NewTripleDESCipher(key24)
	if err != nil {
		return nil, errf(KindCrypto, "3des cipher: %v", err)
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += 8 {
		c.Encrypt(out[i:i+8], data[i:i+8])
	}
	return out, nil
}

// tdesCBCEncrypt encrypts data (a multiple of 8 bytes) with 3DES in CBC
// mode under the given 8-byte IV, expanding key per the key-expansion
// contract.
func tdesCBCEncrypt(key, iv8, data []byte) ([]byte, *Error) {
	key24, kerr := expandDESKey(key)
	if kerr != nil {
		return nil, kerr
	}
	if len(iv8) != 8 {
		return nil, errf(KindCrypto, "IV must be 8 bytes, got %d", len(iv8))
	}
	if len(data)%8 != 0 {
		return nil, errf(KindCrypto, "data must be a multiple of 8 bytes, got %d", len(data))
	}
	c, err := des.NewTripleDESCipher(key24)
	if err != nil {
		return nil, errf(KindCrypto, "3des cipher: %v", err)
	}
	out := make([]byte, len(data))
	iv := make([]byte, 8)
	copy(iv, iv8)
	for i := 0; i < len(data); i += 8 {
		block := xor8(data[i:i+8], iv)
		c.Encrypt(out[i:i+8], block)
		copy(iv, out[i:i+8])
	}
	return out, nil
}

// tdesCBCDecrypt decrypts data (a multiple of 8 bytes) with 3DES in CBC
// mode under the given 8-byte IV.
func tdesCBCDecrypt(key, iv8, data []byte) ([]byte, *Error) {
	key24, kerr := expandDESKey(key)
	if kerr != nil {
		return nil, kerr
	}
	if len(iv8) != 8 {
		return nil, errf(KindCrypto, "IV must be 8 bytes, got %d", len(iv8))
	}
	if len(data)%8 != 0 {
		return nil, errf(KindCrypto, "data must be a multiple of 8 bytes, got %d", len(data))
	}
	c, err := des.NewTripleDESCipher(key24)
	if err != nil {
		return nil, errf(KindCrypto, "3des cipher: %v", err)
	}
	out := make([]byte, len(data))
	iv := make([]byte, 8)
	copy(iv, iv8)
	for i := 0; i < len(data); i += 8 {
		tmp := make([]byte, 8)
		c.Decrypt(tmp, data[i:i+8])
		copy(out[i:i+8], xor8(tmp, iv))
		copy(iv, data[i:i+8])
	}
	return out, nil
}

// retailMAC computes ISO/IEC 9797-1 MAC algorithm 3 ("Retail MAC"): single
// DES CBC-MAC under K1 over every block, then a decrypt-K2, encrypt-K1
// output transformation of that result (so the last block is in effect
// 3DES-encrypted). data
// must already be block-aligned (callers pad80 it first where the calling
// formula requires that — see §4.4/§4.5.1). key must expand to a 16/24-byte
// 3DES key.
func retailMAC(key, icv8, data []byte) ([]byte, *Error) {
	key24, kerr := expandDESKey(key)
	if kerr != nil {
		return nil, kerr
	}
	if len(icv8) != 8 {
		return nil, errf(KindCrypto, "ICV must be 8 bytes, got %d", len(icv8))
	}
	if len(data) == 0 || len(data)%8 != 0 {
		return nil, errf(KindCrypto, "retail MAC input must be a non-zero multiple of 8 bytes, got %d", len(data))
	}
	k1 := key24[0:8]
	k2 := key24[8:16]

	padded := data

	c, err := des.NewCipher(k1)
	if err != nil {
		return nil, errf(KindCrypto, "des cipher: %v", err)
	}
	iv := make([]byte, 8)
	copy(iv, icv8)
	tmp := make([]byte, 8)
	for i := 0; i < len(padded); i += 8 {
		copy(tmp, xor8(padded[i:i+8], iv))
		c.Encrypt(iv, tmp)
	}
	last := append([]byte{}, iv...)

	last, derr := desECBDecrypt(k2, last)
	if derr != nil {
		return nil, derr
	}
	last, eerr := desECBEncrypt(k1, last)
	if eerr != nil {
		return nil, eerr
	}
	return last, nil
}

// full3DESMAC computes a full 3DES-CBC MAC: 3DES-CBC encrypt block-aligned
// data under the full key and given IV, and return the last block. data
// must already be block-aligned (callers pad80 it first).
func full3DESMAC(key, icv8, data []byte) ([]byte, *Error) {
	if len(icv8) != 8 {
		return nil, errf(KindCrypto, "ICV must be 8 bytes, got %d", len(icv8))
	}
	if len(data) == 0 || len(data)%8 != 0 {
		return nil, errf(KindCrypto, "full 3DES MAC input must be a non-zero multiple of 8 bytes, got %d", len(data))
	}
	enc, err := tdesCBCEncrypt(key, icv8, data)
	if err != nil {
		return nil, err
	}
	return enc[len(enc)-8:], nil
}
