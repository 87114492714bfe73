// Package meshcrypto implements the Plejd mesh's two cryptographic
// primitives: the per-gateway XOR keystream used to encrypt/decrypt every
// frame on the data and lastdata characteristics, and the SHA-256
// challenge/response used during authentication.
package meshcrypto

import (
	"crypto/aes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeySize is the length in bytes of the site's symmetric key.
const KeySize = 16

// AddressSize is the length in bytes of a BLE hardware address.
const AddressSize = 6

// Keystream derives the 16-byte AES-ECB keystream block for a gateway.
//
// The block is built by reversing the gateway's 6-byte BLE address into
// little-endian order, concatenating it with itself and its first 4 bytes
// (addr ∥ addr ∥ addr[0:4]), and encrypting that single 16-byte block with
// AES under the site key. ECB is safe here only because exactly one block
// is ever encrypted; it is never used to encrypt payload data directly.
func Keystream(key [KeySize]byte, gatewayAddr [AddressSize]byte) ([16]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return [16]byte{}, fmt.Errorf("meshcrypto: new cipher: %w", err)
	}

	var reversed [AddressSize]byte
	for i := range gatewayAddr {
		reversed[i] = gatewayAddr[AddressSize-1-i]
	}

	var buf [16]byte
	copy(buf[0:6], reversed[:])
	copy(buf[6:12], reversed[:])
	copy(buf[12:16], reversed[:4])

	var out [16]byte
	block.Encrypt(out[:], buf[:])
	return out, nil
}

// XORCrypt applies the gateway keystream to data, returning the transformed
// bytes. The operation is its own inverse: applying it twice with the same
// key and gateway address yields the original bytes back.
func XORCrypt(key [KeySize]byte, gatewayAddr [AddressSize]byte, data []byte) ([]byte, error) {
	stream, err := Keystream(key, gatewayAddr)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ stream[i%16]
	}
	return out, nil
}

// AuthResponse computes the response to a 16-byte authentication challenge.
//
// response = SHA256(key XOR challenge)[0:16] XOR SHA256(key XOR challenge)[16:32]
// with key and challenge treated as 16-byte big-endian integers.
func AuthResponse(key [KeySize]byte, challenge [16]byte) [16]byte {
	var xored [16]byte
	for i := range xored {
		xored[i] = key[i] ^ challenge[i]
	}

	digest := sha256.Sum256(xored[:])

	var resp [16]byte
	for i := 0; i < 16; i++ {
		resp[i] = digest[i] ^ digest[i+16]
	}
	return resp
}

// ParseKey parses a hex-encoded (optionally dash-separated) 128-bit key.
func ParseKey(s string) ([KeySize]byte, error) {
	raw, err := decodeHex(s, "-")
	var out [KeySize]byte
	if err != nil {
		return out, fmt.Errorf("meshcrypto: parse key: %w", err)
	}
	if len(raw) != KeySize {
		return out, fmt.Errorf("meshcrypto: key must be %d bytes, got %d", KeySize, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// ParseAddress parses a colon- or dash-separated BLE hardware address such
// as "AA:BB:CC:DD:EE:FF" into its 6 raw bytes, in the order written (most
// significant byte first).
func ParseAddress(s string) ([AddressSize]byte, error) {
	raw, err := decodeHex(s, ":-")
	var out [AddressSize]byte
	if err != nil {
		return out, fmt.Errorf("meshcrypto: parse address: %w", err)
	}
	if len(raw) != AddressSize {
		return out, fmt.Errorf("meshcrypto: address must be %d bytes, got %d", AddressSize, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// decodeHex strips every rune in cutset from s before hex-decoding it.
func decodeHex(s string, cutset string) ([]byte, error) {
	cleaned := s
	for _, c := range cutset {
		cleaned = strings.ReplaceAll(cleaned, string(c), "")
	}
	return hex.DecodeString(cleaned)
}
