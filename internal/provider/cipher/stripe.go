// Package cipher implements the blowfish-cbc "stripe" stream transform
// used by tier-B: every third fixed-size block is blowfish-CBC encrypted,
// the rest pass through verbatim. Grounded on the BF_CBC_STRIPE cipher tag
// and key-derivation scheme described alongside ARL/license-token
// credentials in the pack's Deezer-shaped download client.
package cipher

import (
	"bytes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/blowfish"
)

const (
	// BlockSize is the stripe block size in bytes.
	BlockSize = 2048
	// StripeEvery is the block-index modulus: block i is transformed iff
	// i % StripeEvery == 0.
	StripeEvery = 3
)

var stripeIV = []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}

// secret is the fixed 16-byte value XORed into the derived key. It is not
// a secret in the cryptographic sense (it is a static, publicly-known
// constant of the stripe scheme) but is named "secret" to match the
// provider's own terminology.
var secret = []byte("g4el58wc0zvf9na1")

// DeriveKey computes the 16-byte stripe key from a track id:
// byte_i = hex(md5(trackId))[i] XOR hex(md5(trackId))[i+16] XOR secret[i]
func DeriveKey(trackID string) []byte {
	sum := md5.Sum([]byte(trackID))
	hexDigest := []byte(hex.EncodeToString(sum[:])) // 32 hex chars
	key := make([]byte, 16)
	for i := 0; i < 16; i++ {
		key[i] = hexDigest[i] ^ hexDigest[i+16] ^ secret[i]
	}
	return key
}

// transformBlock returns true if the block at the given zero-based index
// within the stream must be blowfish-CBC transformed.
func transformBlock(index int) bool {
	return index%StripeEvery == 0
}

// Decrypt streams src through the stripe transform and writes the result
// to dst, reading and writing BlockSize-byte chunks. The final block of a
// stream need not be a full BlockSize; it is only transformed (per
// transformBlock) when it is exactly BlockSize bytes long, matching the
// property that only full 2048-byte blocks are ever stripe-transformed.
func Decrypt(dst io.Writer, src io.Reader, trackID string) error {
	key := DeriveKey(trackID)
	block, err := blowfish.NewCipher(key)
	if err != nil {
		return fmt.Errorf("stripe: new cipher: %w", err)
	}

	buf := make([]byte, BlockSize)
	idx := 0
	for {
		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			chunk := buf[:n]
			if n == BlockSize && transformBlock(idx) {
				out, derr := decryptBlock(block, chunk)
				if derr != nil {
					return fmt.Errorf("stripe: block %d: %w", idx, derr)
				}
				chunk = out
			}
			if _, werr := dst.Write(chunk); werr != nil {
				return fmt.Errorf("stripe: write: %w", werr)
			}
			idx++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("stripe: read: %w", readErr)
		}
	}
}

func decryptBlock(block cipher.Block, in []byte) ([]byte, error) {
	if len(in)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("input length %d not a multiple of blowfish block size", len(in))
	}
	out := make([]byte, len(in))
	mode := cipher.NewCBCDecrypter(block, stripeIV)
	mode.CryptBlocks(out, in)
	return out, nil
}

func encryptBlock(block cipher.Block, in []byte) ([]byte, error) {
	if len(in)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("input length %d not a multiple of blowfish block size", len(in))
	}
	out := make([]byte, len(in))
	mode := cipher.NewCBCEncrypter(block, stripeIV)
	mode.CryptBlocks(out, in)
	return out, nil
}

// Encrypt is the inverse of Decrypt; it exists primarily to make the
// transform testable (cipher identity: encrypt then decrypt is the
// identity function) since the provider side never asks us to encrypt.
func Encrypt(dst io.Writer, src io.Reader, trackID string) error {
	key := DeriveKey(trackID)
	block, err := blowfish.NewCipher(key)
	if err != nil {
		return fmt.Errorf("stripe: new cipher: %w", err)
	}
	buf := make([]byte, BlockSize)
	idx := 0
	for {
		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			chunk := buf[:n]
			if n == BlockSize && transformBlock(idx) {
				out, eerr := encryptBlock(block, chunk)
				if eerr != nil {
					return fmt.Errorf("stripe: block %d: %w", idx, eerr)
				}
				chunk = out
			}
			if _, werr := dst.Write(chunk); werr != nil {
				return fmt.Errorf("stripe: write: %w", werr)
			}
			idx++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("stripe: read: %w", readErr)
		}
	}
}

// RoundTrip is a convenience used by tests: encrypt then decrypt plaintext
// and return the result, which must equal the input.
func RoundTrip(plaintext []byte, trackID string) ([]byte, error) {
	var enc bytes.Buffer
	if err := Encrypt(&enc, bytes.NewReader(plaintext), trackID); err != nil {
		return nil, err
	}
	var dec bytes.Buffer
	if err := Decrypt(&dec, bytes.NewReader(enc.Bytes()), trackID); err != nil {
		return nil, err
	}
	return dec.Bytes(), nil
}
