// Package token implements the reversible cipher behind one-click
// unsubscribe links. A user identifier is transformed to and from an opaque,
// URL-safe token so the link works without a login and without any
// persisted token mapping.
//
// Encoding: pad the UTF-8 identifier with PKCS#7 to the AES block size,
// encrypt with AES-256-CBC under a key derived by hashing the shared secret,
// prepend the fresh random IV, and base64url-encode the whole thing.
// Decoding reverses every step and reports any malformed input as a
// DecodeError rather than a low-level crash.
package token

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// DecodeError indicates a token that was not produced by Encode with the
// same secret: bad base64, short input, corrupt padding, and so on. It is
// always recoverable; callers show a generic invalid-link response.
type DecodeError struct {
	Stage string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("token decode failed: %s", e.Stage)
}

// Cipher reversibly encodes user identifiers into opaque unsubscribe tokens.
// It is stateless and safe for concurrent use.
type Cipher struct {
	key [sha256.Size]byte
}

// New derives a Cipher from the shared secret. The AES-256 key is the
// SHA-256 hash of the secret.
func New(secret string) *Cipher {
	return &Cipher{key: sha256.Sum256([]byte(secret))}
}

// Encode transforms an identifier into a URL-safe opaque token. A fresh
// random IV is generated per call, so two encodings of the same identifier
// differ; both decode to the identifier.
func (c *Cipher) Encode(identifier string) (string, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	plaintext := pad([]byte(identifier), aes.BlockSize)
	buf := make([]byte, aes.BlockSize+len(plaintext))
	iv := buf[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(buf[aes.BlockSize:], plaintext)
	return base64.URLEncoding.EncodeToString(buf), nil
}

// Decode reverses Encode, returning the original identifier. Any malformed
// input yields a DecodeError.
func (c *Cipher) Decode(tok string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(tok)
	if err != nil {
		return "", &DecodeError{Stage: "base64url"}
	}

	if len(raw) < aes.BlockSize {
		return "", &DecodeError{Stage: "initialization_vector"}
	}

	iv := raw[:aes.BlockSize]
	ciphertext := raw[aes.BlockSize:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", &DecodeError{Stage: "aes"}
	}

	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	out, ok := unpad(plaintext, aes.BlockSize)
	if !ok {
		return "", &DecodeError{Stage: "padding"}
	}
	return string(out), nil
}

// pad appends PKCS#7 padding to match the cipher block size.
func pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	padded := make([]byte, len(b)+n)
	copy(padded, b)
	for i := len(b); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

// unpad strips PKCS#7 padding, rejecting padding lengths outside
// [1, blockSize] or exceeding the buffer.
func unpad(b []byte, blockSize int) ([]byte, bool) {
	if len(b) == 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n < 1 || n > blockSize || n >= len(b) {
		return nil, false
	}
	return b[:len(b)-n], true
}
