package session

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// sealedPrefix marks an encrypted chat file.
const sealedPrefix = "CYOA1:"

const (
	saltLen    = 16
	keyLen     = 32
	iterations = 100000
)

// ErrBadPassphrase is returned when a sealed chat cannot be opened.
var ErrBadPassphrase = errors.New("wrong passphrase or corrupt chat file")

func deriveKey(pass string, salt []byte) []byte {
	return pbkdf2.Key([]byte(pass), salt, iterations, keyLen, sha256.New)
}

func compressData(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressData(b []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func newGCM(pass string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(pass, salt))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal compresses and encrypts data: prefix + base64(salt | nonce | ciphertext).
func seal(data []byte, pass string) ([]byte, error) {
	z, err := compressData(data)
	if err != nil {
		return nil, err
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	gcm, err := newGCM(pass, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	raw := append(append(salt, nonce...), gcm.Seal(nil, nonce, z, nil)...)
	return []byte(sealedPrefix + base64.StdEncoding.EncodeToString(raw)), nil
}

func isSealed(b []byte) bool {
	return bytes.HasPrefix(b, []byte(sealedPrefix))
}

func open(enc []byte, pass string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(enc[len(sealedPrefix):])))
	if err != nil {
		return nil, err
	}
	if len(raw) < saltLen {
		return nil, io.ErrUnexpectedEOF
	}
	gcm, err := newGCM(pass, raw[:saltLen])
	if err != nil {
		return nil, err
	}
	if len(raw) < saltLen+gcm.NonceSize() {
		return nil, io.ErrUnexpectedEOF
	}
	nonce := raw[saltLen : saltLen+gcm.NonceSize()]
	z, err := gcm.Open(nil, nonce, raw[saltLen+gcm.NonceSize():], nil)
	if err != nil {
		return nil, ErrBadPassphrase
	}
	return decompressData(z)
}
