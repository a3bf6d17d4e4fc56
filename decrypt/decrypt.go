// Package decrypt implements AES-128-CBC segment decryption for encrypted
// HLS variants, including per-URI key caching for playlists that rotate
// keys between segments.
package decrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ytget/ytresolve/errs"
	"github.com/ytget/ytresolve/internal/metrics"
)

// KeySize is the AES-128 key length in bytes.
const KeySize = 16

// Context holds the key and IV for a run of segments.
type Context struct {
	Key []byte
	IV  []byte
}

// NewContext validates key and iv lengths.
func NewContext(key, iv []byte) (Context, error) {
	if len(key) != KeySize {
		return Context{}, errs.Crypto(errs.CodeKeyFetchFailed, fmt.Sprintf("key is %d bytes, want %d", len(key), KeySize), nil)
	}
	if len(iv) != aes.BlockSize {
		return Context{}, errs.Crypto(errs.CodeInvalidPadding, fmt.Sprintf("iv is %d bytes, want %d", len(iv), aes.BlockSize), nil)
	}
	return Context{Key: key, IV: iv}, nil
}

// Decrypt decrypts data with AES-128-CBC and strips PKCS#7 padding. The
// input is not modified. A zero Context passes data through.
func Decrypt(c Context, data []byte) ([]byte, error) {
	if c.Key == nil {
		return data, nil
	}
	out, err := decrypt(c, data)
	metrics.Segments.WithLabelValues(metrics.Outcome(err)).Inc()
	return out, err
}

func decrypt(c Context, data []byte) ([]byte, error) {
	if _, err := NewContext(c.Key, c.IV); err != nil {
		return nil, err
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, errs.Crypto(errs.CodeInvalidPadding, fmt.Sprintf("ciphertext length %d is not a positive multiple of %d", len(data), aes.BlockSize), nil)
	}
	block, err := aes.NewCipher(c.Key)
	if err != nil {
		return nil, errs.Crypto(errs.CodeKeyFetchFailed, "init cipher", err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, c.IV).CryptBlocks(out, data)
	return unpad(out)
}

// unpad checks that every padding byte equals the padding length (1..16).
func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errs.Crypto(errs.CodeInvalidPadding, fmt.Sprintf("padding length %d", n), nil)
	}
	if !bytes.Equal(b[len(b)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, errs.Crypto(errs.CodeInvalidPadding, "inconsistent padding bytes", nil)
	}
	return b[:len(b)-n], nil
}

// Encrypt pads plain with PKCS#7 and encrypts it with AES-128-CBC.
func Encrypt(c Context, plain []byte) ([]byte, error) {
	if _, err := NewContext(c.Key, c.IV); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(c.Key)
	if err != nil {
		return nil, errs.Crypto(errs.CodeKeyFetchFailed, "init cipher", err)
	}
	n := aes.BlockSize - len(plain)%aes.BlockSize
	buf := make([]byte, len(plain)+n)
	copy(buf, plain)
	for i := len(plain); i < len(buf); i++ {
		buf[i] = byte(n)
	}
	cipher.NewCBCEncrypter(block, c.IV).CryptBlocks(buf, buf)
	return buf, nil
}

// IVForSequence returns the implicit IV of a segment whose key tag carries
// none: the media sequence number as a big-endian 128-bit integer.
func IVForSequence(seq uint64) []byte {
	iv := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint64(iv[8:], seq)
	return iv
}

// ParseIV decodes an EXT-X-KEY IV attribute: "0x" followed by up to 32 hex
// digits, left padded with zeros.
func ParseIV(s string) ([]byte, error) {
	h := strings.TrimSpace(s)
	h = strings.TrimPrefix(strings.TrimPrefix(h, "0x"), "0X")
	if h == "" || len(h) > 2*aes.BlockSize {
		return nil, fmt.Errorf("invalid IV %q", s)
	}
	h = strings.Repeat("0", 2*aes.BlockSize-len(h)) + h
	iv, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("invalid IV %q: %w", s, err)
	}
	return iv, nil
}
