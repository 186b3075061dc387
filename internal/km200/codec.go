package km200

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// blockSize is the AES block size. Ciphertext is always a whole number of blocks.
const blockSize = aes.BlockSize

// paddingCutset is stripped from the end of decrypted plaintext. The device
// pads with NUL bytes; some firmware appends whitespace.
const paddingCutset = "\x00 \t\r\n"

// Record is one decoded device JSON object. Numbers are kept as json.Number
// so the device's own formatting survives re-publication.
type Record map[string]any

// ID returns the record's id field, or "" when missing or not a string.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Codec encrypts and decrypts device payloads.
//
// The device uses AES in ECB mode with no IV and zero padding, wrapped in
// base64. This is a fixed third-party wire format. The key is derived once
// and the Codec is safe for concurrent use.
type Codec struct {
	block cipher.Block
}

// NewCodec hex-decodes the passcode into an AES key.
func NewCodec(passcodeHex string) (*Codec, error) {
	key, err := hex.DecodeString(strings.TrimSpace(passcodeHex))
	if err != nil {
		return nil, fmt.Errorf("%w: passcode is not hex: %w", ErrCrypto, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}
	return &Codec{block: block}, nil
}

// Decode turns a device response body into a Record.
func (c *Codec) Decode(body []byte) (Record, error) {
	plain, err := c.Open(body)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(plain))
	dec.UseNumber()

	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: record is null", ErrParse)
	}
	if rec.ID() == "" {
		return nil, fmt.Errorf("%w: record has no id", ErrParse)
	}
	return rec, nil
}

// Encode builds a write request body for value: {"value": value}, encrypted
// and base64 framed.
func (c *Codec) Encode(value any) ([]byte, error) {
	return c.Seal(map[string]any{"value": value})
}

// Seal JSON-encodes v, zero-pads it to a block boundary, encrypts it and
// base64-encodes the ciphertext. Already aligned plaintext gets no padding.
// Strings are written verbatim; <, > and & are not HTML-escaped.
func (c *Codec) Seal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	plain := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))

	if rem := len(plain) % blockSize; rem != 0 {
		plain = append(plain, make([]byte, blockSize-rem)...)
	}

	ciphertext := make([]byte, len(plain))
	for i := 0; i < len(plain); i += blockSize {
		c.block.Encrypt(ciphertext[i:i+blockSize], plain[i:i+blockSize])
	}

	out := make([]byte, base64.StdEncoding.EncodedLen(len(ciphertext)))
	base64.StdEncoding.Encode(out, ciphertext)
	return out, nil
}

// Open reverses Seal: it base64-decodes body, decrypts it and trims the
// trailing padding. The returned plaintext is the exact JSON text.
func (c *Codec) Open(body []byte) ([]byte, error) {
	framed := stripWhitespace(body)

	ciphertext := make([]byte, base64.StdEncoding.DecodedLen(len(framed)))
	n, err := base64.StdEncoding.Decode(ciphertext, framed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFraming, err)
	}
	ciphertext = ciphertext[:n]

	if len(ciphertext) == 0 || len(ciphertext)%blockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a multiple of %d", ErrCrypto, len(ciphertext), blockSize)
	}

	plain := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += blockSize {
		c.block.Decrypt(plain[i:i+blockSize], ciphertext[i:i+blockSize])
	}

	return bytes.TrimRight(plain, paddingCutset), nil
}

// stripWhitespace drops every ASCII whitespace byte. Gateways sometimes
// line-wrap the base64 body.
func stripWhitespace(b []byte) []byte {
	return bytes.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, b)
}
