package km200

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCodec_InvalidKeys(t *testing.T) {
	tests := []struct {
		name     string
		passcode string
	}{
		{"not hex", "zz"},
		{"wrong length", "00112233"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCodec(tt.passcode)
			assert.ErrorIs(t, err, ErrCrypto)
		})
	}
}

func TestCodec_OpenKnownVector(t *testing.T) {
	// FIPS-197 appendix C.1 (AES-128).
	c, err := NewCodec("000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)

	ciphertext, err := hex.DecodeString("69c4e0d86a7b0430d8cdb78070b4c55a")
	require.NoError(t, err)
	body := []byte(base64.StdEncoding.EncodeToString(ciphertext))

	plain, err := c.Open(body)
	require.NoError(t, err)
	assert.Equal(t, "00112233445566778899aabbccddeeff", hex.EncodeToString(plain))
}

func TestCodec_EncodeRoundTrip(t *testing.T) {
	c := newTestCodec(t)

	body, err := c.Encode(15.5)
	require.NoError(t, err)

	plain, err := c.Open(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":15.5}`, string(plain))
}

func TestCodec_EncodeKeepsMarkupCharacters(t *testing.T) {
	c := newTestCodec(t)

	body, err := c.Encode("a<b&c>")
	require.NoError(t, err)

	plain, err := c.Open(body)
	require.NoError(t, err)
	assert.Equal(t, `{"value":"a<b&c>"}`, string(plain))
}

func TestCodec_PaddingOnlyWhenUnaligned(t *testing.T) {
	c := newTestCodec(t)

	// {"value":"abcd"} is exactly one block.
	aligned, err := c.Encode("abcd")
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(string(aligned))
	require.NoError(t, err)
	assert.Len(t, raw, blockSize)

	// {"value":1} is shorter than one block and gets zero padding.
	short, err := c.Encode(1)
	require.NoError(t, err)
	raw, err = base64.StdEncoding.DecodeString(string(short))
	require.NoError(t, err)
	assert.Len(t, raw, blockSize)

	plain, err := c.Open(short)
	require.NoError(t, err)
	assert.Equal(t, `{"value":1}`, string(plain))
}

func TestCodec_Decode(t *testing.T) {
	c := newTestCodec(t)
	body := seal(t, c, map[string]any{
		"id":            "/dhwCircuits/dhw1/actualTemp",
		"type":          "floatValue",
		"value":         47.3,
		"unitOfMeasure": "C",
	})

	rec, err := c.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, "/dhwCircuits/dhw1/actualTemp", rec.ID())
	assert.Equal(t, json.Number("47.3"), rec["value"])
	assert.Equal(t, "C", rec["unitOfMeasure"])
}

func TestCodec_DecodeToleratesWhitespace(t *testing.T) {
	c := newTestCodec(t)
	body := seal(t, c, map[string]any{"id": "/system/info", "value": "x"})

	wrapped := append([]byte("  "), body[:8]...)
	wrapped = append(wrapped, '\r', '\n')
	wrapped = append(wrapped, body[8:]...)
	wrapped = append(wrapped, '\n')

	rec, err := c.Decode(wrapped)
	require.NoError(t, err)
	assert.Equal(t, "/system/info", rec.ID())
}

func TestCodec_DecodeErrors(t *testing.T) {
	c := newTestCodec(t)

	shortCipher := base64.StdEncoding.EncodeToString([]byte("0123456789"))
	notObject, err := c.Seal([]int{1, 2})
	require.NoError(t, err)
	noID, err := c.Seal(map[string]any{"value": 1})
	require.NoError(t, err)

	tests := []struct {
		name string
		body []byte
		want error
	}{
		{"bad base64", []byte("not base64!!"), ErrFraming},
		{"empty body", []byte(""), ErrCrypto},
		{"partial block", []byte(shortCipher), ErrCrypto},
		{"not an object", notObject, ErrParse},
		{"missing id", noID, ErrParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode(tt.body)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCodec_WrongKeyIsParseError(t *testing.T) {
	sender := newTestCodec(t)
	body := seal(t, sender, map[string]any{"id": "/system/info", "value": "x"})

	receiver, err := NewCodec("ffffffffffffffffffffffffffffffff")
	require.NoError(t, err)

	_, err = receiver.Decode(body)
	assert.ErrorIs(t, err, ErrParse)
}
