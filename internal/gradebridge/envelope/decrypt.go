package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/types"
)

var ErrDecryption = errors.New("envelope decryption failed")

// Padding selects the RSA scheme protecting the AES key.
type Padding string

const (
	PaddingPKCS1v15 Padding = "pkcs1v15"
	PaddingOAEP     Padding = "oaep" // OAEP with SHA-256
)

func ParsePadding(s string) (Padding, error) {
	switch p := Padding(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PaddingPKCS1v15:
		return PaddingPKCS1v15, nil
	case PaddingOAEP:
		return PaddingOAEP, nil
	default:
		return "", fmt.Errorf("unknown RSA padding %q", s)
	}
}

type Decryptor struct {
	key     *rsa.PrivateKey
	padding Padding
}

func NewDecryptor(key *rsa.PrivateKey, padding Padding) (*Decryptor, error) {
	if key == nil {
		return nil, errors.New("decryptor: private key is required")
	}
	if padding == "" {
		padding = PaddingPKCS1v15
	}
	return &Decryptor{key: key, padding: padding}, nil
}

// Decrypt opens payload.  On any failure it returns ErrDecryption and a
// zero Submission, never a partially decrypted one.
func (d *Decryptor) Decrypt(payload string) (types.Submission, error) {
	sub, err := d.open(payload)
	if err != nil {
		return types.Submission{}, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return sub, nil
}

func (d *Decryptor) open(payload string) (types.Submission, error) {
	raw, err := decodeBase64(payload)
	if err != nil {
		return types.Submission{}, fmt.Errorf("payload: %w", err)
	}

	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return types.Submission{}, fmt.Errorf("parse envelope: %w", err)
	}
	if env.AESKey == "" || env.IV == "" || env.User == "" {
		return types.Submission{}, errors.New("envelope lacks aesKey, iv or user")
	}

	block, iv, err := d.openKey(env.AESKey, env.IV)
	if err != nil {
		return types.Submission{}, err
	}

	user, err := decryptField(block, iv, env.User)
	if err != nil {
		return types.Submission{}, fmt.Errorf("user: %w", err)
	}
	if !utf8.Valid(user) {
		return types.Submission{}, errors.New("user: not valid UTF-8")
	}

	files := make([]types.File, 0, len(env.Files))
	for i, f := range env.Files {
		content, err := decryptField(block, iv, f.Content)
		if err != nil {
			return types.Submission{}, fmt.Errorf("file[%d] %q: %w", i, f.Name, err)
		}
		files = append(files, types.File{Name: f.Name, Content: content})
	}

	sub := types.Submission{
		User:          string(user),
		CourseIDs:     []string(env.CourseID),
		AssignmentIDs: []string(env.AssignmentID),
		HalfCredit:    bool(env.HalfCredit),
		Files:         files,
	}
	if env.Points.Set {
		p := env.Points.Value
		sub.Points = &p
	}
	return sub, nil
}

func (d *Decryptor) openKey(encKey, encIV string) (cipher.Block, []byte, error) {
	wrapped, err := decodeBase64(encKey)
	if err != nil {
		return nil, nil, fmt.Errorf("aesKey: %w", err)
	}

	var key []byte
	switch d.padding {
	case PaddingOAEP:
		key, err = rsa.DecryptOAEP(sha256.New(), rand.Reader, d.key, wrapped, nil)
	default:
		key, err = rsa.DecryptPKCS1v15(rand.Reader, d.key, wrapped)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("unwrap aesKey: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("aesKey: %w", err)
	}

	iv, err := decodeBase64(encIV)
	if err != nil {
		return nil, nil, fmt.Errorf("iv: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, nil, fmt.Errorf("iv: length %d, want %d", len(iv), aes.BlockSize)
	}
	return block, iv, nil
}

func decryptField(block cipher.Block, iv []byte, encoded string) ([]byte, error) {
	ct, err := decodeBase64(encoded)
	if err != nil {
		return nil, err
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a positive multiple of %d", len(ct), aes.BlockSize)
	}

	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)
	return unpad(pt)
}

// unpad strips PKCS#7 padding.
func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errors.New("bad padding")
	}
	if !bytes.Equal(b[len(b)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, errors.New("bad padding")
	}
	return b[:len(b)-n], nil
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

// decodeBase64 accepts standard and URL alphabets, padded or not, and
// ignores embedded whitespace (spreadsheet cells wrap long values).
func decodeBase64(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return nil, errors.New("empty base64 value")
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("invalid base64")
}
