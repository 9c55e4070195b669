package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/types"
)

// Seal builds a payload the way the intake form does: a fresh AES-256
// key and IV encrypt the user and file bodies, and the key is wrapped
// with pub.  It exists for fixtures and end-to-end checks.
func Seal(pub *rsa.PublicKey, padding Padding, sub types.Submission) (string, error) {
	if pub == nil {
		return "", errors.New("seal: public key is required")
	}

	key := make([]byte, 32)
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	var (
		wrapped []byte
		err     error
	)
	switch padding {
	case PaddingOAEP:
		wrapped, err = rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	default:
		wrapped, err = rsa.EncryptPKCS1v15(rand.Reader, pub, key)
	}
	if err != nil {
		return "", fmt.Errorf("seal: wrap key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	enc := func(b []byte) string {
		padded := pad(append([]byte(nil), b...))
		out := make([]byte, len(padded))
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
		return base64.StdEncoding.EncodeToString(out)
	}

	env := wireEnvelope{
		AESKey:       base64.StdEncoding.EncodeToString(wrapped),
		IV:           base64.StdEncoding.EncodeToString(iv),
		User:         enc([]byte(sub.User)),
		CourseID:     idList(sub.CourseIDs),
		AssignmentID: idList(sub.AssignmentIDs),
		HalfCredit:   flexBool(sub.HalfCredit),
	}
	if sub.Points != nil {
		env.Points = flexNumber{Value: *sub.Points, Set: true}
	}
	for _, f := range sub.Files {
		env.Files = append(env.Files, wireFile{Name: f.Name, Content: enc(f.Content)})
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("seal: marshal: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
