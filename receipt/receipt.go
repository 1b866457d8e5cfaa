// Package receipt implements the opaque receipt token binding a message
// ID to its original sender.
//
// The token is an obfuscation, not a security boundary: it keeps clients
// from treating the correlation id as structured data, and lets the
// receiving side silently ignore tokens minted by unrelated protocol
// extensions. Malformed or foreign tokens parse to no match rather than
// an error.
package receipt

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20"

	"github.com/opd-ai/courier/identity"
)

// tokenMagic is checked after decryption to reject foreign tokens.
const tokenMagic = "crv1"

// tokenSep separates the message id from the sender address inside the
// plaintext. Message ids never contain it.
const tokenSep = '#'

// Codec builds and parses receipt tokens under a shared obfuscation key.
// Both sides of a deployment use the same key; the zero-value key of a
// deployment that never configures one still yields a working, merely
// less opaque, token.
type Codec struct {
	key [chacha20.KeySize]byte
}

// NewCodec creates a codec from an arbitrary-length key. The key is
// cycled into the cipher key, so short deployment keys are accepted.
func NewCodec(key []byte) *Codec {
	c := &Codec{}
	for i := range c.key {
		if len(key) > 0 {
			c.key[i] = key[i%len(key)]
		}
	}
	return c
}

// Build creates a token binding msgID to the sender's full address.
func (c *Codec) Build(sender identity.Identity, domain, msgID string) (string, error) {
	plain := fmt.Sprintf("%s%s%c%s", tokenMagic, msgID, tokenSep, sender.Address(domain))

	var nonce [chacha20.NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("receipt token nonce: %w", err)
	}

	buf := make([]byte, len(nonce)+len(plain))
	copy(buf, nonce[:])
	c.apply(nonce[:], buf[len(nonce):], []byte(plain))
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Parse recovers the message id and sender from a token. It returns
// ok=false for malformed tokens, tokens under a different key, and
// anything else that does not decode cleanly.
func (c *Codec) Parse(token string) (msgID string, sender identity.Identity, ok bool) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) <= chacha20.NonceSize {
		return "", identity.Identity{}, false
	}

	nonce := raw[:chacha20.NonceSize]
	plain := make([]byte, len(raw)-chacha20.NonceSize)
	c.apply(nonce, plain, raw[chacha20.NonceSize:])

	s := string(plain)
	if !strings.HasPrefix(s, tokenMagic) {
		return "", identity.Identity{}, false
	}
	s = s[len(tokenMagic):]

	sep := strings.IndexByte(s, tokenSep)
	if sep <= 0 {
		return "", identity.Identity{}, false
	}
	id, _, err := identity.Parse(s[sep+1:])
	if err != nil || id.IsBare() {
		logrus.WithFields(logrus.Fields{
			"function": "Parse",
		}).Debug("Receipt token carried an unusable sender address")
		return "", identity.Identity{}, false
	}
	return s[:sep], id, true
}

// apply runs the keystream over src into dst. Encryption and decryption
// are the same operation.
func (c *Codec) apply(nonce, dst, src []byte) {
	cipher, err := chacha20.NewUnauthenticatedCipher(c.key[:], nonce)
	if err != nil {
		// Key and nonce sizes are fixed at compile time; this cannot
		// fail for them.
		panic(err)
	}
	cipher.XORKeyStream(dst, src)
}
