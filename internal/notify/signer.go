package notify

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.gatehouse/internal/docstore"
	"uk.co.dudmesh.gatehouse/pkg/crypt"
	"uk.co.dudmesh.gatehouse/pkg/message"
)

const (
	signingKeyCollection = "site"
	signingKeyKey        = "signing_key"
)

type storedKey struct {
	KeyID     string          `json:"kid"`
	Sealed    string          `json:"sealed"`
	PublicKey json.RawMessage `json:"public"`
}

// Signer signs webhook bodies so receivers can check them against the
// published JWKS.
type Signer struct {
	keyID      string
	privateKey *ecdsa.PrivateKey
}

func NewSigner(privateKey *ecdsa.PrivateKey) *Signer {
	return &Signer{
		keyID:      crypt.KeyID(&privateKey.PublicKey),
		privateKey: privateKey,
	}
}

// LoadSigner opens the site signing key, creating and storing it sealed with
// passphrase on first use.
func LoadSigner(docs docstore.Store, passphrase string) (*Signer, error) {
	for attempt := 0; attempt < 2; attempt++ {
		stored := &storedKey{}
		err := docs.Load(signingKeyCollection, signingKeyKey, stored)
		if err == nil {
			privateKey, err := crypt.OpenPrivateKey(stored.Sealed, stored.KeyID, passphrase)
			if err != nil {
				return nil, fmt.Errorf("opening signing key: %w", err)
			}
			return NewSigner(privateKey), nil
		}
		if !errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("loading signing key: %w", err)
		}

		signer, err := createSigner(docs, passphrase)
		if errors.Is(err, docstore.ErrExists) {
			continue
		}
		return signer, err
	}
	return nil, fmt.Errorf("loading signing key: %w", docstore.ErrExists)
}

func createSigner(docs docstore.Store, passphrase string) (*Signer, error) {
	privateKey, err := crypt.GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	signer := NewSigner(privateKey)

	sealed, err := crypt.SealPrivateKey(privateKey, signer.keyID, passphrase)
	if err != nil {
		return nil, fmt.Errorf("sealing signing key: %w", err)
	}
	public, err := crypt.PublicJWK(&privateKey.PublicKey, signer.keyID)
	if err != nil {
		return nil, err
	}

	stored := &storedKey{KeyID: signer.keyID, Sealed: sealed, PublicKey: public}
	if err := docs.Insert(signingKeyCollection, signingKeyKey, stored); err != nil {
		return nil, fmt.Errorf("storing signing key: %w", err)
	}
	log.Infof("created webhook signing key %s", signer.keyID)
	return signer, nil
}

func (s *Signer) KeyID() string {
	return s.keyID
}

func (s *Signer) PublicKey() *ecdsa.PublicKey {
	return &s.privateKey.PublicKey
}

func (s *Signer) Sign(body []byte, event string) (string, error) {
	signed, _, err := message.SignBytes(body, s.keyID, event, s.privateKey)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// JWKS is the key set document served to webhook receivers.
type JWKS struct {
	Keys []json.RawMessage `json:"keys"`
}

func (s *Signer) JWKS() (*JWKS, error) {
	key, err := crypt.PublicJWK(&s.privateKey.PublicKey, s.keyID)
	if err != nil {
		return nil, err
	}
	return &JWKS{Keys: []json.RawMessage{key}}, nil
}
