package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/cespare/xxhash"
	"github.com/rakutentech/jwk-go/jwk"
	"golang.org/x/crypto/argon2"
)

const (
	SizeOfKey   = 32
	SizeOfNonce = 12
	SizeOfSalt  = 16
)

var ErrorWrongPassphrase = errors.New("wrong passphrase")

func GenerateSigningKey() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating public/private key pair: %w", err)
	}
	return key, nil
}

// KeyID derives a short stable identifier for a public key.
func KeyID(publicKey *ecdsa.PublicKey) string {
	h := xxhash.New()
	h.Write(publicKey.X.Bytes())
	h.Write(publicKey.Y.Bytes())
	return base58.Encode(h.Sum(nil))
}

func marshalJWK(key interface{}, keyID string) ([]byte, error) {
	rawJWK, err := jwk.NewSpec(key).ToJWK()
	if err != nil {
		return nil, fmt.Errorf("creating JWK: %w", err)
	}

	rawJWK.Use = "sig"
	rawJWK.Alg = "ES256"
	rawJWK.Kid = keyID
	rawJWK.Crv = "P-256"

	keyData, err := rawJWK.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshalling JWK: %w", err)
	}
	return keyData, nil
}

// SealPrivateKey encrypts the JWK form of privateKey with a key derived from
// passphrase. The result is salt.nonce.ciphertext, each part base64 encoded.
func SealPrivateKey(privateKey *ecdsa.PrivateKey, keyID string, passphrase string) (string, error) {
	keyData, err := marshalJWK(privateKey, keyID)
	if err != nil {
		return "", err
	}

	salt, err := RandomBytes(SizeOfSalt)
	if err != nil {
		return "", fmt.Errorf("creating salt: %w", err)
	}
	nonce, err := RandomBytes(SizeOfNonce)
	if err != nil {
		return "", fmt.Errorf("creating AES nonce: %w", err)
	}

	aesgcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	ciphertext := aesgcm.Seal(nil, nonce, keyData, []byte(keyID))

	sb := strings.Builder{}
	sb.WriteString(base64.StdEncoding.EncodeToString(salt))
	sb.WriteRune('.')
	sb.WriteString(base64.StdEncoding.EncodeToString(nonce))
	sb.WriteRune('.')
	sb.WriteString(base64.StdEncoding.EncodeToString(ciphertext))

	return sb.String(), nil
}

func OpenPrivateKey(sealed string, keyID string, passphrase string) (*ecdsa.PrivateKey, error) {
	parts := strings.Split(sealed, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid sealed key")
	}
	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	aesgcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	keyData, err := aesgcm.Open(nil, nonce, ciphertext, []byte(keyID))
	if err != nil {
		return nil, ErrorWrongPassphrase
	}

	keySpec, err := jwk.Parse(string(keyData))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	privateKey, ok := keySpec.Key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected key type %T", keySpec.Key)
	}
	return privateKey, nil
}

// PublicJWK returns the JSON web key for publicKey.
func PublicJWK(publicKey *ecdsa.PublicKey, keyID string) (json.RawMessage, error) {
	keyData, err := marshalJWK(publicKey, keyID)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(keyData), nil
}

func ParsePublicJWK(data []byte) (*ecdsa.PublicKey, error) {
	keySpec, err := jwk.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	publicKey, ok := keySpec.Key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected key type %T", keySpec.Key)
	}
	return publicKey, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, SizeOfKey)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM cipher: %w", err)
	}
	return aesgcm, nil
}
