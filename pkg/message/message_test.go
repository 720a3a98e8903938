package message

import (
	"crypto/ecdsa"
	"encoding/json"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"

	"uk.co.dudmesh.gatehouse/pkg/crypt"
)

func TestMessage(t *testing.T) {
	assert := assert.New(t)

	privateKey, err := crypt.GenerateSigningKey()
	assert.Nil(err)

	publicKey := privateKey.PublicKey
	keyID := crypt.KeyID(&publicKey)

	payload := map[string]interface{}{
		"content": "New user registered: alice",
	}
	m, id, err := Sign(payload, keyID, "user.register.after", privateKey)
	assert.Nil(err)
	assert.NotEmpty(m)
	assert.True(strings.HasSuffix(id, "."+keyID))

	keyFn := func(header *Header) (*ecdsa.PublicKey, error) {
		assert.Equal(keyID, header.KeyID)
		return &publicKey, nil
	}

	t.Run("Parse", func(t *testing.T) {
		m2, err := Parse([]byte(m), keyFn)
		assert.Nil(err)
		if !assert.NotNil(m2) {
			return
		}
		assert.Equal(id, m2.ID)
		assert.Equal("user.register.after", m2.Event)

		m2data := make(map[string]interface{})
		assert.Nil(json.Unmarshal(m2.Payload, &m2data))
		assert.Equal(payload["content"], m2data["content"])
	})

	t.Run("Compatible with JWT verifiers", func(t *testing.T) {
		parsed, err := jwt.Parse(m, func(token *jwt.Token) (interface{}, error) {
			return &publicKey, nil
		})
		assert.Nil(err)
		if assert.NotNil(parsed) {
			assert.True(parsed.Valid)
		}
	})

	t.Run("Tampered payload", func(t *testing.T) {
		parts := strings.Split(m, ".")
		parts[1] = encodeSegment([]byte(`{"content":"forged"}`))
		_, err := Parse([]byte(strings.Join(parts, ".")), keyFn)
		assert.ErrorIs(err, ErrorInvalidSignature)
	})

	t.Run("Wrong key", func(t *testing.T) {
		other, err := crypt.GenerateSigningKey()
		assert.Nil(err)
		_, err = Parse([]byte(m), func(header *Header) (*ecdsa.PublicKey, error) {
			return &other.PublicKey, nil
		})
		assert.ErrorIs(err, ErrorInvalidSignature)
	})

	t.Run("Malformed", func(t *testing.T) {
		_, err := Parse([]byte("a.b"), keyFn)
		assert.ErrorIs(err, ErrorInvalidMessage)

		_, _, err = Sign(nil, keyID, "x", privateKey)
		assert.ErrorIs(err, ErrorMissingPayload)
	})
}
