package message

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/btcsuite/btcutil/base58"
)

const (
	AlgorithmES256 = "ES256"
	TypeEvent      = "x-gatehouse-event"
	Version        = "1"

	sizeOfCoordinate = 32
)

type Header struct {
	KeyID     string `json:"kid"`
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
	Version   string `json:"v"`
	Timestamp int64  `json:"ts"`
}

// Envelope is a parsed and verified message. Payload is the raw JSON body.
type Envelope struct {
	Raw     []string
	ID      string
	Header  Header
	Event   string
	Payload []byte
}

type PublicKeyFn func(header *Header) (*ecdsa.PublicKey, error)

var (
	ErrorInvalidSignature = errors.New("invalid signature")
	ErrorMissingPayload   = errors.New("missing payload")
	ErrorInvalidMessage   = errors.New("invalid message")
)

// Sign serialises payload into a compact header.payload.signature string
// signed with ES256. It returns the message and its id.
func Sign(payload interface{}, keyID string, event string, privateKey *ecdsa.PrivateKey) (string, string, error) {
	if payload == nil {
		return "", "", ErrorMissingPayload
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("marshalling payload: %w", err)
	}

	return SignBytes(payloadBytes, keyID, event, privateKey)
}

// SignBytes is Sign for a payload that is already JSON encoded.
func SignBytes(payload []byte, keyID string, event string, privateKey *ecdsa.PrivateKey) (string, string, error) {
	if len(payload) == 0 {
		return "", "", ErrorMissingPayload
	}

	header := &Header{
		KeyID:     keyID,
		Algorithm: AlgorithmES256,
		Type:      fmt.Sprintf("%s;%s", TypeEvent, event),
		Version:   Version,
		Timestamp: time.Now().UTC().UnixMilli(),
	}

	message, id, err := sign(header, payload, privateKey)
	if err != nil {
		return "", "", fmt.Errorf("signing message: %w", err)
	}
	return message, id, nil
}

func Parse(data []byte, publicKeyFn PublicKeyFn) (*Envelope, error) {
	m := &Envelope{
		Raw: strings.Split(string(data), "."),
	}

	if len(m.Raw) != 3 {
		return nil, ErrorInvalidMessage
	}

	header, err := decodeSegment(m.Raw[0])
	if err != nil {
		return nil, fmt.Errorf("decoding header: %w", err)
	}
	if err := json.Unmarshal(header, &m.Header); err != nil {
		return nil, fmt.Errorf("unmarshalling header: %w", err)
	}

	if m.Header.Algorithm != AlgorithmES256 {
		return nil, fmt.Errorf("unsupported algorithm: %s", m.Header.Algorithm)
	}

	typeParts := strings.SplitN(m.Header.Type, ";", 2)
	if typeParts[0] != TypeEvent || len(typeParts) != 2 {
		return nil, fmt.Errorf("unsupported type: %s", m.Header.Type)
	}
	m.Event = typeParts[1]

	if m.Header.Version != Version {
		return nil, fmt.Errorf("unsupported version: %s", m.Header.Version)
	}

	if err := m.verify(publicKeyFn); err != nil {
		return nil, fmt.Errorf("verifying message: %w", err)
	}

	m.Payload, err = decodeSegment(m.Raw[1])
	if err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}

	return m, nil
}

func sign(header *Header, payloadBytes []byte, privateKey *ecdsa.PrivateKey) (string, string, error) {
	sbMsg := strings.Builder{}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return "", "", fmt.Errorf("marshalling header: %w", err)
	}

	sbMsg.WriteString(encodeSegment(headerBytes))
	sbMsg.WriteString(".")
	sbMsg.WriteString(encodeSegment(payloadBytes))

	hashBytes := sha256.Sum256([]byte(sbMsg.String()))

	r, s, err := ecdsa.Sign(rand.Reader, privateKey, hashBytes[:])
	if err != nil {
		return "", "", fmt.Errorf("signing digest: %w", err)
	}
	// r and s are left padded so the signature is always 64 bytes
	signature := make([]byte, 2*sizeOfCoordinate)
	r.FillBytes(signature[:sizeOfCoordinate])
	s.FillBytes(signature[sizeOfCoordinate:])

	sbMsg.WriteString(".")
	sbMsg.WriteString(encodeSegment(signature))

	return sbMsg.String(), messageID(signature, header.KeyID), nil
}

func (m *Envelope) verify(publicKeyFn PublicKeyFn) error {
	signingString := strings.Join(m.Raw[:2], ".")

	signature, err := decodeSegment(m.Raw[2])
	if err != nil {
		return fmt.Errorf("decoding signature: %w", err)
	}

	if len(signature) != 2*sizeOfCoordinate {
		return ErrorInvalidSignature
	}

	r := new(big.Int).SetBytes(signature[:sizeOfCoordinate])
	s := new(big.Int).SetBytes(signature[sizeOfCoordinate:])

	dataHash := sha256.Sum256([]byte(signingString))

	publicKey, err := publicKeyFn(&m.Header)
	if err != nil {
		return fmt.Errorf("getting public key: %w", err)
	}
	if !ecdsa.Verify(publicKey, dataHash[:], r, s) {
		return ErrorInvalidSignature
	}

	m.ID = messageID(signature, m.Header.KeyID)
	return nil
}

func messageID(signature []byte, keyID string) string {
	sigHash := sha256.Sum256(signature)
	return base58.Encode(sigHash[:]) + "." + keyID
}

func encodeSegment(seg []byte) string {
	return base64.RawURLEncoding.EncodeToString(seg)
}

func decodeSegment(seg string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(seg, "="))
}
