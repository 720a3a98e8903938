package crypt

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16

	maxArgonMemory uint32 = 1024 * 1024
)

var ErrorMalformedHash = errors.New("malformed password hash")

type argonParams struct {
	variant string
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	hash    []byte
}

// HashPassword returns an argon2id hash in PHC string format.
func HashPassword(password string) (string, error) {
	salt, err := RandomBytes(argonSaltLen)
	if err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// CheckPassword reports whether password matches hash. Besides the current
// argon2id format it accepts argon2i and bcrypt hashes written by older
// deployments. An empty or malformed hash never matches.
func CheckPassword(hash string, password string) bool {
	switch {
	case hash == "":
		return false
	case strings.HasPrefix(hash, "$argon2"):
		p, err := parseArgon(hash)
		if err != nil {
			return false
		}
		var candidate []byte
		keyLen := uint32(len(p.hash))
		if p.variant == "argon2id" {
			candidate = argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, keyLen)
		} else {
			candidate = argon2.Key([]byte(password), p.salt, p.time, p.memory, p.threads, keyLen)
		}
		return subtle.ConstantTimeCompare(candidate, p.hash) == 1
	case strings.HasPrefix(hash, "$2"):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	}
	return false
}

// NeedsRehash reports whether hash was produced with anything other than the
// current argon2id parameters.
func NeedsRehash(hash string) bool {
	p, err := parseArgon(hash)
	if err != nil {
		return true
	}
	return p.variant != "argon2id" ||
		p.memory != argonMemory ||
		p.time != argonTime ||
		p.threads != argonThreads ||
		len(p.hash) != int(argonKeyLen)
}

func parseArgon(hash string) (*argonParams, error) {
	// $variant$v=19$m=..,t=..,p=..$salt$hash
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, ErrorMalformedHash
	}
	p := &argonParams{variant: parts[1]}
	if p.variant != "argon2id" && p.variant != "argon2i" {
		return nil, ErrorMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, ErrorMalformedHash
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return nil, ErrorMalformedHash
	}
	if p.time == 0 || p.threads == 0 || p.memory > maxArgonMemory {
		return nil, ErrorMalformedHash
	}

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, fmt.Errorf("decoding salt: %w", ErrorMalformedHash)
	}
	if p.hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(p.hash) == 0 {
		return nil, fmt.Errorf("decoding hash: %w", ErrorMalformedHash)
	}
	return p, nil
}

// HashSecret is the stored form of a lockbox secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func EqualHash(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
