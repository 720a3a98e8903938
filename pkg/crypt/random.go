package crypt

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	base32Alphabet   = "0123456789abcdefghijklmnopqrstuv"
	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890!@#$%^&*-_+=[]{}<>()"

	DefaultPasswordLength = 30
)

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}

// RandomHex returns n random bytes hex encoded, so the result has 2n characters.
func RandomHex(n int) (string, error) {
	b, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// RandomBase32 returns n characters from the lowercase base-32 alphabet.
func RandomBase32(n int) (string, error) {
	b, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, c := range b {
		out[i] = base32Alphabet[c&31]
	}
	return string(out), nil
}

func RandomBase64(n int) (string, error) {
	b, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// RandomPassword returns n characters drawn uniformly from a mixed symbol alphabet.
func RandomPassword(n int) (string, error) {
	limit := 256 - 256%len(passwordAlphabet)
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}
		for _, c := range buf {
			if int(c) >= limit {
				continue
			}
			out = append(out, passwordAlphabet[int(c)%len(passwordAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
