package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrSealedFormat = errors.New("invalid sealed value")
	ErrSealedAuth   = errors.New("sealed value authentication failed")
)

type argon2Params struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLen     uint32
}

var defaultArgon2idParams = argon2Params{
	memory:      64 * 1024,
	iterations:  3,
	parallelism: 2,
	saltLen:     16,
}

// Sealer encrypts small secrets, such as the session token, before they are
// written to the preference store. Each value gets its own salt and nonce.
type Sealer struct {
	secret []byte
	params argon2Params
}

func NewSealer(secret string) (*Sealer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("sealer secret required")
	}
	return &Sealer{secret: []byte(secret), params: defaultArgon2idParams}, nil
}

func (s *Sealer) Seal(plaintext []byte) (string, error) {
	salt := make([]byte, s.params.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	key := s.deriveKey(salt, s.params)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$xchacha20$v=1$m=%d,t=%d,p=%d$%s$%s$%s",
		s.params.memory,
		s.params.iterations,
		s.params.parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(nonce),
		b64.EncodeToString(ciphertext),
	), nil
}

func (s *Sealer) Open(sealed string) ([]byte, error) {
	parts := strings.Split(sealed, "$")
	if len(parts) != 7 || parts[1] != "xchacha20" || parts[2] != "v=1" {
		return nil, ErrSealedFormat
	}
	params, err := parseArgon2Params(parts[3])
	if err != nil {
		return nil, err
	}
	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return nil, ErrSealedFormat
	}
	nonce, err := b64.DecodeString(parts[5])
	if err != nil || len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrSealedFormat
	}
	ciphertext, err := b64.DecodeString(parts[6])
	if err != nil {
		return nil, ErrSealedFormat
	}

	key := s.deriveKey(salt, params)
	defer zeroBytes(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrSealedAuth
	}
	return plaintext, nil
}

func (s *Sealer) deriveKey(salt []byte, p argon2Params) []byte {
	return argon2.IDKey(s.secret, salt, p.iterations, p.memory, p.parallelism, chacha20poly1305.KeySize)
}

func parseArgon2Params(raw string) (argon2Params, error) {
	var p argon2Params
	for _, kv := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return argon2Params{}, ErrSealedFormat
		}
		switch k {
		case "m":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return argon2Params{}, ErrSealedFormat
			}
			p.memory = uint32(n)
		case "t":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return argon2Params{}, ErrSealedFormat
			}
			p.iterations = uint32(n)
		case "p":
			n, err := strconv.ParseUint(v, 10, 8)
			if err != nil {
				return argon2Params{}, ErrSealedFormat
			}
			p.parallelism = uint8(n)
		default:
			return argon2Params{}, ErrSealedFormat
		}
	}
	if p.memory == 0 || p.iterations == 0 || p.parallelism == 0 {
		return argon2Params{}, ErrSealedFormat
	}
	return p, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
