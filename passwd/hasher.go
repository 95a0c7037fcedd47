// Package passwd turns plaintext passwords into self-describing argon2id
// hashes and verifies attempts against them.
//
// The stored form follows the PHC string format:
//
//	$argon2id$v=19$m=10240,t=7,p=4$<salt>$<key>
//
// so the parameters needed to verify a hash travel with it. Hashes produced
// by older deployments with bcrypt are still accepted by Verify.
package passwd

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	// 7 passes over 10 MB should be a good replacement
	// for 1 pass over 64 MB of ram.
	DefaultTime      = 7
	DefaultMemoryKiB = 10 * 1024

	DefaultSaltBytes = 16
	DefaultKeyBytes  = 32
	DefaultMinLength = 8
)

var (
	ErrPasswordTooShort = errors.New("passwd: password too short")

	b64 = base64.RawStdEncoding
)

type (
	// Params controls the cost of new hashes. Zero fields take defaults.
	Params struct {
		Time      uint32
		MemoryKiB uint32
		Threads   uint8
		SaltBytes int
		KeyBytes  int
		MinLength int
	}

	Hasher struct {
		params Params
		rand   io.Reader
	}
)

func DefaultParams() Params {
	threads := runtime.NumCPU() / 2
	if threads < 1 {
		threads = 1
	}
	if threads > 255 {
		threads = 255
	}
	return Params{
		Time:      DefaultTime,
		MemoryKiB: DefaultMemoryKiB,
		Threads:   uint8(threads),
		SaltBytes: DefaultSaltBytes,
		KeyBytes:  DefaultKeyBytes,
		MinLength: DefaultMinLength,
	}
}

func New(p Params) *Hasher {
	def := DefaultParams()
	if p.Time == 0 {
		p.Time = def.Time
	}
	if p.MemoryKiB == 0 {
		p.MemoryKiB = def.MemoryKiB
	}
	if p.Threads == 0 {
		p.Threads = def.Threads
	}
	if p.SaltBytes == 0 {
		p.SaltBytes = def.SaltBytes
	}
	if p.KeyBytes == 0 {
		p.KeyBytes = def.KeyBytes
	}
	if p.MinLength == 0 {
		p.MinLength = def.MinLength
	}
	return &Hasher{params: p, rand: rand.Reader}
}

// Hash derives a new argon2id hash of plain using a fresh random salt.
func (h *Hasher) Hash(plain string) (string, error) {
	if len(plain) < h.params.MinLength {
		return "", ErrPasswordTooShort
	}
	salt := make([]byte, h.params.SaltBytes)
	if _, err := io.ReadFull(h.rand, salt); err != nil {
		return "", fmt.Errorf("passwd: unable to read salt, cause %w", err)
	}
	p := h.params
	key := argon2.IDKey([]byte(plain), salt, p.Time, p.MemoryKiB, p.Threads, uint32(p.KeyBytes))
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.MemoryKiB, p.Time, p.Threads,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// Verify reports whether plain matches stored. A stored value that cannot
// be parsed never matches.
func (h *Hasher) Verify(plain, stored string) bool {
	switch {
	case strings.HasPrefix(stored, "$argon2id$"):
		return verifyArgon2id(plain, stored)
	case strings.HasPrefix(stored, "$2a$"), strings.HasPrefix(stored, "$2b$"), strings.HasPrefix(stored, "$2y$"):
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(plain)) == nil
	}
	return false
}

type argon2Hash struct {
	version int
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func verifyArgon2id(plain, stored string) bool {
	parsed, err := parseArgon2id(stored)
	if err != nil {
		return false
	}
	key := argon2.IDKey([]byte(plain), parsed.salt, parsed.time, parsed.memory, parsed.threads, uint32(len(parsed.key)))
	return subtle.ConstantTimeCompare(key, parsed.key) == 1
}

func parseArgon2id(stored string) (argon2Hash, error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(stored, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return argon2Hash{}, errors.New("passwd: not an argon2id hash")
	}
	var h argon2Hash
	if _, err := fmt.Sscanf(parts[2], "v=%d", &h.version); err != nil || h.version != argon2.Version {
		return argon2Hash{}, errors.New("passwd: unsupported argon2 version")
	}
	var threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &h.memory, &h.time, &threads); err != nil {
		return argon2Hash{}, fmt.Errorf("passwd: invalid argon2 parameters, cause %w", err)
	}
	if h.memory == 0 || h.time == 0 || threads == 0 || threads > 255 {
		return argon2Hash{}, errors.New("passwd: argon2 parameters out of range")
	}
	h.threads = uint8(threads)
	var err error
	h.salt, err = b64.DecodeString(parts[4])
	if err != nil || len(h.salt) == 0 {
		return argon2Hash{}, errors.New("passwd: invalid salt encoding")
	}
	h.key, err = b64.DecodeString(parts[5])
	if err != nil || len(h.key) == 0 {
		return argon2Hash{}, errors.New("passwd: invalid key encoding")
	}
	return h, nil
}
