package idgen

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NodeIDLength is the length of generated node ids.
const NodeIDLength = 8

// EncodeBase36 converts a byte slice to a base36 string of specified length.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	var result strings.Builder
	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	// Build the string in reverse
	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}
	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}

	// Truncate to exact length if needed (keep least significant digits)
	if len(str) > length {
		str = str[len(str)-length:]
	}

	return str
}

// Generator hands out node ids. Implementations must be safe for concurrent use.
type Generator interface {
	NewID() string
}

// Random generates node ids from crypto/rand.
type Random struct{}

// NewID returns a fresh 8-character base36 node id.
func (Random) NewID() string {
	return NewNodeID()
}

// NewNodeID returns a fresh 8-character base36 node id.
func NewNodeID() string {
	var buf [6]byte // 48 bits ≈ 9.3 base36 chars, truncated to 8
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is unrecoverable for id uniqueness; fall back to time
		return GenerateHashID("", fmt.Sprint(time.Now().UnixNano()), NodeIDLength, 0)
	}
	return EncodeBase36(buf[:], NodeIDLength)
}

// Sequence generates predictable ids ("n1", "n2", ...). Used in tests and for
// synthesizing ids on documents loaded without persisted ids.
type Sequence struct {
	Prefix string

	mu   sync.Mutex
	next int
}

// NewID returns the next id in the sequence.
func (s *Sequence) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	prefix := s.Prefix
	if prefix == "" {
		prefix = "n"
	}
	return fmt.Sprintf("%s%d", prefix, s.next)
}

// NewDocID returns a fresh 8-hex-character document id.
func NewDocID() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		sum := sha256.Sum256([]byte(fmt.Sprint(time.Now().UnixNano())))
		return hex.EncodeToString(sum[:4])
	}
	return hex.EncodeToString(buf[:])
}

// IsDocID reports whether s looks like a document id.
func IsDocID(s string) bool {
	if len(s) != 8 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// GenerateHashID creates a content-derived base36 id. Uses base36 encoding
// (0-9, a-z) for better information density than hex. The length parameter is
// expected to be 3-8; other values fall back to a 3-byte width. An empty prefix
// yields a bare id.
func GenerateHashID(prefix, content string, length, nonce int) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", content, nonce)))

	var numBytes int
	switch length {
	case 3:
		numBytes = 2 // 2 bytes = 16 bits ≈ 3.09 base36 chars
	case 4:
		numBytes = 3 // 3 bytes = 24 bits ≈ 4.63 base36 chars
	case 5, 6:
		numBytes = 4 // 4 bytes = 32 bits ≈ 6.18 base36 chars
	case 7:
		numBytes = 5 // 5 bytes = 40 bits ≈ 7.73 base36 chars
	case 8:
		numBytes = 6 // 6 bytes = 48 bits ≈ 9.28 base36 chars
	default:
		numBytes = 3
	}

	shortHash := EncodeBase36(hash[:numBytes], length)
	if prefix == "" {
		return shortHash
	}
	return fmt.Sprintf("%s-%s", prefix, shortHash)
}
