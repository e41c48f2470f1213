package gitcore

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HashLen is the width of a hexadecimal SHA-1 object identifier.
const HashLen = 40

// Hash represents a Git object hash.
type Hash string

// NewHash creates a Hash from a hexadecimal string, validating its format.
func NewHash(s string) (Hash, error) {
	if len(s) != HashLen {
		return "", fmt.Errorf("invalid hash length: %d", len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("invalid hash: %w", err)
	}
	return Hash(strings.ToLower(s)), nil
}

// NewHashFromBytes creates a Hash from a 20-byte array.
func NewHashFromBytes(b [20]byte) (Hash, error) {
	return NewHash(hex.EncodeToString(b[:]))
}

// IsValid checks if the hash has a valid format (40 hex characters for SHA-1).
func (h Hash) IsValid() bool {
	_, err := NewHash(string(h))
	return err == nil
}

// Short returns the abbreviated form used in log messages.
func (h Hash) Short() string {
	if len(h) < 7 {
		return string(h)
	}
	return string(h[:7])
}

func (h Hash) String() string {
	return string(h)
}

// ObjectType denotes the type of a Git object. Values match the pack file encoding.
type ObjectType int

const (
	NoneObject   ObjectType = 0
	CommitObject ObjectType = 1
	TreeObject   ObjectType = 2
	BlobObject   ObjectType = 3
	TagObject    ObjectType = 4
)

func StrToObjectType(s string) ObjectType {
	switch s {
	case "commit":
		return CommitObject
	case "tree":
		return TreeObject
	case "blob":
		return BlobObject
	case "tag":
		return TagObject
	default:
		return NoneObject
	}
}

func (t ObjectType) String() string {
	switch t {
	case CommitObject:
		return "commit"
	case TreeObject:
		return "tree"
	case BlobObject:
		return "blob"
	case TagObject:
		return "tag"
	default:
		return "none"
	}
}

// Commit represents a Git commit object with its metadata and relationships.
type Commit struct {
	ID        Hash
	Tree      Hash
	Parents   []Hash
	Author    Signature
	Committer Signature
	Message   string
}

// Signature represents a Git author or committer signature with name, email, and timestamp.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// NewSignature parses a signature line in the format "Name <email> timestamp zone".
func NewSignature(signLine string) (Signature, error) {
	lt := strings.IndexByte(signLine, '<')
	gt := strings.LastIndexByte(signLine, '>')
	if lt < 0 || gt < lt {
		return Signature{}, fmt.Errorf("invalid signature line: %q", signLine)
	}

	fields := strings.Fields(signLine[gt+1:])
	if len(fields) < 1 {
		return Signature{}, fmt.Errorf("invalid signature line: %q", signLine)
	}
	unixTime, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Signature{}, fmt.Errorf("invalid signature timestamp %q: %w", fields[0], err)
	}

	when := time.Unix(unixTime, 0).UTC()
	if len(fields) > 1 {
		if loc, ok := parseZone(fields[1]); ok {
			when = when.In(loc)
		}
	}

	return Signature{
		Name:  strings.TrimSpace(signLine[:lt]),
		Email: strings.TrimSpace(signLine[lt+1 : gt]),
		When:  when,
	}, nil
}

// parseZone turns a "+hhmm"/"-hhmm" offset into a fixed location.
func parseZone(s string) (*time.Location, bool) {
	if len(s) != 5 || (s[0] != '+' && s[0] != '-') {
		return nil, false
	}
	hh, err1 := strconv.Atoi(s[1:3])
	mm, err2 := strconv.Atoi(s[3:5])
	if err1 != nil || err2 != nil {
		return nil, false
	}
	offset := hh*3600 + mm*60
	if s[0] == '-' {
		offset = -offset
	}
	return time.FixedZone(s, offset), true
}
