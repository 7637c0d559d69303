package ident

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// binarySubtype marks ident.ID values stored as BSON binary.
const binarySubtype = 0x80

// HookFunc lets tests override New. override=false falls back to random generation.
type HookFunc func() (id ID, override bool)

// NewHook is consulted by New when set.
var NewHook HookFunc

// ErrInvalidID is returned by Parse for malformed input.
var ErrInvalidID = errors.New("invalid id")

// ID is a 6-byte random record identifier, rendered as 10 Crockford base32 characters.
type ID [6]byte

// New returns a random ID.
func New() ID {
	if NewHook != nil {
		if id, override := NewHook(); override {
			return id
		}
	}
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		panic(fmt.Sprintf("ident: crypto/rand failed: %v", err))
	}
	return id
}

const alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var decodeMap [256]int8

func init() {
	for i := range decodeMap {
		decodeMap[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		decodeMap[alphabet[i]] = int8(i)
		decodeMap[strings.ToLower(alphabet)[i]] = int8(i)
	}
	decodeMap['O'], decodeMap['o'] = 0, 0
	decodeMap['I'], decodeMap['i'] = 1, 1
	decodeMap['L'], decodeMap['l'] = 1, 1
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

func (id ID) String() string {
	out := make([]byte, 0, 10)
	var bits uint
	var n uint
	for i := 0; i < len(id); i++ {
		bits |= uint(id[i]) << n
		n += 8
		for n >= 5 {
			out = append(out, alphabet[bits&0x1F])
			bits >>= 5
			n -= 5
		}
	}
	if n > 0 {
		out = append(out, alphabet[bits&0x1F])
	}
	return string(out)
}

// Parse decodes the Crockford base32 form produced by String. Hyphens are ignored.
func Parse(s string) (ID, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "-", "")
	if len(s) != 10 {
		return ID{}, fmt.Errorf("%w: %q must be 10 characters", ErrInvalidID, s)
	}
	var id ID
	var bits uint64
	var n uint
	idx := 0
	for i := 0; i < len(s); i++ {
		v := decodeMap[s[i]]
		if v < 0 {
			return ID{}, fmt.Errorf("%w: bad character %q", ErrInvalidID, s[i])
		}
		bits |= uint64(v) << n
		n += 5
		for n >= 8 && idx < len(id) {
			id[idx] = byte(bits & 0xFF)
			idx++
			bits >>= 8
			n -= 8
		}
	}
	if idx != len(id) {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return id, nil
}

// MustParse is Parse for constants in tests and fixtures.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*id = ID{}
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MarshalBSONValue stores the id as BSON binary with a custom subtype.
func (id ID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(primitive.Binary{Subtype: binarySubtype, Data: id[:]})
}

func (id *ID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t == bsontype.Null || t == bsontype.Undefined {
		*id = ID{}
		return nil
	}
	subtype, bin, ok := bson.RawValue{Type: t, Value: data}.BinaryOK()
	if !ok {
		return fmt.Errorf("%w: expected BSON binary, got %s", ErrInvalidID, t)
	}
	if subtype != binarySubtype || len(bin) != len(id) {
		return fmt.Errorf("%w: subtype %#x length %d", ErrInvalidID, subtype, len(bin))
	}
	copy(id[:], bin)
	return nil
}
