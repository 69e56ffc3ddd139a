// Package nodeid implements the 160-bit node identity space and the
// content-key derivation used to address records in the DHT.
//
// Two distinct digests are maintained on purpose: routing uses 160-bit ids
// (the classic Kademlia width) while record content addressing uses the
// full 256-bit SHA-3 digest of the record's canonical bytes. The first 160
// bits of the content hash double as the record's routing key.
package nodeid

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Length is the width of a NodeID in bytes (160 bits).
const Length = 20

// KeyLength is the width of a content Key in bytes (256 bits).
const KeyLength = 32

// NodeID is a 160-bit identifier for a DHT participant.
type NodeID [Length]byte

// Key is the 256-bit content hash identifying a stored record.
type Key [KeyLength]byte

// FromIdentity derives a NodeID from the canonical UTF-8 form of a stable
// overlay identity string, per spec 4.1 id_from_identity.
func FromIdentity(identity string) NodeID {
	sum := sha1.Sum([]byte(identity))
	var id NodeID
	copy(id[:], sum[:])
	return id
}

// Random returns a cryptographically-unimportant random id filled from src.
// Bucket refresh does not use it; kademlia's randomIDInBucket picks those
// targets.
func Random(src func([]byte)) NodeID {
	var id NodeID
	src(id[:])
	return id
}

// ParseNodeID decodes a hex-encoded 40-character string into a NodeID.
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != Length {
		return id, errLength(len(b), Length)
	}
	copy(id[:], b)
	return id, nil
}

func (id NodeID) String() string { return hex.EncodeToString(id[:]) }

// Equal reports whether two ids are identical.
func (id NodeID) Equal(other NodeID) bool { return id == other }

// Distance returns the XOR distance between two ids.
func (id NodeID) Distance(other NodeID) NodeID {
	var d NodeID
	for i := range id {
		d[i] = id[i] ^ other[i]
	}
	return d
}

// Less compares two ids as big-endian unsigned integers, used to order XOR
// distances. Equal distances are not ordered by it; routing.Table.Closest
// breaks such ties by most recent LastSeen.
func (id NodeID) Less(other NodeID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// IsZero reports whether the id is the all-zero identifier.
func (id NodeID) IsZero() bool { return id == NodeID{} }

// BucketIndex returns the position of the highest set bit of the distance
// between id and other, i.e. which k-bucket other belongs to from id's
// point of view. Distance zero (identical ids) maps to bucket 0, matching
// spec 4.1's bucket_index definition.
func BucketIndex(id, other NodeID) int {
	d := id.Distance(other)
	for i := 0; i < Length; i++ {
		for b := 0; b < 8; b++ {
			if d[i]&(0x80>>uint(b)) != 0 {
				return i*8 + b
			}
		}
	}
	return 0
}

// KeyFromContent hashes canonical record bytes with SHA-3-256 to produce
// the record's content key (spec 4.1 key_from_content).
func KeyFromContent(canonical []byte) Key {
	return sha3.Sum256(canonical)
}

// RoutingKey returns the first 160 bits of a content Key, the value used to
// navigate the routing table toward holders of the record.
func (k Key) RoutingKey() NodeID {
	var id NodeID
	copy(id[:], k[:Length])
	return id
}

func (k Key) String() string { return hex.EncodeToString(k[:]) }

// ParseKey decodes a hex-encoded 64-character string into a Key.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, err
	}
	if len(b) != KeyLength {
		return k, errLength(len(b), KeyLength)
	}
	copy(k[:], b)
	return k, nil
}

type lengthError struct {
	got, want int
}

func (e *lengthError) Error() string {
	return fmt.Sprintf("nodeid: invalid length: got %d want %d", e.got, e.want)
}

func errLength(got, want int) error { return &lengthError{got, want} }
