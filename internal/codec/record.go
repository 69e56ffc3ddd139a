// Package codec implements record value framing and the peer wire envelope
// (spec sections 3 "Record", 4.1, and 6 "Peer wire protocol").
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"neromon/internal/nodeid"
)

// Tag enumerates the recognised record metadata tags (spec 3, "Record").
type Tag string

const (
	TagUser          Tag = "user"
	TagListing       Tag = "listing"
	TagProductRating Tag = "product_rating"
	TagSellerRating  Tag = "seller_rating"
	TagMessage       Tag = "message"
)

// RecordValue is the parsed shape of a stored record's value: every record
// value is a UTF-8 JSON document carrying a "metadata" tag plus whatever
// fields that tag requires. Unknown extra fields are preserved verbatim
// (spec 9, "dynamic typing... unknown extra fields are preserved verbatim
// to avoid lossy re-storage") by round-tripping through a raw map rather
// than a fixed struct.
type RecordValue struct {
	Tag    Tag
	Fields map[string]json.RawMessage
}

// Canonical re-marshals the record with its top-level keys sorted and no
// whitespace between them, so that two values differing only in top-level
// key order hash to the same content key. Each field's value is copied
// byte-for-byte: whitespace and key order inside nested objects or arrays
// are not normalised.
func (r RecordValue) Canonical() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(r.Fields)+1)
	for k, v := range r.Fields {
		m[k] = v
	}
	tagJSON, err := json.Marshal(string(r.Tag))
	if err != nil {
		return nil, err
	}
	m["metadata"] = tagJSON

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortStrings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(m[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// ParseRecordValue parses raw stored bytes into a RecordValue, failing if
// the document is not valid UTF-8 JSON or lacks a recognised "metadata" tag.
func ParseRecordValue(raw []byte) (RecordValue, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return RecordValue{}, fmt.Errorf("codec: value is not a JSON object: %w", err)
	}
	tagRaw, ok := m["metadata"]
	if !ok {
		return RecordValue{}, fmt.Errorf("codec: value missing required \"metadata\" field")
	}
	var tag string
	if err := json.Unmarshal(tagRaw, &tag); err != nil {
		return RecordValue{}, fmt.Errorf("codec: \"metadata\" is not a string: %w", err)
	}
	switch Tag(tag) {
	case TagUser, TagListing, TagProductRating, TagSellerRating, TagMessage:
	default:
		return RecordValue{}, fmt.Errorf("codec: unrecognised metadata tag %q", tag)
	}
	delete(m, "metadata")
	return RecordValue{Tag: Tag(tag), Fields: m}, nil
}

// RequiredFields lists the fields spec 6 mandates be present for a tag.
// product_rating/seller_rating additionally require exactly one of
// (stars) or (score); that disjunction is checked separately by
// ValidateStructure, which also calls this.
func RequiredFields(tag Tag) []string {
	switch tag {
	case TagUser:
		return []string{"public_key", "signature", "monero_address", "created_at"}
	case TagListing:
		return []string{"id", "seller_id", "quantity", "price", "currency", "condition", "date", "product", "signature"}
	case TagProductRating, TagSellerRating:
		return []string{"rater_id", "signature"}
	default:
		return nil
	}
}

// ValidateStructure checks that value carries every field RequiredFields
// names for tag (a listed field holding a string must be non-empty, so a
// tag whose list includes "signature" needs a non-empty one; tags with no
// required fields, such as message, need no signature), and, for product_rating/
// seller_rating, exactly one of a "stars" field in 1-5 or a "score" field
// in {0,1} (spec 6 "Record tags & required fields"). It is the core's
// default Store validator (spec 4.3: "core ships with structural
// validators").
func ValidateStructure(tag Tag, value []byte) (bool, string) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(value, &m); err != nil {
		return false, "value is not a JSON object"
	}
	for _, field := range RequiredFields(tag) {
		raw, ok := m[field]
		if !ok {
			return false, fmt.Sprintf("missing required field %q", field)
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s == "" {
			return false, fmt.Sprintf("required field %q is empty", field)
		}
	}
	if tag == TagProductRating || tag == TagSellerRating {
		starsRaw, hasStars := m["stars"]
		scoreRaw, hasScore := m["score"]
		switch {
		case hasStars == hasScore:
			return false, "exactly one of \"stars\" or \"score\" is required"
		case hasStars:
			var stars int
			if err := json.Unmarshal(starsRaw, &stars); err != nil || stars < 1 || stars > 5 {
				return false, "\"stars\" must be an integer in 1-5"
			}
		case hasScore:
			var score int
			if err := json.Unmarshal(scoreRaw, &score); err != nil || (score != 0 && score != 1) {
				return false, "\"score\" must be 0 or 1"
			}
		}
	}
	return true, ""
}

// Record is the stored value together with its store-level metadata (spec
// 3, "Record").
type Record struct {
	Key         nodeid.Key
	Value       []byte
	Timestamp   time.Time
	TTL         time.Duration
	RepublishAt time.Time
	Origin      nodeid.NodeID
}
