package codec

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseRecordValueRoundTrip(t *testing.T) {
	raw := []byte(`{"metadata":"listing","id":"u-1","seller_id":"s-1","quantity":1,"price":10,"currency":"XMR","condition":"new","date":"2026-01-01","product":{"name":"n"},"signature":"sig"}`)
	rv, err := ParseRecordValue(raw)
	if err != nil {
		t.Fatalf("ParseRecordValue: %v", err)
	}
	if rv.Tag != TagListing {
		t.Fatalf("tag = %q, want listing", rv.Tag)
	}
	if _, ok := rv.Fields["metadata"]; ok {
		t.Fatalf("metadata should be stripped from Fields")
	}
	canon, err := rv.Canonical()
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	var back map[string]json.RawMessage
	if err := json.Unmarshal(canon, &back); err != nil {
		t.Fatalf("canonical form is not valid JSON: %v", err)
	}
	if _, ok := back["metadata"]; !ok {
		t.Fatalf("canonical form dropped metadata tag")
	}
}

func TestCanonicalDeterministic(t *testing.T) {
	rv1 := RecordValue{Tag: TagUser, Fields: map[string]json.RawMessage{
		"b": json.RawMessage(`2`),
		"a": json.RawMessage(`1`),
	}}
	rv2 := RecordValue{Tag: TagUser, Fields: map[string]json.RawMessage{
		"a": json.RawMessage(`1`),
		"b": json.RawMessage(`2`),
	}}
	c1, _ := rv1.Canonical()
	c2, _ := rv2.Canonical()
	if string(c1) != string(c2) {
		t.Fatalf("canonical forms differ despite identical field sets: %s vs %s", c1, c2)
	}
}

func TestParseRecordValueRejectsUnknownTag(t *testing.T) {
	_, err := ParseRecordValue([]byte(`{"metadata":"bogus"}`))
	if err == nil {
		t.Fatalf("expected error for unrecognised tag")
	}
}

func TestParseRecordValueRejectsMissingTag(t *testing.T) {
	_, err := ParseRecordValue([]byte(`{"id":"x"}`))
	if err == nil {
		t.Fatalf("expected error for missing metadata tag")
	}
}

func TestParseRecordValueRejectsNonObject(t *testing.T) {
	_, err := ParseRecordValue([]byte(`"just a string"`))
	if err == nil {
		t.Fatalf("expected error for non-object JSON")
	}
}

func TestRequiredFieldsPreservesUnknownExtras(t *testing.T) {
	raw := []byte(`{"metadata":"listing","id":"u-1","attributes":[{"k":"v"}],"shipping":{"cost":1}}`)
	rv, err := ParseRecordValue(raw)
	if err != nil {
		t.Fatalf("ParseRecordValue: %v", err)
	}
	if diff := cmp.Diff([]string{"id", "seller_id", "quantity", "price", "currency", "condition", "date", "product", "signature"}, RequiredFields(TagListing)); diff != "" {
		t.Fatalf("RequiredFields(listing) mismatch (-want +got):\n%s", diff)
	}
	if _, ok := rv.Fields["attributes"]; !ok {
		t.Fatalf("unknown field \"attributes\" was dropped during parse")
	}
}

func TestValidateStructureAcceptsCompleteListing(t *testing.T) {
	raw := []byte(`{"metadata":"listing","id":"u-1","seller_id":"s-1","quantity":1,"price":10,"currency":"XMR","condition":"new","date":"2026-01-01","product":{"name":"n"},"signature":"sig"}`)
	ok, reason := ValidateStructure(TagListing, raw)
	if !ok {
		t.Fatalf("expected a complete listing to validate, got reason %q", reason)
	}
}

func TestValidateStructureRejectsMissingField(t *testing.T) {
	raw := []byte(`{"metadata":"listing","id":"u-1","signature":"sig"}`)
	ok, reason := ValidateStructure(TagListing, raw)
	if ok {
		t.Fatalf("expected rejection for listing missing required fields")
	}
	if reason == "" {
		t.Fatalf("expected a non-empty rejection reason")
	}
}

func TestValidateStructureRejectsMissingSignature(t *testing.T) {
	raw := []byte(`{"metadata":"user","public_key":"pk","monero_address":"addr","created_at":"2026-01-01"}`)
	ok, _ := ValidateStructure(TagUser, raw)
	if ok {
		t.Fatalf("expected rejection for a user record with no signature")
	}
}

func TestValidateStructureRatingRequiresStarsOrScore(t *testing.T) {
	missing := []byte(`{"metadata":"product_rating","rater_id":"r-1","signature":"sig"}`)
	if ok, _ := ValidateStructure(TagProductRating, missing); ok {
		t.Fatalf("expected rejection when neither stars nor score is present")
	}
	both := []byte(`{"metadata":"product_rating","rater_id":"r-1","signature":"sig","stars":4,"score":1}`)
	if ok, _ := ValidateStructure(TagProductRating, both); ok {
		t.Fatalf("expected rejection when both stars and score are present")
	}
	starsOutOfRange := []byte(`{"metadata":"product_rating","rater_id":"r-1","signature":"sig","stars":6}`)
	if ok, _ := ValidateStructure(TagProductRating, starsOutOfRange); ok {
		t.Fatalf("expected rejection for stars outside 1-5")
	}
	scoreInvalid := []byte(`{"metadata":"seller_rating","rater_id":"r-1","signature":"sig","score":2}`)
	if ok, _ := ValidateStructure(TagSellerRating, scoreInvalid); ok {
		t.Fatalf("expected rejection for score outside {0,1}")
	}
	valid := []byte(`{"metadata":"seller_rating","rater_id":"r-1","signature":"sig","score":0}`)
	if ok, reason := ValidateStructure(TagSellerRating, valid); !ok {
		t.Fatalf("expected a valid seller_rating with score=0 to pass, got reason %q", reason)
	}
}

func TestValidateStructureAllowsMessageWithoutRequiredFields(t *testing.T) {
	raw := []byte(`{"metadata":"message","body":"hi"}`)
	if ok, reason := ValidateStructure(TagMessage, raw); !ok {
		t.Fatalf("expected a message record with no required fields to pass, got reason %q", reason)
	}
}
