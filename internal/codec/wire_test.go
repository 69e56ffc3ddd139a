package codec

import (
	"encoding/json"
	"testing"

	"neromon/internal/nodeid"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	self := nodeid.FromIdentity("node-a")
	env, err := NewEnvelope(7, MsgFindNode, self, "overlay:abc", FindNodeBody{Target: self.String()})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	raw, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	back, err := UnmarshalEnvelope(raw)
	if err != nil {
		t.Fatalf("UnmarshalEnvelope: %v", err)
	}
	if back.Type != MsgFindNode || back.ID != 7 || back.Sender.Endpoint != "overlay:abc" {
		t.Fatalf("round trip mismatch: %+v", back)
	}

	var body FindNodeBody
	if err := json.Unmarshal(back.Body, &body); err != nil {
		t.Fatalf("body unmarshal: %v", err)
	}
	if body.Target != self.String() {
		t.Fatalf("body.Target = %q, want %q", body.Target, self.String())
	}
}

func TestUnmarshalEnvelopeRejectsWrongVersion(t *testing.T) {
	_, err := UnmarshalEnvelope([]byte(`{"version":9,"type":"PING","id":1,"sender":{"id":"x","endpoint":"y"},"body":{}}`))
	if err == nil {
		t.Fatalf("expected error for unsupported version")
	}
}
