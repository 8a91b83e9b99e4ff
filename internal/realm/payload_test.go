package realm

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name string
		kind ActionKind
		raw  string
		ok   bool
	}{
		{"train ok", ActionTrain, `{"unit":"archer","quantity":10}`, true},
		{"train zero quantity", ActionTrain, `{"unit":"archer","quantity":0}`, false},
		{"train fractional quantity", ActionTrain, `{"unit":"archer","quantity":1.5}`, false},
		{"train missing unit", ActionTrain, `{"quantity":3}`, false},
		{"train extra field", ActionTrain, `{"unit":"archer","quantity":3,"free":true}`, false},
		{"build ok", ActionBuild, `{"building":"farm"}`, true},
		{"build bad name", ActionBuild, `{"building":"Farm House"}`, false},
		{"attack ok", ActionAttack, `{"units":{"infantry":10,"cavalry":2}}`, true},
		{"attack empty", ActionAttack, `{"units":{}}`, false},
		{"attack negative", ActionAttack, `{"units":{"infantry":-1}}`, false},
		{"not json", ActionBuild, `{`, false},
		{"empty", ActionBuild, ``, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePayload(tt.kind, json.RawMessage(tt.raw))
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, ErrInvalidPayload) {
					t.Fatalf("error %v does not wrap ErrInvalidPayload", err)
				}
			}
		})
	}
}

func TestDecodePayload(t *testing.T) {
	var p TrainPayload
	if err := DecodePayload(ActionTrain, json.RawMessage(`{"unit":"archer","quantity":10}`), &p); err != nil {
		t.Fatal(err)
	}
	if p.Unit != "archer" || p.Quantity != 10 {
		t.Fatalf("decoded %+v", p)
	}

	var a AttackPayload
	if err := DecodePayload(ActionAttack, json.RawMessage(`{"units":{"infantry":4}}`), &a); err != nil {
		t.Fatal(err)
	}
	if a.Units["infantry"] != 4 || a.Units.Total() != 4 {
		t.Fatalf("decoded %+v", a)
	}
}

func TestActionKindRoundTrip(t *testing.T) {
	for _, k := range ActionKinds {
		got, err := ParseActionKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseActionKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseActionKind("raid"); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("unknown kind error = %v", err)
	}
}

func TestRejectionsWrapErrRejected(t *testing.T) {
	for _, err := range []error{ErrNodeNotFound, ErrAlreadyUnlocked, ErrPlayerNotFound, ErrLevelTooLow, ErrNoSettlements, ErrInsufficientResources} {
		if !errors.Is(err, ErrRejected) {
			t.Errorf("%v does not wrap ErrRejected", err)
		}
	}
}
