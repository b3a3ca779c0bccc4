package config

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatalf("UnmarshalText(90s) error = %v", err)
	}
	if d.Duration() != 90*time.Second {
		t.Errorf("Duration() = %v, want 90s", d.Duration())
	}

	if err := d.UnmarshalText([]byte("-5s")); err == nil {
		t.Error("UnmarshalText(-5s) = nil, want error for negative duration")
	}
	if err := d.UnmarshalText([]byte("not-a-duration")); err == nil {
		t.Error("UnmarshalText(not-a-duration) = nil, want error")
	}
}

func TestSecret_NeverMarshalsValue(t *testing.T) {
	type payload struct {
		Key Secret `json:"key"`
	}

	data, err := json.Marshal(payload{Key: Secret("super-secret")})
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if string(data) != `{"key":"[REDACTED]"}` {
		t.Errorf("Marshal = %s, want redacted", data)
	}

	s := Secret("super-secret")
	if got := s.String(); got != "[REDACTED]" {
		t.Errorf("String() = %q, want [REDACTED]", got)
	}
	if got := s.GoString(); got != "Secret([REDACTED])" {
		t.Errorf("GoString() = %q, want redacted", got)
	}
	if got := s.Value(); got != "super-secret" {
		t.Errorf("Value() = %q, want the raw value", got)
	}

	var empty Secret
	if empty.IsSet() {
		t.Error("empty secret IsSet() = true, want false")
	}
	if empty.String() != "" {
		t.Errorf("empty secret String() = %q, want empty", empty.String())
	}
}

func TestSecret_UnmarshalJSON(t *testing.T) {
	type payload struct {
		Key Secret `json:"key"`
	}

	var p payload
	if err := json.Unmarshal([]byte(`{"key":"sk-abc123"}`), &p); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if p.Key.Value() != "sk-abc123" {
		t.Errorf("Value() = %q, want sk-abc123", p.Key.Value())
	}
}
