package ai

import (
	"encoding/json"
	"testing"
)

func TestExtractFirstJSONObject(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{`prefix {"a": 1} suffix`, `{"a": 1}`, true},
		{`{"a": {"b": "}"}} tail {"c": 2}`, `{"a": {"b": "}"}}`, true},
		{`{"a": "escaped \" quote"}`, `{"a": "escaped \" quote"}`, true},
		{`{"unterminated": 1`, "", false},
		{`no json here`, "", false},
	}
	for _, tt := range tests {
		got, ok := extractFirstJSONObject(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("extractFirstJSONObject(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestArrayPayload(t *testing.T) {
	tests := []struct {
		name    string
		resp    string
		want    string
		wantErr bool
	}{
		{"bare array", `[{"url": "https://a"}]`, `[{"url": "https://a"}]`, false},
		{"fenced", "```json\n[]\n```", `[]`, false},
		{"wrapped", `{"events": [{"title": "x"}]}`, `[{"title": "x"}]`, false},
		{"wrapped with unknown key", `{"items": []}`, "", true},
		{"prose around array", `Risultati: [1, 2] fine`, `[1, 2]`, false},
		{"empty", "   ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := arrayPayload(tt.resp, "events")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAmountUnmarshal(t *testing.T) {
	var v struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
		C Amount `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a": 150000.5, "b": "€ 2 milioni", "c": null}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.A.Value == nil || *v.A.Value != 150000.5 {
		t.Errorf("numeric amount not decoded: %+v", v.A)
	}
	if v.B.Value != nil || v.B.Raw != "€ 2 milioni" {
		t.Errorf("text amount not kept raw: %+v", v.B)
	}
	if v.C.Value != nil || v.C.Raw != "" {
		t.Errorf("null amount should be empty: %+v", v.C)
	}
}

func TestNullStringTolerance(t *testing.T) {
	var v struct {
		A nullString `json:"a"`
		B nullString `json:"b"`
		C nullString `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a": " Roma ", "b": null, "c": 42}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.A != "Roma" || v.B != "" || v.C != "" {
		t.Fatalf("unexpected values: %q %q %q", v.A, v.B, v.C)
	}
}
