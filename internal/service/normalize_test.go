package service

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/tidwall/gjson"
)

func TestNormalize_ForcedModel(t *testing.T) {
	body := []byte(`{"model":"gpt-a","messages":[{"role":"user","content":"hi"}]}`)

	out := Normalize(body, "gpt-x")

	if got := gjson.GetBytes(out, "model").String(); got != "gpt-x" {
		t.Errorf("model = %q, want %q", got, "gpt-x")
	}
	if got := gjson.GetBytes(out, "stream").Bool(); !got {
		t.Error("stream = false, want true")
	}
	if got := gjson.GetBytes(out, "messages.0.content").String(); got != "hi" {
		t.Errorf("messages untouched: content = %q, want %q", got, "hi")
	}
}

func TestNormalize_NoForcedModel(t *testing.T) {
	body := []byte(`{"model":"gpt-a","messages":[]}`)

	out := Normalize(body, "")

	if got := gjson.GetBytes(out, "model").String(); got != "gpt-a" {
		t.Errorf("model = %q, want client's %q", got, "gpt-a")
	}
	if !gjson.GetBytes(out, "stream").Bool() {
		t.Error("stream = false, want true")
	}
}

func TestNormalize_OverridesClientStreamFalse(t *testing.T) {
	body := []byte(`{"model":"gpt-a","stream":false}`)

	out := Normalize(body, "")

	if !gjson.GetBytes(out, "stream").Bool() {
		t.Error("stream = false, want true regardless of client value")
	}
}

func TestNormalize_OtherFieldsUntouched(t *testing.T) {
	body := []byte(`{"model":"gpt-a","temperature":0.7,"max_tokens":256,"messages":[{"role":"user","content":"hello"}],"metadata":{"trace":"abc"}}`)

	out := Normalize(body, "gpt-x")

	var got, want map[string]any
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if err := json.Unmarshal(body, &want); err != nil {
		t.Fatal(err)
	}
	want["model"] = "gpt-x"
	want["stream"] = true

	if !reflect.DeepEqual(got, want) {
		t.Errorf("normalized body = %v, want %v", got, want)
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	// The payload is normalized once per connection and must be reusable
	// byte-identical across attempts; two calls on the same input agree.
	body := []byte(`{"model":"gpt-a","messages":[]}`)

	first := Normalize(body, "gpt-x")
	second := Normalize(body, "gpt-x")

	if string(first) != string(second) {
		t.Errorf("Normalize not deterministic: %q vs %q", first, second)
	}
}
