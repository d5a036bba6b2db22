// ABOUTME: Tests for payload classification, Value unwrapping and JSON rendering of results.
// ABOUTME: Loop results unwrap to the last result of each iteration.
package workflow

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestValueUnwrapsEachVariant(t *testing.T) {
	table := TableResult{Rows: []Row{{"a": "1"}}}
	summary := SummaryResult{Summary: "s", BulletSummary: "b"}
	tests := []struct {
		name string
		in   Payload
		want any
	}{
		{"string", StringContent{Content: "hi"}, "hi"},
		{"extract", ExtractResult{ExtractedData: map[string]any{"k": "v"}}, map[string]any{"k": "v"}},
		{"summary", summary, summary},
		{"table", table, table},
		{"object", Object{"a": 1}, map[string]any{"a": 1}},
		{"list", List{1, 2}, []any{1, 2}},
		{"scalar", Scalar{Value: true}, true},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Value(tt.in)); diff != "" {
				t.Errorf("Value mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValueOfLoopTakesLastResultPerIteration(t *testing.T) {
	loop := LoopResult{LoopResults: []MultiNodeResult{
		{OK(StringContent{Content: "first-a"}), OK(StringContent{Content: "last-a"})},
		{OK(StringContent{Content: "last-b"})},
		{},
	}}
	if diff := cmp.Diff([]any{"last-a", "last-b"}, Value(loop)); diff != "" {
		t.Errorf("loop value mismatch (-want +got):\n%s", diff)
	}
}

func TestPayloadOf(t *testing.T) {
	tests := []struct {
		in   any
		want Payload
	}{
		{"x", StringContent{Content: "x"}},
		{map[string]any{"a": 1}, Object{"a": 1}},
		{[]any{"a"}, List{"a"}},
		{3.5, Scalar{Value: 3.5}},
		{SummaryResult{Summary: "s"}, SummaryResult{Summary: "s"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, PayloadOf(tt.in)); diff != "" {
			t.Errorf("PayloadOf(%v) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestResultJSON(t *testing.T) {
	r := OK(StringContent{Content: "hello"})
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"status":"Ok","data":{"content":"hello","type":"string"}}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}

	c := Canceled(LoopResult{LoopResults: []MultiNodeResult{}})
	b, err = json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	want = `{"status":"Error","data":{"loopResults":[]},"error":"User Canceled","errorKind":"canceled"}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
	if !c.IsCanceled() || !c.Failed() {
		t.Error("canceled result should report canceled and failed")
	}
}

func TestTextRendersNonStringAsJSON(t *testing.T) {
	if got := Text(StringContent{Content: "plain"}); got != "plain" {
		t.Errorf("Text(string) = %q", got)
	}
	got := Text(ExtractResult{ExtractedData: map[string]any{"k": StringContent{Content: "v"}}})
	if want := `{"k":{"content":"v","type":"string"}}`; got != want {
		t.Errorf("Text(extract) = %s, want %s", got, want)
	}
}

func TestObjectView(t *testing.T) {
	tests := []struct {
		name   string
		in     Payload
		want   map[string]any
		wantOK bool
	}{
		{"row classified as object", PayloadOf(Row{"name": "Ada"}), map[string]any{"name": "Ada"}, true},
		{"summary", SummaryResult{Summary: "s", BulletSummary: "- s"}, map[string]any{"summary": "s", "bulletSummary": "- s"}, true},
		{"extracted object", ExtractResult{ExtractedData: map[string]any{"k": 1}}, map[string]any{"k": 1}, true},
		{"string content", StringContent{Content: "x"}, nil, false},
		{"list", List{"a"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ObjectView(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ObjectView mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
