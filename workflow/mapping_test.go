// ABOUTME: Tests for run-time result mapping and schema-level mapping prediction.
// ABOUTME: Covers rename, skip, extract short-circuit, string splitting, tables and inverse renames.
package workflow

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func rename(from, to string) Mapping {
	return Mapping{From: from, To: to, Conversion: Conversion{Type: ConversionRename}}
}

func TestMapResultNoopCases(t *testing.T) {
	failed := Errorf(ErrTransport, "boom")
	if got := MapResult([]Mapping{rename("a", "b")}, failed); got != failed {
		t.Error("failed results must pass through untouched")
	}
	ok := OK(Object{"a": 1})
	if got := MapResult(nil, ok); got != ok {
		t.Error("empty mapping must pass through untouched")
	}
	if got := MapResult([]Mapping{rename("a", "b")}, nil); got != nil {
		t.Error("nil result must stay nil")
	}
}

func TestMapObject(t *testing.T) {
	in := OK(Object{"Name": "Ada", "Email": "ada@example.com", "Tags": "a,b", "Notes": "x"})
	mapping := []Mapping{
		rename("Name", "name"),
		{From: "Notes", Skip: true},
		{From: "Tags", To: "tags", Conversion: Conversion{Type: ConversionStringToList, Delimiter: ","}},
	}
	got := MapResult(mapping, in)
	want := Object{
		"name":  "Ada",
		"Email": "ada@example.com",
		"tags":  []any{StringContent{Content: "a"}, StringContent{Content: "b"}},
	}
	if diff := cmp.Diff(want, got.Data); diff != "" {
		t.Errorf("mapped payload mismatch (-want +got):\n%s", diff)
	}
	if _, stillThere := in.Data.(Object)["Notes"]; !stillThere {
		t.Error("mapping mutated its input")
	}
}

func TestExtractShortCircuits(t *testing.T) {
	in := OK(ExtractResult{ExtractedData: map[string]any{"title": "Report", "pages": 3.0}})
	mapping := []Mapping{
		{From: "pages", Skip: true},
		rename("title", "heading"),
		{From: "pages", Extract: true},
		{From: "title", Extract: true},
	}
	got := MapResult(mapping, in)
	if diff := cmp.Diff(3.0, Value(got.Data)); diff != "" {
		t.Errorf("extract value mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractStringField(t *testing.T) {
	got := MapResult([]Mapping{{From: "summary", Extract: true}}, OK(SummaryResult{Summary: "short", BulletSummary: "- a"}))
	if s, ok := got.Data.(StringContent); !ok || s.Content != "short" {
		t.Errorf("expected StringContent(short), got %#v", got.Data)
	}
}

func TestMapTableRowsElementwise(t *testing.T) {
	in := OK(TableResult{
		HeaderRow: Row{"Name": "Name", "Age": "Age"},
		Rows: []Row{
			{"Name": "Ada", "Age": "36", RowIDField: 2},
			{"Name": "Alan", "Age": "41", RowIDField: 3},
		},
	})
	got := MapResult([]Mapping{rename("Name", "name"), {From: "Age", Skip: true}}, in)
	want := TableResult{
		HeaderRow: Row{"name": "Name"},
		Rows: []Row{
			{"name": "Ada", RowIDField: 2},
			{"name": "Alan", RowIDField: 3},
		},
	}
	if diff := cmp.Diff(want, got.Data); diff != "" {
		t.Errorf("table mismatch (-want +got):\n%s", diff)
	}
}

func TestMapListOfObjects(t *testing.T) {
	in := OK(List{map[string]any{"a": 1.0}, "scalar", map[string]any{"a": 2.0}})
	got := MapResult([]Mapping{{From: "a", Extract: true}}, in)
	want := List{1.0, "scalar", 2.0}
	if diff := cmp.Diff(want, got.Data); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
}

func TestStringPayloadPassesThrough(t *testing.T) {
	in := OK(StringContent{Content: "hello"})
	got := MapResult([]Mapping{rename("content", "text")}, in)
	if diff := cmp.Diff(in.Data, got.Data); diff != "" {
		t.Errorf("string payload changed (-want +got):\n%s", diff)
	}
}

func TestRenameInverseRecoversKeys(t *testing.T) {
	original := Object{"first": "a", "second": "b", "untouched": "c"}
	mapping := []Mapping{rename("first", "one"), rename("second", "two")}

	forward := MapResult(mapping, OK(original))
	back := MapResult(InverseRenames(mapping), forward)

	if diff := cmp.Diff(SortedKeys(original), SortedKeys(back.Data.(Object))); diff != "" {
		t.Errorf("key set not recovered (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(original, back.Data); diff != "" {
		t.Errorf("values not recovered (-want +got):\n%s", diff)
	}
}

func TestApplySchemaMapping(t *testing.T) {
	person := FlatObject("Name", "Email", "Tags")
	person.Properties["Age"] = &PropertyDef{Type: PropNumber}

	tests := []struct {
		name    string
		def     *PropertyDef
		mapping []Mapping
		want    *PropertyDef
	}{
		{
			name: "no mapping clones",
			def:  person,
			want: person,
		},
		{
			name:    "rename and skip",
			def:     person,
			mapping: []Mapping{rename("Name", "name"), {From: "Email", Skip: true}, {From: "Age", Skip: true}},
			want:    FlatObject("name", "Tags"),
		},
		{
			name:    "split string to list",
			def:     FlatObject("Tags"),
			mapping: []Mapping{{From: "Tags", Conversion: Conversion{Type: ConversionStringToList, Delimiter: ","}}},
			want:    ObjectOf(map[string]*PropertyDef{"Tags": ArrayOf(StringDef())}),
		},
		{
			name:    "extract narrows",
			def:     person,
			mapping: []Mapping{{From: "Age", Extract: true}, {From: "Name", Skip: true}},
			want:    &PropertyDef{Type: PropNumber},
		},
		{
			name:    "array items mapped",
			def:     ArrayOf(FlatObject("Name")),
			mapping: []Mapping{rename("Name", "name")},
			want:    ArrayOf(FlatObject("name")),
		},
		{
			name:    "unknown field",
			def:     person,
			mapping: []Mapping{rename("Missing", "x")},
		},
		{
			name:    "split non-string",
			def:     person,
			mapping: []Mapping{{From: "Age", Conversion: Conversion{Type: ConversionStringToList, Delimiter: ","}}},
		},
		{
			name:    "collision",
			def:     FlatObject("a", "b"),
			mapping: []Mapping{rename("a", "b")},
		},
		{
			name:    "everything skipped",
			def:     FlatObject("a"),
			mapping: []Mapping{{From: "a", Skip: true}},
		},
		{
			name:    "mapping a string",
			def:     StringDef(),
			mapping: []Mapping{rename("a", "b")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplySchemaMapping(tt.def, tt.mapping)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("schema mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
