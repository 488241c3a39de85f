package dataset

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/recoeval/reco-eval/internal/pkg/errors"
)

func records(labels ...string) []Record {
	out := make([]Record, len(labels))
	for i, l := range labels {
		out[i] = NewRecord(map[string]string{
			"label": l,
			"image": fmt.Sprintf("img_%d.jpg", i),
		})
	}
	return out
}

func TestNewRecordCopiesFields(t *testing.T) {
	fields := map[string]string{"label": "a"}
	r := NewRecord(fields)
	fields["label"] = "b"

	if got, _ := r.Field("label"); got != "a" {
		t.Errorf("Field(label) = %s, want a", got)
	}
}

func TestLabels(t *testing.T) {
	got, err := Labels(records("b", "a", "b", "c", "a"), "label")
	if err != nil {
		t.Fatalf("Labels() error = %v", err)
	}

	want := []string{"b", "a", "c"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Labels() = %v, want %v", got, want)
	}
}

func TestLabelsMissingField(t *testing.T) {
	_, err := Labels(records("a"), "identity")
	if !errors.IsValidation(err) {
		t.Errorf("Labels() error = %v, want validation error", err)
	}
}

func TestGroupByLabel(t *testing.T) {
	groups, order, err := GroupByLabel(records("x", "y", "x"), "label")
	if err != nil {
		t.Fatalf("GroupByLabel() error = %v", err)
	}

	if len(order) != 2 || order[0] != "x" || order[1] != "y" {
		t.Errorf("order = %v, want [x y]", order)
	}
	if fmt.Sprint(groups["x"]) != "[0 2]" {
		t.Errorf("groups[x] = %v, want [0 2]", groups["x"])
	}
}

func TestLabelIndex(t *testing.T) {
	idx, err := NewLabelIndex(records("cat", "dog", "cat", "eel"), "label")
	if err != nil {
		t.Fatalf("NewLabelIndex() error = %v", err)
	}

	if idx.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", idx.Len())
	}

	tests := []struct {
		label string
		want  int
	}{
		{"cat", 0},
		{"dog", 1},
		{"eel", 2},
	}
	for _, tt := range tests {
		got, ok := idx.Index(tt.label)
		if !ok || got != tt.want {
			t.Errorf("Index(%s) = %d, %v, want %d", tt.label, got, ok, tt.want)
		}
		if idx.Label(tt.want) != tt.label {
			t.Errorf("Label(%d) = %s, want %s", tt.want, idx.Label(tt.want), tt.label)
		}
	}

	if _, ok := idx.Index("fox"); ok {
		t.Error("Index(fox) should be absent")
	}
}

func TestLabelIndexDuplicate(t *testing.T) {
	if _, err := NewLabelIndexFromLabels([]string{"a", "a"}); err == nil {
		t.Error("expected error for duplicate labels")
	}
}

func TestViewIndependentIndices(t *testing.T) {
	train := records("a", "b")
	val := records("b", "c")

	trainIdx, _ := NewLabelIndex(train, "label")
	valIdx, _ := NewLabelIndex(val, "label")

	tv, err := NewView[string](train, "label", "image", trainIdx, nil)
	if err != nil {
		t.Fatalf("NewView(train) error = %v", err)
	}
	vv, err := NewView[string](val, "label", "image", valIdx, nil)
	if err != nil {
		t.Fatalf("NewView(val) error = %v", err)
	}

	// "b" is 1 in train and 0 in validation.
	_, l, _ := tv.Get(1)
	if l != 1 {
		t.Errorf("train label of b = %d, want 1", l)
	}
	item, l, _ := vv.Get(0)
	if l != 0 {
		t.Errorf("val label of b = %d, want 0", l)
	}
	if item != "img_0.jpg" {
		t.Errorf("raw item = %s, want img_0.jpg", item)
	}
}

func TestViewTransform(t *testing.T) {
	recs := records("a", "a")
	idx, _ := NewLabelIndex(recs, "label")

	calls := 0
	v, err := NewView(recs, "label", "image", idx, func(ref string) (int, error) {
		calls++
		return len(ref), nil
	})
	if err != nil {
		t.Fatalf("NewView() error = %v", err)
	}

	if v.Len() != 2 {
		t.Errorf("Len() = %d, want 2", v.Len())
	}
	if calls != 0 {
		t.Errorf("transform ran %d times before access", calls)
	}

	got, _, err := v.Get(1)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != len("img_1.jpg") {
		t.Errorf("Get() = %d, want %d", got, len("img_1.jpg"))
	}
}

func TestViewErrors(t *testing.T) {
	recs := records("a")
	idx, _ := NewLabelIndexFromLabels([]string{"z"})

	if _, err := NewView[string](recs, "label", "image", idx, nil); err == nil {
		t.Error("expected error for label missing from index")
	}

	full, _ := NewLabelIndex(recs, "label")
	if _, err := NewView[int](recs, "label", "image", full, nil); err == nil {
		t.Error("expected error for nil transform on non-string view")
	}
	if _, err := NewView[string](recs, "label", "path", full, nil); err == nil {
		t.Error("expected error for missing item field")
	}

	v, _ := NewView[string](recs, "label", "image", full, nil)
	if _, _, err := v.Get(5); err == nil {
		t.Error("expected error for out of range Get")
	}
}

func TestCSVRoundTrip(t *testing.T) {
	in := "label,image\nA,a0.jpg\nB,b0.jpg\nA,a1.jpg\n"

	table, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}

	if len(table.Records) != 3 {
		t.Fatalf("len(Records) = %d, want 3", len(table.Records))
	}
	if err := table.RequireColumns("label", "image"); err != nil {
		t.Errorf("RequireColumns() error = %v", err)
	}
	if err := table.RequireColumns("identity"); err == nil {
		t.Error("RequireColumns(identity) expected error")
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, table.Header, table.Records); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	if buf.String() != in {
		t.Errorf("WriteCSV() = %q, want %q", buf.String(), in)
	}
}

func TestReadCSVErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"duplicate column", "label,label\na,b\n"},
		{"ragged row", "label,image\na\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadCSV(strings.NewReader(tt.input)); err == nil {
				t.Error("ReadCSV() expected error")
			}
		})
	}
}

func TestCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.csv")
	recs := records("a", "b")

	if err := WriteCSVFile(path, []string{"image", "label"}, recs); err != nil {
		t.Fatalf("WriteCSVFile() error = %v", err)
	}

	table, err := ReadCSVFile(path)
	if err != nil {
		t.Fatalf("ReadCSVFile() error = %v", err)
	}
	if got, _ := table.Records[1].Field("label"); got != "b" {
		t.Errorf("label = %s, want b", got)
	}
}
