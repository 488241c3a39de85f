package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/recoeval/reco-eval/internal/dataset"
	"github.com/recoeval/reco-eval/internal/pkg/errors"
	"github.com/recoeval/reco-eval/internal/results"
	"github.com/recoeval/reco-eval/internal/split"
)

// writeFixture writes a record table with four labels of three items each
// and an embedding table placing every label on its own axis.
func writeFixture(t *testing.T) (data, emb string) {
	t.Helper()
	dir := t.TempDir()

	var records, vectors strings.Builder
	records.WriteString("label,image\n")
	for l, label := range []string{"ann", "bob", "cat", "dan"} {
		for i := 0; i < 3; i++ {
			item := fmt.Sprintf("%s_%d.jpg", label, i)
			fmt.Fprintf(&records, "%s,%s\n", label, item)

			v := make([]string, 4)
			for d := range v {
				v[d] = "0"
			}
			v[l] = fmt.Sprintf("%d", i+1)
			fmt.Fprintf(&vectors, "%s,%s\n", item, strings.Join(v, ","))
		}
	}

	data = filepath.Join(dir, "records.csv")
	emb = filepath.Join(dir, "emb.csv")
	if err := os.WriteFile(data, []byte(records.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(emb, []byte(vectors.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return data, emb
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "reco-eval dev") {
		t.Errorf("version output = %q", out)
	}
}

func TestSplitCommand(t *testing.T) {
	data, _ := writeFixture(t)
	out := t.TempDir()

	stdout, err := execute(t, "split", "--data", data, "--out", out, "--folds", "2", "--format", "json")
	if err != nil {
		t.Fatalf("split error = %v", err)
	}

	var summary split.Summary
	if err := json.Unmarshal([]byte(stdout), &summary); err != nil {
		t.Fatalf("decode summary: %v\n%s", err, stdout)
	}
	if summary.ValLabels != 2 || summary.GalleryRecords != 2 || summary.QueryRecords != 4 {
		t.Errorf("summary = %+v", summary)
	}

	total := 0
	for _, name := range []string{"train.csv", "gallery.csv", "query.csv"} {
		table, err := dataset.ReadCSVFile(filepath.Join(out, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if len(table.Header) != 2 {
			t.Errorf("%s header = %v", name, table.Header)
		}
		total += len(table.Records)
	}
	if total != 12 {
		t.Errorf("split tables hold %d records, want 12", total)
	}
}

func TestSplitCommandText(t *testing.T) {
	data, _ := writeFixture(t)

	stdout, err := execute(t, "split", "--data", data, "--out", t.TempDir(), "--folds", "2", "--fold", "1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "fold") || !strings.Contains(stdout, "1 of 2") {
		t.Errorf("text summary = %q", stdout)
	}
}

func TestCrossvalCommand(t *testing.T) {
	data, emb := writeFixture(t)
	metricsPath := filepath.Join(t.TempDir(), "metrics.prom")

	stdout, err := execute(t, "crossval",
		"--data", data,
		"--embeddings", emb,
		"--folds", "2",
		"-k", "1,2",
		"--format", "json",
		"--metrics-out", metricsPath,
	)
	if err != nil {
		t.Fatalf("crossval error = %v", err)
	}

	var report results.Report
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, stdout)
	}
	if len(report.Folds) != 2 {
		t.Fatalf("folds = %d, want 2", len(report.Folds))
	}
	for _, f := range report.Folds {
		if acc, _ := f.Accuracy(1); acc != 1 {
			t.Errorf("fold %d top-1 = %v, want 1", f.Fold, acc)
		}
	}
	if report.Settings.Backend != "exact" {
		t.Errorf("backend = %q, want exact", report.Settings.Backend)
	}

	prom, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(prom), `reco_folds_total{status="succeeded"} 2`) {
		t.Errorf("metrics missing fold count:\n%s", prom)
	}
}

func TestEvaluateCommandText(t *testing.T) {
	data, emb := writeFixture(t)

	stdout, err := execute(t, "evaluate", "--data", data, "--embeddings", emb, "--folds", "2", "-k", "1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "top_1") || !strings.Contains(stdout, "1.0000") {
		t.Errorf("report = %q", stdout)
	}
}

func TestCommandErrors(t *testing.T) {
	data, emb := writeFixture(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no data", []string{"split"}},
		{"bad format", []string{"split", "--data", data, "--format", "xml"}},
		{"missing file", []string{"split", "--data", filepath.Join(t.TempDir(), "none.csv")}},
		{"missing column", []string{"split", "--data", data, "--label-key", "person"}},
		{"fold out of range", []string{"evaluate", "--data", data, "--embeddings", emb, "--folds", "2", "--fold", "2"}},
		{"k too large", []string{"evaluate", "--data", data, "--embeddings", emb, "--folds", "2", "-k", "5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestItemUnder(t *testing.T) {
	transform := itemUnder("/data/faces")

	got, err := transform("ann/0.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join("/data/faces", "ann/0.jpg") {
		t.Errorf("transform() = %q", got)
	}

	if _, err := transform("../../etc/passwd"); !errors.IsValidation(err) {
		t.Errorf("transform(escape) error = %v, want validation error", err)
	}
}
