// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package phantom

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/netSkope/phantom-qa-tool/internal/apperr"
	"github.com/netSkope/phantom-qa-tool/internal/config"
	"go.uber.org/zap/zaptest"
)

type fakeAnalyzer struct {
	jobs []Job
	err  error
}

func (f *fakeAnalyzer) RunAnalysis(ctx context.Context, job Job) error {
	f.jobs = append(f.jobs, job)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(filepath.Join(job.OutputDir, ResultFile), []byte(`{"ok": true}`), 0o644)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	a := &fakeAnalyzer{}

	if err := reg.Register("CatPhan", a); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register("catphan", a); err == nil {
		t.Error("duplicate Register() should fail")
	}
	if err := reg.Register("", a); err == nil {
		t.Error("Register() without id should fail")
	}
	if err := reg.Register("qc3", &fakeAnalyzer{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, err := reg.Lookup("CATPHAN")
	if err != nil || got != a {
		t.Errorf("Lookup() = %v, %v", got, err)
	}
	if _, err := reg.Lookup("fc2"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("Lookup(unknown) error = %v, want validation error", err)
	}
	if ids := reg.IDs(); !reflect.DeepEqual(ids, []string{"catphan", "qc3"}) {
		t.Errorf("IDs() = %v", ids)
	}
}

func TestFromConfig(t *testing.T) {
	reg, err := FromConfig([]config.Phantom{
		{ID: "catphan", Dim: 3, Command: []string{"catphan-analyze"}},
		{ID: "leedstor", Dim: 2},
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}

	a, err := reg.Lookup("catphan")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if _, ok := a.(*ExecAnalyzer); !ok {
		t.Errorf("catphan analyzer is %T, want *ExecAnalyzer", a)
	}

	a, err = reg.Lookup("leedstor")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if err := a.RunAnalysis(context.Background(), Job{}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("unconfigured analyzer error = %v", err)
	}

	if _, err := FromConfig([]config.Phantom{{ID: "qc3"}, {ID: "QC3"}}, zaptest.NewLogger(t)); err == nil {
		t.Error("FromConfig() should reject duplicate ids")
	}
}

func TestCaseFolder(t *testing.T) {
	root := t.TempDir()
	stamp := Stamp(time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC))
	dir, err := CaseFolder(root, "SiteA", "Linac1", "CatPhan", stamp)
	if err != nil {
		t.Fatalf("CaseFolder() error = %v", err)
	}
	want := filepath.Join(root, "sitea_linac1_catphan", "20240301_101500")
	if dir != want {
		t.Errorf("CaseFolder() = %s, want %s", dir, want)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Errorf("case folder not created: %v", err)
	}

	if _, err := CaseFolder("", "a", "b", "c", stamp); err == nil {
		t.Error("CaseFolder() without output root should fail")
	}
}

func TestStageInputs(t *testing.T) {
	src := t.TempDir()
	var images []string
	for _, name := range []string{"IMG0001", "IMG0002", "IMG0003"} {
		p := filepath.Join(src, name)
		if err := os.WriteFile(p, []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
		images = append(images, p)
	}

	t.Run("2D single image", func(t *testing.T) {
		caseDir := t.TempDir()
		in, err := StageInputs(images[:1], caseDir, 2)
		if err != nil {
			t.Fatalf("StageInputs() error = %v", err)
		}
		if in.File != filepath.Join(caseDir, "input.dcm") || in.Dir != "" {
			t.Errorf("StageInputs() = %+v", in)
		}
		data, _ := os.ReadFile(in.File)
		if string(data) != "IMG0001" {
			t.Errorf("copied content = %q", data)
		}
	})

	t.Run("3D series", func(t *testing.T) {
		caseDir := t.TempDir()
		in, err := StageInputs(images, caseDir, 3)
		if err != nil {
			t.Fatalf("StageInputs() error = %v", err)
		}
		if in.Dir != caseDir {
			t.Errorf("StageInputs() = %+v", in)
		}
		data, _ := os.ReadFile(filepath.Join(caseDir, "input_002.dcm"))
		if string(data) != "IMG0003" {
			t.Errorf("input_002.dcm content = %q", data)
		}
	})

	t.Run("errors", func(t *testing.T) {
		if _, err := StageInputs(nil, t.TempDir(), 3); !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("no images: %v", err)
		}
		if _, err := StageInputs(images, t.TempDir(), 2); !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("2D with series: %v", err)
		}
		if _, err := StageInputs(images, t.TempDir(), 4); !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("bad dim: %v", err)
		}
		if _, err := StageInputs([]string{filepath.Join(src, "missing")}, t.TempDir(), 2); err == nil {
			t.Error("missing image should fail")
		}
	})
}

func TestConfigPathAndPublishParams(t *testing.T) {
	dir := t.TempDir()
	if _, err := ConfigPath(dir, "SiteA", "Linac1", "catphan"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("ConfigPath() missing file error = %v", err)
	}

	path := filepath.Join(dir, "config.sitea.linac1.catphan.json")
	content := `{"publish_pdf_params": {"metadata": {"Physicist": "A. Smith"}, "notes": "Monthly QA"}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ConfigPath(dir, "SiteA", "Linac1", "CatPhan")
	if err != nil || got != path {
		t.Fatalf("ConfigPath() = %s, %v", got, err)
	}

	params, err := ReadPublishParams(path)
	if err != nil {
		t.Fatalf("ReadPublishParams() error = %v", err)
	}
	if params.Notes != "Monthly QA" || params.Metadata["Physicist"] != "A. Smith" {
		t.Errorf("ReadPublishParams() = %+v", params)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"other": 1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPublishParams(bad); !apperr.Is(err, apperr.KindData) {
		t.Errorf("ReadPublishParams() without params error = %v", err)
	}
}

func TestExecAnalyzer(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	outDir := t.TempDir()
	script := `read job; echo "received ${#job} bytes"; echo "warn" 1>&2; printf '{"mtf": 0.5}' > result.json; printf 'done'`
	a := &ExecAnalyzer{Command: []string{"sh", "-c", script}, Logger: zaptest.NewLogger(t)}

	var lines []string
	err := a.RunAnalysis(context.Background(), Job{
		Phantom:   "catphan",
		OutputDir: outDir,
		Log:       func(s string) { lines = append(lines, s) },
	})
	if err != nil {
		t.Fatalf("RunAnalysis() error = %v", err)
	}
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "received ") || lines[1] != "warn" || lines[2] != "done" {
		t.Errorf("log lines = %q", lines)
	}

	noResult := &ExecAnalyzer{Command: []string{"sh", "-c", "true"}}
	if err := noResult.RunAnalysis(context.Background(), Job{OutputDir: t.TempDir()}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("missing result.json error = %v", err)
	}

	failing := &ExecAnalyzer{Command: []string{"sh", "-c", "exit 3"}}
	if err := failing.RunAnalysis(context.Background(), Job{OutputDir: t.TempDir()}); err == nil {
		t.Error("non-zero exit should fail")
	}
}

func TestRunner_Run(t *testing.T) {
	cfgDir := t.TempDir()
	cfg := &config.Config{
		OutputFolder: t.TempDir(),
		ConfigDir:    cfgDir,
		Sites:        []config.Site{{ID: "SiteA", Devices: []config.Device{{ID: "Linac1"}}}},
		Phantoms:     []config.Phantom{{ID: "qc3", Dim: 2}},
	}
	cfgPath := filepath.Join(cfgDir, "config.sitea.linac1.qc3.json")
	if err := os.WriteFile(cfgPath, []byte(`{"publish_pdf_params": {"metadata": {}, "notes": "from config"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	image := filepath.Join(t.TempDir(), "image.dcm")
	if err := os.WriteFile(image, []byte("dicom"), 0o644); err != nil {
		t.Fatal(err)
	}

	fake := &fakeAnalyzer{}
	reg := NewRegistry()
	if err := reg.Register("qc3", fake); err != nil {
		t.Fatal(err)
	}

	runner := NewRunner(reg, cfg, zaptest.NewLogger(t))
	performed := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	caseDir, err := runner.Run(context.Background(), Request{
		Site: "SiteA", Device: "Linac1", Phantom: "QC3",
		Images:      []string{image},
		PerformedBy: "Jane Roe",
		PerformedAt: performed,
		Notes:       "user note",
	}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if want := filepath.Join(cfg.OutputFolder, "sitea_linac1_qc3", "20240506_070809"); caseDir != want {
		t.Errorf("case dir = %s, want %s", caseDir, want)
	}
	if len(fake.jobs) != 1 {
		t.Fatalf("analyzer ran %d times", len(fake.jobs))
	}
	job := fake.jobs[0]
	if job.DeviceID != "SiteA|Linac1" || job.InputFile != filepath.Join(caseDir, "input.dcm") {
		t.Errorf("job = %+v", job)
	}
	if job.Notes != "user note\nfrom config" {
		t.Errorf("job notes = %q", job.Notes)
	}
	if job.Metadata["Performed By"] != "Jane Roe" || job.Metadata["Performed Date"] != "2024-05-06" {
		t.Errorf("job metadata = %v", job.Metadata)
	}

	if _, err := runner.Run(context.Background(), Request{Site: "SiteA", Device: "Linac1"}, nil); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("Run() without phantom error = %v", err)
	}
}
