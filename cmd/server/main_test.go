package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runManifestValidate(t *testing.T, contents string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"manifest", "validate", path})
	err := root.Execute()
	return out.String(), err
}

func TestManifestValidateReportsSkins(t *testing.T) {
	out, err := runManifestValidate(t, `
villagerAnimations:
  walking: models/villager/walk.glb
  running: models/villager/run.glb
environment:
  - models/env/tree.glb
`)
	if err != nil {
		t.Fatalf("expected a clean manifest to validate, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "skins: 1") || !strings.Contains(out, "villager (2 tracks)") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "environment: 1") {
		t.Fatalf("expected environment count in output:\n%s", out)
	}
}

func TestManifestValidateFailsOnProblems(t *testing.T) {
	out, err := runManifestValidate(t, `
brokenAnimations: "not a map"
`)
	if err == nil {
		t.Fatalf("expected problems to fail validation")
	}
	if !strings.Contains(out, "problem:") {
		t.Fatalf("expected problems in output:\n%s", out)
	}
}

func TestManifestValidateRequiresPath(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"manifest", "validate"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected missing path to be rejected")
	}
}
