package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestNormalizeSnapshotHash(t *testing.T) {
	cases := []struct{ in, want string }{
		{"sha256:abc123", "sha256:abc123"},
		{"ABC123", "sha256:abc123"},
		{"SHA256:ABC123", "sha256:abc123"},
		{"  sha256:abc  ", "sha256:abc"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := normalizeSnapshotHash(tc.in); got != tc.want {
			t.Errorf("normalizeSnapshotHash(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestComputeFileSnapshotHash(t *testing.T) {
	inv := newTestInvestigator(t)
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n\nfunc main() {}\n")

	whole := inv.ComputeFileSnapshotHash("main.go", 0, dir)
	if !whole.OK || whole.Mode != "file" {
		t.Fatalf("whole file = %+v", whole)
	}
	if !strings.HasPrefix(whole.Hash, "sha256:") {
		t.Errorf("Hash = %q, want sha256: prefix", whole.Hash)
	}

	line := inv.ComputeFileSnapshotHash("main.go", 1, dir)
	if !line.OK || line.Mode != "line" {
		t.Fatalf("line mode = %+v", line)
	}
	if line.ByteLength != len("package main") {
		t.Errorf("ByteLength = %d, want %d", line.ByteLength, len("package main"))
	}
	if line.Hash == whole.Hash {
		t.Error("line hash should differ from whole-file hash")
	}
	// Same content hashes the same.
	again := inv.ComputeFileSnapshotHash("main.go", 1, dir)
	if again.Hash != line.Hash {
		t.Error("hash not deterministic")
	}
}

func TestComputeFileSnapshotHashStripsCR(t *testing.T) {
	inv := newTestInvestigator(t)
	dir := t.TempDir()
	writeFile(t, dir, "unix.txt", "hello\nworld\n")
	writeFile(t, dir, "dos.txt", "hello\r\nworld\r\n")

	a := inv.ComputeFileSnapshotHash("unix.txt", 1, dir)
	b := inv.ComputeFileSnapshotHash("dos.txt", 1, dir)
	if a.Hash != b.Hash {
		t.Error("line hash should ignore trailing CR")
	}
}

func TestComputeFileSnapshotHashFailures(t *testing.T) {
	inv := newTestInvestigator(t)
	dir := t.TempDir()
	writeFile(t, dir, "short.txt", "only line\n")

	if res := inv.ComputeFileSnapshotHash("  ", 0, dir); res.OK || res.Reason != ReasonFilePathRequired {
		t.Errorf("blank path = %+v, want file_path_required", res.Result)
	}
	if res := inv.ComputeFileSnapshotHash("missing.txt", 0, dir); res.OK || res.Reason != ReasonReadFailed {
		t.Errorf("missing file = %+v, want read_failed", res.Result)
	}
	if res := inv.ComputeFileSnapshotHash("short.txt", 99, dir); res.OK || res.Reason != ReasonReadFailed {
		t.Errorf("line out of range = %+v, want read_failed", res.Result)
	}
}

func TestRefreshStalenessRoundTrip(t *testing.T) {
	inv := newTestInvestigator(t)
	dir := t.TempDir()
	writeFile(t, dir, "handler.go", "func handle() {\n\treturn\n}\n")

	incidentID := mustCreateIncident(t, inv, CreateIncidentInput{})
	assertionID := mustAddAssertion(t, inv, AddAssertionInput{IncidentID: incidentID, Claim: "handler broken"})

	snap := inv.ComputeFileSnapshotHash("handler.go", 1, dir)
	if !snap.OK {
		t.Fatalf("snapshot: %+v", snap.Result)
	}
	bind := inv.BindEvidence(assertionID, EvidenceInput{
		Kind:         "file_line_ref",
		FilePath:     "handler.go",
		FileLine:     1,
		SnapshotHash: snap.Hash,
	})
	if !bind.OK {
		t.Fatalf("bind: %+v", bind.Result)
	}

	// Unchanged file: nothing marked.
	res := inv.RefreshFileLineBindingStaleness(RefreshInput{BaseDir: dir})
	if !res.OK || res.Checked != 1 || res.MarkedStale != 0 {
		t.Fatalf("first refresh = %+v", res)
	}
	if len(res.UnchangedBindingIDs) != 1 || res.UnchangedBindingIDs[0] != bind.BindingID {
		t.Errorf("UnchangedBindingIDs = %v", res.UnchangedBindingIDs)
	}

	// Mutate the line and refresh again.
	writeFile(t, dir, "handler.go", "func handle() error {\n\treturn nil\n}\n")
	res = inv.RefreshFileLineBindingStaleness(RefreshInput{BaseDir: dir})
	if !res.OK || res.Checked != 1 || res.MarkedStale != 1 {
		t.Fatalf("second refresh = %+v", res)
	}
	if b := inv.ListBindings(assertionID).Bindings[0]; !b.Stale {
		t.Error("binding should be marked stale")
	}

	// Already-stale bindings are skipped by default.
	res = inv.RefreshFileLineBindingStaleness(RefreshInput{BaseDir: dir})
	if res.Checked != 0 {
		t.Errorf("third refresh checked = %d, want 0", res.Checked)
	}
	res = inv.RefreshFileLineBindingStaleness(RefreshInput{BaseDir: dir, IncludeAlreadyStale: true})
	if res.Checked != 1 {
		t.Errorf("includeAlreadyStale checked = %d, want 1", res.Checked)
	}
}

func TestRefreshStalenessMissingFile(t *testing.T) {
	inv := newTestInvestigator(t)
	dir := t.TempDir()
	writeFile(t, dir, "gone.go", "package gone\n")

	incidentID := mustCreateIncident(t, inv, CreateIncidentInput{})
	assertionID := mustAddAssertion(t, inv, AddAssertionInput{IncidentID: incidentID, Claim: "x"})
	snap := inv.ComputeFileSnapshotHash("gone.go", 1, dir)
	inv.BindEvidence(assertionID, EvidenceInput{
		Kind: "file_line_ref", FilePath: "gone.go", FileLine: 1, SnapshotHash: snap.Hash,
	})

	if err := os.Remove(filepath.Join(dir, "gone.go")); err != nil {
		t.Fatal(err)
	}
	res := inv.RefreshFileLineBindingStaleness(RefreshInput{BaseDir: dir})
	if !res.OK || res.MarkedStale != 1 {
		t.Fatalf("refresh = %+v", res)
	}
	if len(res.MissingFiles) != 1 || res.MissingFiles[0] != "gone.go" {
		t.Errorf("MissingFiles = %v", res.MissingFiles)
	}
}

func TestRefreshStalenessSkipsBindingsWithoutHash(t *testing.T) {
	inv := newTestInvestigator(t)
	incidentID := mustCreateIncident(t, inv, CreateIncidentInput{})
	assertionID := mustAddAssertion(t, inv, AddAssertionInput{IncidentID: incidentID, Claim: "x"})

	// No snapshot hash recorded: nothing to compare against.
	inv.BindEvidence(assertionID, EvidenceInput{
		Kind: "file_line_ref", FilePath: "whatever.go", FileLine: 3,
	})

	res := inv.RefreshFileLineBindingStaleness(RefreshInput{})
	if !res.OK || res.Checked != 0 {
		t.Fatalf("refresh = %+v, want zero candidates", res)
	}
}
