package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateChecksumsWithReportDryRun(t *testing.T) {
	tmpDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("service:\n  name: a\n"), 0600); err != nil {
		t.Fatal(err)
	}

	report, err := GenerateChecksumsWithReport(tmpDir, []string{"config.yaml", "endpoints.yaml"}, true)
	if err != nil {
		t.Fatalf("GenerateChecksumsWithReport() failed: %v", err)
	}

	if report.Written {
		t.Fatal("report.Written = true, want false in dry-run")
	}
	if len(report.Files) != 2 {
		t.Fatalf("len(report.Files) = %d, want 2", len(report.Files))
	}
	if !report.Files[0].Exists || report.Files[0].Hash == "" {
		t.Fatal("config.yaml should exist with computed hash")
	}
	if report.Files[1].Exists || report.Files[1].Hash != "" {
		t.Fatal("endpoints.yaml should be reported as missing without hash")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ChecksumFile)); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestLockAndVerify(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte("service:\n  name: a\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := VerifyHashes([]string{path}); err != nil {
		t.Fatalf("VerifyHashes() without manifest = %v, want nil", err)
	}

	reports, err := Lock([]string{path})
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if len(reports) != 1 || !reports[0].Written {
		t.Fatalf("Lock() reports = %+v, want one written report", reports)
	}

	manifest, err := LoadChecksums(tmpDir)
	if err != nil {
		t.Fatalf("LoadChecksums() failed: %v", err)
	}
	if len(manifest.Hashes) != 1 {
		t.Fatalf("len(manifest.Hashes) = %d, want 1", len(manifest.Hashes))
	}
	if err := VerifyHashes([]string{path}); err != nil {
		t.Fatalf("VerifyHashes() after lock = %v", err)
	}

	if err := os.WriteFile(path, []byte("service:\n  name: b\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := VerifyHashes([]string{path}); err == nil {
		t.Fatal("VerifyHashes() after edit = nil, want mismatch")
	}

	other := filepath.Join(tmpDir, "extra.yaml")
	if err := os.WriteFile(other, []byte("{}\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Lock([]string{path}); err != nil {
		t.Fatal(err)
	}
	if err := VerifyHashes([]string{path, other}); err == nil {
		t.Fatal("VerifyHashes() with unlisted file = nil, want error")
	}
}

func TestLoadChecksumsMissing(t *testing.T) {
	_, err := LoadChecksums(t.TempDir())
	if !errors.Is(err, ErrNoChecksums) {
		t.Fatalf("LoadChecksums() = %v, want ErrNoChecksums", err)
	}
}
