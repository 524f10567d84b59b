package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func Test_DirExists_FileExists(t *testing.T) {
	tempRoot := t.TempDir()

	dir := filepath.Join(tempRoot, "dir")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatalf("failed to make a temp subdir: %v", err)
	}
	file := filepath.Join(tempRoot, "file")
	if err := os.WriteFile(file, []byte("data"), 0644); err != nil {
		t.Fatalf("failed to write a file: %v", err)
	}

	tests := []struct {
		name     string
		path     string
		wantDir  bool
		wantFile bool
	}{
		{"dir", dir, true, false},
		{"file", file, false, true},
		{"missing", filepath.Join(tempRoot, "does-not-exist"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, err := DirExists(tt.path); err != nil {
				t.Fatalf("unexpected error: %v", err)
			} else if got != tt.wantDir {
				t.Errorf("DirExists() = %v, want %v", got, tt.wantDir)
			}
			if got, err := FileExists(tt.path); err != nil {
				t.Fatalf("unexpected error: %v", err)
			} else if got != tt.wantFile {
				t.Errorf("FileExists() = %v, want %v", got, tt.wantFile)
			}
		})
	}
}

func Test_CopyFile(t *testing.T) {
	tempRoot := t.TempDir()

	src := filepath.Join(tempRoot, "src")
	dst := filepath.Join(tempRoot, "dst")
	if err := os.WriteFile(src, []byte("bundle-contents"), 0644); err != nil {
		t.Fatalf("failed to write a file: %v", err)
	}

	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, err := os.ReadFile(dst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	} else if string(got) != "bundle-contents" {
		t.Errorf("CopyFile() copied %q, want %q", got, "bundle-contents")
	}

	// copy over existing file truncates
	if err := os.WriteFile(src, []byte("v2"), 0644); err != nil {
		t.Fatalf("failed to write a file: %v", err)
	}
	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, _ := os.ReadFile(dst); string(got) != "v2" {
		t.Errorf("CopyFile() copied %q, want %q", got, "v2")
	}

	// missing src is an error
	if err := CopyFile(filepath.Join(tempRoot, "missing"), dst); err == nil {
		t.Errorf("expected error for missing src")
	}
}

func Test_RemoveIfExists(t *testing.T) {
	tempRoot := t.TempDir()

	file := filepath.Join(tempRoot, "file")
	if err := os.WriteFile(file, []byte{}, 0644); err != nil {
		t.Fatalf("failed to write a file: %v", err)
	}

	if err := RemoveIfExists(file); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Errorf("expected %q to be removed", file)
	}

	// removing it again is not an error
	if err := RemoveIfExists(file); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
