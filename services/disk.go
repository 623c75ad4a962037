package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"docconvert/models"
)

// DiskArtifactStore keeps artifacts as flat files under one directory.
// References are file names relative to that directory.
type DiskArtifactStore struct {
	root string
}

func NewDiskArtifactStore(location string) (*DiskArtifactStore, error) {
	root, err := filepath.Abs(location)
	if err != nil {
		return nil, fmt.Errorf("resolve storage location: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("could not create the directory where the uploaded files will be stored: %w", err)
	}
	return &DiskArtifactStore{root: root}, nil
}

func (s *DiskArtifactStore) Store(ctx context.Context, data []byte, nameHint string) (string, error) {
	name, err := cleanArtifactName(nameHint)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target := filepath.Join(s.root, name)
	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return "", &models.StorageError{Op: "store " + name, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", &models.StorageError{Op: "store " + name, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &models.StorageError{Op: "store " + name, Err: err}
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", &models.StorageError{Op: "store " + name, Err: err}
	}
	return name, nil
}

func (s *DiskArtifactStore) Read(ctx context.Context, ref string) ([]byte, error) {
	name, err := cleanArtifactName(ref)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, name))
	if err != nil {
		return nil, &models.StorageError{Op: "could not read file " + name, Err: err}
	}
	return data, nil
}

// Path resolves a reference to its location on disk.
func (s *DiskArtifactStore) Path(ref string) string {
	return filepath.Join(s.root, filepath.Base(ref))
}

// cleanArtifactName rejects path traversal and flattens the hint to a
// single path element.
func cleanArtifactName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("filename contains invalid path sequence: %s", name)
	}
	cleaned := strings.ReplaceAll(filepath.ToSlash(name), "/", "_")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("artifact name is empty")
	}
	return cleaned, nil
}
