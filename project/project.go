// Package project handles project identity and on-disk project layout for the
// Dust execution engine. A project owns datasets, specifications, runs and
// cache entries; on disk it is a directory holding the app specification, the
// embedded store and the content-addressed dataset files.
package project

import (
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
)

// Project identifies a project in the store. IDs are opaque and monotonically
// increasing, assigned by the store on creation.
type Project struct {
	ID int64 `json:"project_id"`
}

// SpecFileName is the app specification file at the project root.
const SpecFileName = "index.dust"

// StoreFileName is the embedded SQLite store at the project root.
const StoreFileName = "store.sqlite"

// DataDirName is the directory holding content-addressed dataset JSONL files.
const DataDirName = ".data"

// Root resolves the project root directory. DUST_PROJECT_DIR takes precedence
// (with tilde expansion); otherwise the current working directory is used.
// The returned path is checked to contain a project (an index.dust file).
func Root() (string, error) {
	dir := os.Getenv("DUST_PROJECT_DIR")
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to resolve working directory: %w", err)
		}
		dir = wd
	}
	dir, err := homedir.Expand(dir)
	if err != nil {
		return "", fmt.Errorf("failed to expand project directory: %w", err)
	}

	if _, err := os.Stat(filepath.Join(dir, SpecFileName)); err != nil {
		return "", fmt.Errorf(
			"%s not found in %s (not a Dust project, or DUST_PROJECT_DIR unset)",
			SpecFileName, dir,
		)
	}
	return dir, nil
}

// SpecPath returns the path of the project's app specification file.
func SpecPath(root string) string {
	return filepath.Join(root, SpecFileName)
}

// StorePath returns the path of the project's embedded store.
func StorePath(root string) string {
	return filepath.Join(root, StoreFileName)
}

// DataDir returns the dataset directory for a dataset id, creating nothing.
func DataDir(root, datasetID string) string {
	return filepath.Join(root, DataDirName, datasetID)
}

// IDFileName records the store-assigned project id at the project root.
const IDFileName = ".project"

// SaveID persists the project id assigned by the store at init time.
func SaveID(root string, p Project) error {
	body := fmt.Sprintf("%d\n", p.ID)
	if err := os.WriteFile(filepath.Join(root, IDFileName), []byte(body), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", IDFileName, err)
	}
	return nil
}

// LoadID reads the project id recorded by SaveID.
func LoadID(root string) (Project, error) {
	raw, err := os.ReadFile(filepath.Join(root, IDFileName))
	if err != nil {
		return Project{}, fmt.Errorf("failed to read %s (project not initialized?): %w", IDFileName, err)
	}
	var id int64
	if _, err := fmt.Sscanf(string(raw), "%d", &id); err != nil {
		return Project{}, fmt.Errorf("invalid %s: %w", IDFileName, err)
	}
	return Project{ID: id}, nil
}

// Init lays out a new project directory: a starter index.dust and the .data
// directory. It refuses to overwrite an existing specification.
func Init(path string) (string, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("failed to expand path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("failed to create project directory: %w", err)
	}

	specPath := filepath.Join(path, SpecFileName)
	if _, err := os.Stat(specPath); err == nil {
		return "", fmt.Errorf("%s already exists in %s", SpecFileName, path)
	}

	starter := "root root {\n}\n"
	if err := os.WriteFile(specPath, []byte(starter), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", SpecFileName, err)
	}
	if err := os.MkdirAll(filepath.Join(path, DataDirName), 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", DataDirName, err)
	}
	return path, nil
}
