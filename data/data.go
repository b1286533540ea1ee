// Package data implements versioned JSONL datasets. A dataset is an ordered
// sequence of JSON objects sharing an identical key set; its hash is the
// content hash of the canonical serialization of all points in order.
// Registered datasets are immutable: a new registration of the same content
// yields the same hash and rewrites the same file.
package data

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dust.evalgo.org/common"
	"dust.evalgo.org/project"
	homedir "github.com/mitchellh/go-homedir"
)

// Dataset is an in-memory versioned dataset.
type Dataset struct {
	ID     string
	Hash   string
	Keys   []string
	Points []interface{}
}

// Len returns the number of points.
func (d *Dataset) Len() int {
	return len(d.Points)
}

// PointsAsValue returns the points as a single JSON array value, as consumed
// by the `data` block.
func (d *Dataset) PointsAsValue() interface{} {
	out := make([]interface{}, len(d.Points))
	copy(out, d.Points)
	return out
}

// FromJSONL loads a dataset from a JSONL file. Every line must be a JSON
// object and all lines must share an identical key set; empty datasets are
// rejected. The dataset hash is computed over the canonical serialization of
// each point in order.
func FromJSONL(id, jsonlPath string) (*Dataset, error) {
	jsonlPath, err := homedir.Expand(jsonlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to expand path: %w", err)
	}
	f, err := os.Open(jsonlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer f.Close()

	hasher := common.NewHasher()
	var keys []string
	var points []interface{}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		v, err := common.ParseJSON([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		obj, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf(
				"line %d: not a JSON object, only JSON objects are expected at each line", line)
		}
		recordKeys := sortedKeys(obj)
		if keys == nil {
			keys = recordKeys
		} else if !equalKeys(keys, recordKeys) {
			return nil, fmt.Errorf("line %d: JSON object has different keys from previous lines", line)
		}

		canonical, err := common.CanonicalJSON(v)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		hasher.Update(canonical)
		points = append(points, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSONL file: %w", err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("empty dataset: %s", jsonlPath)
	}

	return &Dataset{
		ID:     id,
		Hash:   hasher.Finalize(),
		Keys:   keys,
		Points: points,
	}, nil
}

// FromPoints rebuilds a dataset from already-canonical point JSON, as stored
// in the relational store. The hash is recomputed and must match what the
// caller expects.
func FromPoints(id string, pointJSON []string) (*Dataset, error) {
	hasher := common.NewHasher()
	var keys []string
	points := make([]interface{}, 0, len(pointJSON))
	for i, raw := range pointJSON {
		v, err := common.ParseJSON([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		obj, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("point %d: not a JSON object", i)
		}
		if keys == nil {
			keys = sortedKeys(obj)
		}
		canonical, err := common.CanonicalJSON(v)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		hasher.Update(canonical)
		points = append(points, v)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("empty dataset: %s", id)
	}
	return &Dataset{
		ID:     id,
		Hash:   hasher.Finalize(),
		Keys:   keys,
		Points: points,
	}, nil
}

// FromHash loads a previously registered dataset version from the project's
// content-addressed data directory.
func FromHash(root, id, hash string) (*Dataset, error) {
	path := jsonlPath(root, id, hash)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("expected JSONL file does not exist: %s", path)
	}
	d, err := FromJSONL(id, path)
	if err != nil {
		return nil, err
	}
	if d.Hash != hash {
		return nil, fmt.Errorf("dataset %s content hash mismatch: expected %s, got %s", id, hash, d.Hash)
	}
	return d, nil
}

// FromLatest loads the current version of a registered dataset, following the
// `latest` pointer file.
func FromLatest(root, id string) (*Dataset, error) {
	lp := latestPath(root, id)
	raw, err := os.ReadFile(lp)
	if err != nil {
		return nil, fmt.Errorf("dataset id does not exist: %s (expecting %s)", id, lp)
	}
	return FromHash(root, id, strings.TrimSpace(string(raw)))
}

// Register writes the dataset under `.data/<id>/<hash>.jsonl` and points
// `.data/<id>/latest` at the new hash. Registration is idempotent by content:
// re-registering the same points rewrites the same file.
func (d *Dataset) Register(root string) error {
	dir := project.DataDir(root, d.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	path := jsonlPath(root, d.ID, d.Hash)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, p := range d.Points {
		canonical, err := common.CanonicalJSON(p)
		if err != nil {
			return err
		}
		if _, err := w.Write(canonical); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}

	if err := os.WriteFile(latestPath(root, d.ID), []byte(d.Hash), 0o644); err != nil {
		return fmt.Errorf("failed to update latest pointer: %w", err)
	}
	return nil
}

func jsonlPath(root, id, hash string) string {
	return filepath.Join(project.DataDir(root, id), hash+".jsonl")
}

func latestPath(root, id string) string {
	return filepath.Join(project.DataDir(root, id), "latest")
}

func sortedKeys(obj map[string]interface{}) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
