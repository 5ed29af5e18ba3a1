package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"onnxd/internal/common/fsutil"
	"onnxd/pkg/types"
)

// Model formats reported in types.Model.Format.
const (
	FormatGenAI = "onnx-genai"
	FormatONNX  = "onnx"
	FormatGGUF  = "gguf"
)

// genaiConfigFile marks a directory as an ONNX GenAI model folder.
const genaiConfigFile = "genai_config.json"

// LoadDir scans a directory for loadable models: subdirectories holding a
// genai_config.json, and *.onnx / *.gguf files. ID is the directory or file
// name; Path is absolute. Results are sorted by ID.
func LoadDir(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		name := e.Name()
		p := filepath.Join(abs, name)
		if e.IsDir() {
			cfg := filepath.Join(p, genaiConfigFile)
			if !fsutil.PathExists(cfg) {
				continue
			}
			models = append(models, types.Model{ID: name, Name: name, Path: p, Format: FormatGenAI, Family: readFamily(cfg)})
			continue
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".onnx":
			models = append(models, types.Model{ID: name, Name: name, Path: p, Format: FormatONNX})
		case ".gguf":
			models = append(models, types.Model{ID: name, Name: name, Path: p, Format: FormatGGUF})
		}
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// readFamily returns model.type from a genai_config.json, or "" when unreadable.
func readFamily(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var doc struct {
		Model struct {
			Type string `json:"type"`
		} `json:"model"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return ""
	}
	return doc.Model.Type
}

// Find returns the model whose ID matches name, ignoring case.
func Find(models []types.Model, name string) (types.Model, bool) {
	for _, m := range models {
		if strings.EqualFold(m.ID, name) {
			return m, true
		}
	}
	return types.Model{}, false
}
