package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/soyeahso/chatform/internal/domain"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Extensions lists the agent file extensions, in lookup order.
var Extensions = []string{".yaml", ".yml", ".json", ".jsonc"}

// FileProvider reads agent definitions from a directory, one file per
// agent named <id>.yaml, <id>.yml, <id>.json or <id>.jsonc.
type FileProvider struct {
	Dir string
}

// NewFileProvider creates a provider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{Dir: dir}
}

// Get implements Provider.
func (p *FileProvider) Get(_ context.Context, id string) (*domain.AgentConfig, error) {
	if !validID(id) {
		return nil, ErrAgentNotFound
	}
	for _, ext := range Extensions {
		path := filepath.Join(p.Dir, id+ext)
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		return LoadFile(path)
	}
	return nil, ErrAgentNotFound
}

// List implements Lister. Files that fail to parse are reported as errors.
func (p *FileProvider) List(_ context.Context) ([]*domain.AgentConfig, error) {
	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var out []*domain.AgentConfig
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() || !isAgentFile(e.Name()) {
			continue
		}
		cfg, err := LoadFile(filepath.Join(p.Dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if seen[cfg.ID] {
			continue
		}
		seen[cfg.ID] = true
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LoadFile reads and validates a single agent file. An empty id defaults
// to the file name without its extension.
func LoadFile(path string) (*domain.AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	cfg, err := Parse(data, ext)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.ID == "" {
		cfg.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes an agent definition. ext selects the format: ".yaml" and
// ".yml" are YAML; anything else is JSON, with comments and trailing commas
// allowed.
func Parse(data []byte, ext string) (*domain.AgentConfig, error) {
	var cfg domain.AgentConfig
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
			return nil, fmt.Errorf("parsing json: %w", err)
		}
	}
	return &cfg, nil
}

// WriteFile stores an agent definition as YAML in dir.
func WriteFile(dir string, cfg *domain.AgentConfig) (string, error) {
	if err := Validate(cfg); err != nil {
		return "", err
	}
	if !validID(cfg.ID) {
		return "", fmt.Errorf("agent id %q cannot be used as a file name", cfg.ID)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, cfg.ID+".yaml")
	return path, os.WriteFile(path, data, 0o600)
}

func isAgentFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
