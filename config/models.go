package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var defaultCatalog []byte

// ChatModel is one selectable entry of the model picker.
type ChatModel struct {
	Slug          string `yaml:"slug" json:"slug"`
	Title         string `yaml:"title" json:"title"`
	Model         string `yaml:"model" json:"model"`
	Provider      string `yaml:"provider" json:"provider"`
	Default       bool   `yaml:"default" json:"isDefault,omitempty"`
	HasReasoning  bool   `yaml:"hasReasoning" json:"hasReasoning,omitempty"`
	ContextLength int    `yaml:"contextLength" json:"contextLength"`
	Logo          string `yaml:"logo" json:"logo,omitempty"`
}

// Catalog is the ordered list of chat models.
type Catalog struct {
	Models []ChatModel `yaml:"models"`
}

// LoadCatalog reads the catalog from path, or the embedded default when path
// is empty. A non-empty defaultModel replaces the model id of the default
// entry (OPENROUTER_MODEL).
func LoadCatalog(path, defaultModel string) (*Catalog, error) {
	raw := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read model catalog: %w", err)
		}
		raw = b
	}
	return ParseCatalog(raw, defaultModel)
}

func ParseCatalog(raw []byte, defaultModel string) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse model catalog: %w", err)
	}
	if len(c.Models) == 0 {
		return nil, errors.New("model catalog is empty")
	}

	seen := make(map[string]bool, len(c.Models))
	defaults := 0
	for i := range c.Models {
		m := &c.Models[i]
		if m.Slug == "" || m.Model == "" {
			return nil, fmt.Errorf("model catalog entry %d needs slug and model", i)
		}
		if seen[m.Slug] {
			return nil, fmt.Errorf("duplicate model slug %q", m.Slug)
		}
		seen[m.Slug] = true
		if m.Provider == "" {
			m.Provider = "openrouter"
		}
		if m.Default {
			defaults++
			if defaultModel != "" {
				m.Model = defaultModel
			}
		}
	}
	if defaults > 1 {
		return nil, errors.New("model catalog has more than one default")
	}
	return &c, nil
}

// Lookup returns the entry for slug.
func (c *Catalog) Lookup(slug string) (ChatModel, bool) {
	for _, m := range c.Models {
		if m.Slug == slug {
			return m, true
		}
	}
	return ChatModel{}, false
}

// Default returns the entry flagged as default.
func (c *Catalog) Default() (ChatModel, bool) {
	for _, m := range c.Models {
		if m.Default {
			return m, true
		}
	}
	return ChatModel{}, false
}
