package newsbot

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Source is one RSS feed a bot may pull from.
type Source struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

//go:embed sources.yaml
var sourcesYAML []byte

// LoadSources parses the embedded news-source table: a map of category to
// feed list. The table is read-only configuration; nothing mutates it after
// startup.
func LoadSources() (map[string][]Source, error) {
	var sources map[string][]Source
	if err := yaml.Unmarshal(sourcesYAML, &sources); err != nil {
		return nil, fmt.Errorf("parse news sources: %w", err)
	}
	for _, category := range Categories {
		if len(sources[category]) == 0 {
			return nil, fmt.Errorf("news sources: no feeds for category %q", category)
		}
	}
	return sources, nil
}
