package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spendlens/spendlens-api/internal/models"
	"gopkg.in/yaml.v3"
)

type jobCatalogFile struct {
	Jobs []models.JobDefinition `yaml:"jobs"`
}

// LoadJobDefinitions reads every *.yaml / *.yml file in dir and returns the
// combined job catalog. Duplicate triples across files are rejected here so a
// bad catalog fails the process at startup instead of at first trigger.
func LoadJobDefinitions(dir string) ([]models.JobDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read jobs dir %s: %w", dir, err)
	}

	seen := make(map[models.JobKey]string)
	var defs []models.JobDefinition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if ext := strings.ToLower(filepath.Ext(name)); ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read job catalog %s: %w", path, err)
		}
		var file jobCatalogFile
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("parse job catalog %s: %w", path, err)
		}
		for _, def := range file.Jobs {
			key := def.Key()
			if key.Provider == "" || key.Domain == "" || key.Name == "" {
				return nil, fmt.Errorf("%s: job definition missing provider/domain/name", path)
			}
			if def.Processor == "" {
				return nil, fmt.Errorf("%s: job %s has no processor", path, key)
			}
			if other, dup := seen[key]; dup {
				return nil, fmt.Errorf("%s: job %s already defined in %s", path, key, other)
			}
			seen[key] = path
			defs = append(defs, def)
		}
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("no job definitions found in %s", dir)
	}
	return defs, nil
}
