// Package store provides loading and saving of the static rule tables the
// engine is configured with: merchant alias rules mapping raw description
// patterns to canonical merchant keys. Rule tables are immutable once loaded;
// they are passed explicitly into each component rather than kept as
// process-wide state.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"subsentry/internal/logging"
)

// AliasRule maps a pattern found in a cleaned description to a canonical
// merchant key. Match is "contains", "exact" or "prefix".
type AliasRule struct {
	Pattern string `yaml:"pattern"`
	Match   string `yaml:"match"`
	Key     string `yaml:"key"`
}

// aliasesConfig is the top-level YAML structure: "aliases: [...]".
type aliasesConfig struct {
	Aliases []AliasRule `yaml:"aliases"`
}

// RuleStore manages loading and saving of rule tables.
type RuleStore struct {
	AliasesFile string
	logger      logging.Logger
}

// NewRuleStore creates a new store for rule tables.
func NewRuleStore(aliasesFile string, logger logging.Logger) *RuleStore {
	if logger == nil {
		logger = &logging.MockLogger{}
	}
	return &RuleStore{
		AliasesFile: aliasesFile,
		logger:      logger,
	}
}

// FindConfigFile looks for a configuration file in standard locations.
func (s *RuleStore) FindConfigFile(filename string) (string, error) {
	if filepath.IsAbs(filename) {
		if _, err := os.Stat(filename); err == nil {
			return filename, nil
		}
		return "", os.ErrNotExist
	}

	locations := []string{
		filename,
		filepath.Join("config", filename),
		filepath.Join("data", filename),
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location, nil
		}
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, ".subsentry", filename)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
	}

	return "", os.ErrNotExist
}

// LoadAliases loads merchant alias rules from the YAML file. A missing file is
// not an error: the normalizer falls back to its built-in table.
func (s *RuleStore) LoadAliases() ([]AliasRule, error) {
	filename := s.AliasesFile
	if filename == "" {
		filename = "aliases.yaml"
	}

	filePath, err := s.FindConfigFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug("Alias rules file not found, using built-in defaults",
				logging.Field{Key: logging.FieldFile, Value: filename})
			return []AliasRule{}, nil
		}
		return nil, fmt.Errorf("error resolving alias rules file: %w", err)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading alias rules file: %w", err)
	}

	var cfg aliasesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing alias rules file: %w", err)
	}

	rules := make([]AliasRule, 0, len(cfg.Aliases))
	for _, r := range cfg.Aliases {
		if r.Pattern == "" || r.Key == "" {
			s.logger.Warn("Skipping alias rule with empty pattern or key",
				logging.Field{Key: "pattern", Value: r.Pattern},
				logging.Field{Key: "key", Value: r.Key})
			continue
		}
		if r.Match == "" {
			r.Match = "contains"
		}
		r.Pattern = strings.ToLower(strings.TrimSpace(r.Pattern))
		r.Key = strings.ToLower(strings.TrimSpace(r.Key))
		rules = append(rules, r)
	}

	s.logger.Debug("Loaded alias rules",
		logging.Field{Key: logging.FieldCount, Value: len(rules)},
		logging.Field{Key: logging.FieldFile, Value: filePath})
	return rules, nil
}

// SaveAliases saves alias rules to the YAML file, creating parent directories
// as needed.
func (s *RuleStore) SaveAliases(rules []AliasRule) error {
	filename := s.AliasesFile
	if filename == "" {
		filename = "aliases.yaml"
	}

	filePath, err := s.FindConfigFile(filename)
	if err != nil && err != os.ErrNotExist {
		return fmt.Errorf("error resolving alias rules file: %w", err)
	}
	if err == os.ErrNotExist {
		if !filepath.IsAbs(filename) {
			filePath = filepath.Join("data", filename)
		} else {
			filePath = filename
		}
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}

	data, err := yaml.Marshal(aliasesConfig{Aliases: rules})
	if err != nil {
		return fmt.Errorf("error marshaling alias rules: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("error writing alias rules: %w", err)
	}

	s.logger.Debug("Saved alias rules",
		logging.Field{Key: logging.FieldCount, Value: len(rules)},
		logging.Field{Key: logging.FieldFile, Value: filePath})
	return nil
}
