package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// YamlOnlyKeys are the bootstrap settings read before a participant is
// created — domain id, transport interface, and the like — so they
// must live in the on-disk config.yaml rather than only in process
// memory (mirrors the teacher's rationale for its own YamlOnlyKeys:
// these are read before anything downstream exists to store them in).
var YamlOnlyKeys = map[string]bool{
	"domain_id":        true,
	"participant_name": true,
	"transport_interface": true,
	"discovery_multicast_address": true,
	"metrics_exporter":    true,
	"metrics_otlp_endpoint": true,
	"log_level":           true,
}

// IsYamlOnlyKey returns true if key must be stored in config.yaml
// rather than only applied in memory.
func IsYamlOnlyKey(key string) bool {
	if YamlOnlyKeys[normalizeYamlKey(key)] {
		return true
	}
	prefixes := []string{"whc.", "reliable.", "discovery."}
	for _, prefix := range prefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// keyAliases maps a handful of historical flag spellings onto the
// canonical mapstructure field name.
var keyAliases = map[string]string{
	"domain": "domain_id",
}

func normalizeYamlKey(key string) string {
	if alias, ok := keyAliases[key]; ok {
		return alias
	}
	return key
}

// validateYamlConfigValue rejects values that would decode into a
// nonsensical Settings field before they ever reach disk.
func validateYamlConfigValue(key, value string) error {
	switch normalizeYamlKey(key) {
	case "whc_highwater_mark", "whc_batch", "whc_init_highwater_mark", "accelerate_rexmit_block_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s must be a positive integer, got %q", key, value)
		}
		if n < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", key, n)
		}
	case "whc_lowwater_mark":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s must be a non-negative integer, got %q", key, value)
		}
		if n < 0 {
			return fmt.Errorf("%s must be at least 0, got %d", key, n)
		}
	case "whc_max_blocking_time":
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s must be a duration (e.g. \"200ms\"), got %q", key, value)
		}
	}
	return nil
}

// SetYamlConfig sets key=value in the project's .ddscore/config.yaml,
// validating first and refusing to write an invalid value.
func SetYamlConfig(key, value string) error {
	if err := validateYamlConfigValue(key, value); err != nil {
		return err
	}

	configPath, err := findProjectConfigYaml()
	if err != nil {
		return err
	}

	content, err := os.ReadFile(configPath) //nolint:gosec // configPath is from findProjectConfigYaml
	if err != nil {
		return fmt.Errorf("config: read config.yaml: %w", err)
	}

	newContent, err := updateYamlKey(string(content), normalizeYamlKey(key), value)
	if err != nil {
		return err
	}

	if err := os.WriteFile(configPath, []byte(newContent), 0600); err != nil {
		return fmt.Errorf("config: write config.yaml: %w", err)
	}
	return nil
}

// GetYamlConfig reads a configuration value from the loaded viper
// layers (environment over file over default).
func GetYamlConfig(key string) string {
	return v.GetString(normalizeYamlKey(key))
}

// findProjectConfigYaml walks up from the working directory looking
// for .ddscore/config.yaml.
func findProjectConfigYaml() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("config: get working directory: %w", err)
	}

	for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		configPath := filepath.Join(dir, ".ddscore", "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
	}
	return "", fmt.Errorf("config: no .ddscore/config.yaml found in the working directory or any parent")
}

// updateYamlKey updates key in yaml content in place (commenting or
// not), or appends it if absent.
func updateYamlKey(content, key, value string) (string, error) {
	formattedValue := formatYamlValue(value)
	newLine := fmt.Sprintf("%s: %s", key, formattedValue)

	keyPattern := regexp.MustCompile(`^(\s*)(#\s*)?` + regexp.QuoteMeta(key) + `\s*:`)

	found := false
	var result []string

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if keyPattern.MatchString(line) {
			matches := keyPattern.FindStringSubmatch(line)
			indent := ""
			if len(matches) > 1 {
				indent = matches[1]
			}
			result = append(result, indent+newLine)
			found = true
		} else {
			result = append(result, line)
		}
	}

	if !found {
		if len(result) > 0 && result[len(result)-1] != "" {
			result = append(result, "")
		}
		result = append(result, newLine)
	}

	return strings.Join(result, "\n"), nil
}

// formatYamlValue formats value for inclusion in YAML.
func formatYamlValue(value string) string {
	lower := strings.ToLower(value)
	if lower == "true" || lower == "false" {
		return lower
	}
	if isNumeric(value) {
		return value
	}
	if isDuration(value) {
		return value
	}
	if needsQuoting(value) {
		return fmt.Sprintf("%q", value)
	}
	return value
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		if c == '-' && i == 0 {
			continue
		}
		if c == '.' {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isDuration(s string) bool {
	if len(s) < 2 {
		return false
	}
	suffix := s[len(s)-1]
	if suffix != 's' && suffix != 'm' && suffix != 'h' {
		return false
	}
	return isNumeric(s[:len(s)-1])
}

func needsQuoting(s string) bool {
	special := []string{":", "#", "[", "]", "{", "}", ",", "&", "*", "!", "|", ">", "'", "\"", "%", "@", "`"}
	for _, c := range special {
		if strings.Contains(s, c) {
			return true
		}
	}
	if strings.TrimSpace(s) != s {
		return true
	}
	return false
}
