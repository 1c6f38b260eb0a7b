package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/boringtable/pkg/table"
)

// ManifestFile is the file name LoadManifestFromDir looks for.
const ManifestFile = "table.yaml"

var (
	semverRegex = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)
	idRegex     = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
)

// LoadManifest loads and parses a manifest from a file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses a YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &manifest, nil
}

// LoadManifestFromDir loads a manifest from a directory (looks for table.yaml)
func LoadManifestFromDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, ManifestFile))
}

// SaveManifest saves a manifest to a file
func SaveManifest(manifest *Manifest, path string) error {
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return nil
}

// ValidateManifest checks required fields, version formats, columns and the
// plugin chain. A nil result means the manifest is usable.
func ValidateManifest(manifest *Manifest) []ValidationError {
	var errs []ValidationError
	add := func(field, severity, format string, args ...any) {
		errs = append(errs, ValidationError{
			Field:    field,
			Message:  fmt.Sprintf(format, args...),
			Severity: severity,
		})
	}

	// Required fields
	if manifest.ID == "" {
		add("id", SeverityError, "Table ID is required")
	} else if !idRegex.MatchString(manifest.ID) {
		add("id", SeverityError, "Table ID must be lowercase alphanumeric with hyphens (e.g., 'open-orders')")
	}
	if manifest.Name == "" {
		add("name", SeverityError, "Table name is required")
	}
	if manifest.Version == "" {
		add("version", SeverityError, "Version is required")
	} else if !isValidSemver(manifest.Version) {
		add("version", SeverityError, "Invalid semver format: %s", manifest.Version)
	}
	if manifest.APIVersion == "" {
		add("api_version", SeverityError, "API version is required")
	} else if !isValidSemver(manifest.APIVersion) {
		add("api_version", SeverityError, "Invalid semver format: %s", manifest.APIVersion)
	}

	if len(manifest.Columns) == 0 {
		add("columns", SeverityWarning, "No columns declared")
	}
	columns := make(map[string]bool, len(manifest.Columns))
	for i, col := range manifest.Columns {
		field := fmt.Sprintf("columns[%d].key", i)
		switch {
		case col.Key == "":
			add(field, SeverityError, "Column key is required")
		case columns[col.Key]:
			add(field, SeverityError, "Duplicate column key: %s", col.Key)
		}
		columns[col.Key] = true
	}

	names := make(map[string]bool, len(manifest.Plugins))
	for i, spec := range manifest.Plugins {
		switch {
		case spec.Name == "":
			add(fmt.Sprintf("plugins[%d].name", i), SeverityError, "Plugin name is required")
		case names[spec.Name]:
			add(fmt.Sprintf("plugins[%d].name", i), SeverityError, "Duplicate plugin: %s", spec.Name)
		}
		names[spec.Name] = true

		if spec.Priority != "" {
			if _, err := table.ParsePriority(spec.Priority); err != nil {
				add(fmt.Sprintf("plugins[%d].priority", i), SeverityError, "Unknown priority: %s", spec.Priority)
			}
		}
	}

	return errs
}

// HasErrors reports whether any validation error has error severity.
func HasErrors(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// isValidSemver checks if a version string follows semantic versioning
func isValidSemver(version string) bool {
	return semverRegex.MatchString(version)
}

// IsCompatibleAPIVersion checks if a manifest's API version is compatible with
// the loader's. Only the major version is compared.
func IsCompatibleAPIVersion(manifestAPIVersion, loaderAPIVersion string) bool {
	return extractMajorVersion(manifestAPIVersion) == extractMajorVersion(loaderAPIVersion)
}

func extractMajorVersion(version string) string {
	matches := semverRegex.FindStringSubmatch(version)
	if len(matches) > 1 {
		return matches[1]
	}
	return "0"
}
