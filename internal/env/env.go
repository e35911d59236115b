// Package env collects the variable sources that feed jobs.yaml template
// rendering. Variables come from the process environment, the envFiles
// listed in the stack header, --var-file flags, and inline --vars lists;
// later sources override earlier ones.
package env

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Vars is one set of template variables.
type Vars map[string]string

// FromOS snapshots the process environment.
func FromOS() Vars {
	environ := os.Environ()
	out := make(Vars, len(environ))
	for _, kv := range environ {
		if key, value, ok := strings.Cut(kv, "="); ok {
			out[key] = value
		}
	}
	return out
}

// Merge combines variable sets in precedence order: a key in a later set
// wins over the same key in an earlier one.
func Merge(sets ...Vars) Vars {
	out := make(Vars)
	for _, set := range sets {
		for key, value := range set {
			out[key] = value
		}
	}
	return out
}

// LoadEnvFile reads one .env-style file.
func LoadEnvFile(path string) (Vars, error) {
	envMap, err := godotenv.Read(path)
	if err != nil {
		return nil, err
	}
	return Vars(envMap), nil
}

// LoadEnvFiles reads the stack header's envFiles in order, resolving
// relative paths against the directory holding jobs.yaml.
func LoadEnvFiles(baseDir string, files []string) (Vars, error) {
	var result Vars
	for _, name := range files {
		if name == "" {
			continue
		}
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, name)
		}
		vars, err := LoadEnvFile(path)
		if err != nil {
			return nil, fmt.Errorf("load env file %q: %w", path, err)
		}
		result = Merge(result, vars)
	}
	return result, nil
}

// ParseInlineVars parses the --vars flag, a comma-separated key=value list
// such as "IMAGE_TAG=abc123,DOT_ENV=staging".
func ParseInlineVars(s string) (Vars, error) {
	out := make(Vars)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid inline var %q, expected key=value", part)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("empty key in inline var %q", part)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

// LoadVarFile reads a --var-file. Both "key: value" lines (the YAML shape
// most var-files in this repo use) and "key=value" lines are accepted, so a
// .env file can be passed unchanged. Blank lines and # comments are skipped.
func LoadVarFile(path string) (Vars, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	result := make(Vars)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitVarLine(line)
		if ok && key != "" {
			result[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// splitVarLine splits one var-file line on "=" when present, ":" otherwise,
// and strips surrounding quotes from the value.
func splitVarLine(line string) (string, string, bool) {
	sep := ":"
	if strings.Contains(line, "=") {
		sep = "="
	}
	key, value, ok := strings.Cut(line, sep)
	if !ok {
		return "", "", false
	}
	value = strings.TrimSpace(value)
	for _, quote := range []string{`"`, `'`} {
		if strings.HasPrefix(value, quote) && strings.HasSuffix(value, quote) && len(value) >= 2 {
			value = value[1 : len(value)-1]
			break
		}
	}
	return strings.TrimSpace(key), value, true
}
