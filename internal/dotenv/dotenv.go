// Package dotenv loads KEY=VALUE files into the process environment for
// local development. Real deployments set the environment directly.
package dotenv

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Load reads each file in order and sets any key not already present in
// the environment. Missing files are skipped silently so a bare
// checkout runs without a .env.
func Load(paths ...string) error {
	for _, path := range paths {
		pairs, err := parseFile(path)
		if err != nil {
			return err
		}
		for _, kv := range pairs {
			if _, exists := os.LookupEnv(kv.key); exists {
				continue
			}
			if err := os.Setenv(kv.key, kv.value); err != nil {
				return fmt.Errorf("set %s from %s: %w", kv.key, path, err)
			}
		}
	}
	return nil
}

type pair struct {
	key   string
	value string
}

func parseFile(path string) ([]pair, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var out []pair
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		kv, ok := parseLine(scanner.Text())
		if ok {
			out = append(out, kv)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

func parseLine(line string) (pair, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return pair{}, false
	}
	line = strings.TrimPrefix(line, "export ")

	key, value, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return pair{}, false
	}

	value = strings.TrimSpace(value)
	value = unquote(value)
	return pair{key: key, value: value}, true
}

func unquote(v string) string {
	if len(v) < 2 {
		return v
	}
	if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
		return v[1 : len(v)-1]
	}
	return v
}
