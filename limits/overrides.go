// Package limits resolves the retention limit of each instance.
package limits

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/yairfalse/snapkeep/types"
)

// Overrides is the parsed content of an override table.
// Skipped and Duplicates record 1-based line numbers of ignored lines.
type Overrides struct {
	Limits     map[string]int
	Skipped    []int
	Duplicates []int
}

// ParseOverrides reads "<instance-id>:<limit>" lines.
// Lines without a separator or without an id are skipped, later duplicates
// lose to the first occurrence, and a value that is not a non-negative
// integer fails the whole table.
func ParseOverrides(r io.Reader) (Overrides, error) {
	out := Overrides{Limits: make(map[string]int)}
	scanner := bufio.NewScanner(r)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		id, raw, ok := strings.Cut(line, ":")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			out.Skipped = append(out.Skipped, lineNo)
			continue
		}

		limit, err := parseLimit(strings.TrimSpace(raw))
		if err != nil {
			return Overrides{}, types.NewConfigError("overrides", "line %d (%s): %v", lineNo, id, err)
		}

		if _, seen := out.Limits[id]; seen {
			out.Duplicates = append(out.Duplicates, lineNo)
			continue
		}
		out.Limits[id] = limit
	}

	if err := scanner.Err(); err != nil {
		return Overrides{}, types.NewConfigError("overrides", "read: %v", err)
	}
	return out, nil
}

// LoadOverrides parses an override file. An empty path means no overrides.
func LoadOverrides(path string) (Overrides, error) {
	if path == "" {
		return Overrides{Limits: map[string]int{}}, nil
	}

	f, err := os.Open(path) // #nosec G304 -- path is operator configuration
	if err != nil {
		return Overrides{}, types.NewConfigError("overrides_file", "open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	return ParseOverrides(f)
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, errors.New("missing limit value")
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("limit %q is not an integer", raw)
	}
	if n < 0 {
		return 0, fmt.Errorf("limit %d is negative", n)
	}
	return n, nil
}
