package batch

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// ExpandPattern splits a glob with one brace alternation into plain glob
// patterns: "*.{mp4,mov}" becomes ["*.mp4", "*.mov"]. Patterns without
// braces pass through unchanged.
func ExpandPattern(pattern string) ([]string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("empty file pattern")
	}

	open := strings.Index(pattern, "{")
	if open == -1 {
		if strings.Contains(pattern, "}") {
			return nil, fmt.Errorf("unbalanced braces in pattern %q", pattern)
		}
		return []string{pattern}, nil
	}
	closeIdx := strings.Index(pattern[open:], "}")
	if closeIdx == -1 {
		return nil, fmt.Errorf("unbalanced braces in pattern %q", pattern)
	}
	closeIdx += open

	prefix := pattern[:open]
	suffix := pattern[closeIdx+1:]
	if strings.ContainsAny(suffix, "{}") {
		return nil, fmt.Errorf("only one brace group is supported in pattern %q", pattern)
	}

	var expanded []string
	for _, alt := range strings.Split(pattern[open+1:closeIdx], ",") {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			continue
		}
		expanded = append(expanded, prefix+alt+suffix)
	}
	if len(expanded) == 0 {
		return nil, fmt.Errorf("pattern %q expands to nothing", pattern)
	}
	return expanded, nil
}

// Enumerate returns the sorted, deduplicated set of files under dir
// matching the pattern.
func Enumerate(dir, pattern string) ([]string, error) {
	patterns, err := ExpandPattern(pattern)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var files []string
	for _, p := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, p))
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", p, err)
		}
		for _, match := range matches {
			if _, ok := seen[match]; ok {
				continue
			}
			seen[match] = struct{}{}
			files = append(files, match)
		}
	}
	sort.Strings(files)
	return files, nil
}

// OutputName maps an input file to its cleaned counterpart in outputDir.
func OutputName(outputDir, inputPath string) string {
	return filepath.Join(outputDir, "cleaned_"+filepath.Base(inputPath))
}
