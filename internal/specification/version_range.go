package specification

import (
	"fmt"
	"strconv"
	"strings"
)

// parseVersionRange parses the descriptor's blender_version_min/_max strings
// into the [3]int form internal/catalog.InRange expects. An empty max means
// unbounded (every catalogued release at or above min).
func parseVersionRange(min, max string) ([3]int, *[3]int, error) {
	minVer, err := parseVersion(min)
	if err != nil {
		return [3]int{}, nil, fmt.Errorf("blender_version_min: %w", err)
	}

	if max == "" {
		return minVer, nil, nil
	}

	maxVer, err := parseVersion(max)
	if err != nil {
		return [3]int{}, nil, fmt.Errorf("blender_version_max: %w", err)
	}

	return minVer, &maxVer, nil
}

func parseVersion(s string) ([3]int, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return [3]int{}, fmt.Errorf("%q is not a M.m.p version", s)
	}

	var out [3]int

	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return [3]int{}, fmt.Errorf("%q is not a M.m.p version: %w", s, err)
		}

		out[i] = n
	}

	return out, nil
}
