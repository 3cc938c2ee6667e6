package versioning

import (
	"fmt"
	"strings"
)

// Level 修订等级，三者互斥
type Level int

const (
	Major Level = iota
	Minor
	Patch
)

func (l Level) String() string {
	switch l {
	case Major:
		return "major"
	case Minor:
		return "minor"
	case Patch:
		return "patch"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "major":
		return Major, nil
	case "minor":
		return Minor, nil
	case "patch":
		return Patch, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

// LevelFromFlags 把 CLI 的三个布尔开关折叠成一个 Level
// 一个都没选或选了多个都是调用方错误
func LevelFromFlags(major, minor, patch bool) (Level, error) {
	var picked []Level
	if major {
		picked = append(picked, Major)
	}
	if minor {
		picked = append(picked, Minor)
	}
	if patch {
		picked = append(picked, Patch)
	}
	if len(picked) != 1 {
		return 0, ErrInvalidLevel
	}
	return picked[0], nil
}
