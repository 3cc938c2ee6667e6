package versioning

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrVersioning 对非 current 节点写入，或从非 current 节点删除整棵树
	ErrVersioning = errors.New("versioning error: you must always make changes to the head of the chain")

	ErrInvalidVersion = errors.New("invalid version string")
	ErrInvalidLevel   = errors.New("exactly one of major, minor or patch must be requested")
)

// Initial 是每条版本链的起点
var Initial = Version{Major: 1}

// Version 三段式版本号 MAJOR.MINOR.PATCH
type Version struct {
	Major int
	Minor int
	Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Parse 只接受恰好三段非负整数
func Parse(s string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// MustParse 用于常量和测试
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Compare 返回 -1 / 0 / 1
func (v Version) Compare(o Version) int {
	for _, d := range [3]int{v.Major - o.Major, v.Minor - o.Minor, v.Patch - o.Patch} {
		if d < 0 {
			return -1
		}
		if d > 0 {
			return 1
		}
	}
	return 0
}

func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// Revise 按修订等级计算下一个版本号
// MAJOR 把 minor/patch 清零，MINOR 把 patch 清零
func (v Version) Revise(level Level) Version {
	switch level {
	case Major:
		return Version{Major: v.Major + 1}
	case Minor:
		return Version{Major: v.Major, Minor: v.Minor + 1}
	default:
		return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
	}
}

// Revise 是字符串版本的便捷入口
func Revise(current string, level Level) (string, error) {
	v, err := Parse(current)
	if err != nil {
		return "", err
	}
	return v.Revise(level).String(), nil
}
