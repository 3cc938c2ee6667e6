// pkg/types/common.go
package types

import (
	"fmt"
	"strings"
)

// Policy 决定一个 Product↔Collection 关联在版本修订时的去留
// 它在关联建立时确定，之后不再改变
type Policy string

const (
	PolicyAll     Policy = "all"     // 所有版本都留在集合里
	PolicyNew     Policy = "new"     // 从关联时刻起的所有新版本
	PolicyCurrent Policy = "current" // 只跟随 current 版本
	PolicyFixed   Policy = "fixed"   // 钉死在关联时的那个版本
)

func (p Policy) String() string { return string(p) }

func (p Policy) IsValid() bool {
	switch p {
	case PolicyAll, PolicyNew, PolicyCurrent, PolicyFixed:
		return true
	}
	return false
}

// ParsePolicy 大小写不敏感，CLI 和配置里常写成 "ALL"
func ParsePolicy(s string) (Policy, error) {
	p := Policy(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("unknown collection policy %q", s)
	}
	return p, nil
}

// Checksum 形如 "xxh64:<hex>"，前缀是算法名
type Checksum string

func (c Checksum) String() string { return string(c) }
func (c Checksum) IsZero() bool   { return c == "" }

// Algorithm 返回冒号前的算法名，没有前缀时为空
func (c Checksum) Algorithm() string {
	algo, _, found := strings.Cut(string(c), ":")
	if !found {
		return ""
	}
	return algo
}

// Access 是访问控制检查所需的权限等级
type Access int

const (
	Read Access = iota
	Write
)

func (a Access) String() string {
	if a == Write {
		return "write"
	}
	return "read"
}
