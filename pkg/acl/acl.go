// Package acl 决定调用方的 group/scope 集合能否读写一个受保护实体。
// 包内没有状态，所有 service 在改动数据之前都要先调用这里。
package acl

import (
	"errors"
	"slices"

	"hippo/pkg/types"
)

// AdminScope 拥有它的调用方跳过所有检查
const AdminScope = "hippo:admin"

var (
	// ErrForbidden 调用方能读但不能写
	ErrForbidden = errors.New("insufficient privileges for this operation")

	// ErrNotVisible 调用方连读权限都没有
	// service 层会把它翻译成各自的 NotFound，避免泄露实体是否存在
	ErrNotVisible = errors.New("entity not visible to caller")
)

// adminScopes 是固定的超级权限集合
var adminScopes = []string{AdminScope}

// Caller 是一次请求的身份
type Caller struct {
	Name   string
	Groups []string
	Scopes []string
}

// Protected 由 Product 和 Collection 实现
type Protected interface {
	ReaderGroups() []string
	WriterGroups() []string
}

// IsAdmin 判断 scopes 中是否含有管理员 scope
func IsAdmin(scopes []string) bool {
	for _, s := range scopes {
		if slices.Contains(adminScopes, s) {
			return true
		}
	}
	return false
}

// Allowed 是纯函数版本的检查
// Read 允许 readers ∪ writers，Write 只允许 writers
func Allowed(groups, scopes, readers, writers []string, required types.Access) bool {
	if IsAdmin(scopes) {
		return true
	}

	// 兼容老数据：writers/readers 里直接写了 hippo:admin
	if slices.Contains(groups, AdminScope) {
		return true
	}

	if intersects(groups, writers) {
		return true
	}
	if required == types.Read {
		return intersects(groups, readers)
	}
	return false
}

// Check 检查失败时返回 ErrForbidden
func Check(groups, scopes, readers, writers []string, required types.Access) error {
	if Allowed(groups, scopes, readers, writers, required) {
		return nil
	}
	return ErrForbidden
}

// Authorize 是 service 层使用的入口，entity 必须是刚从存储读出的副本
// 读权限都没有时返回 ErrNotVisible，能读不能写时返回 ErrForbidden
func Authorize(caller Caller, entity Protected, required types.Access) error {
	readers, writers := entity.ReaderGroups(), entity.WriterGroups()

	if !Allowed(caller.Groups, caller.Scopes, readers, writers, types.Read) {
		return ErrNotVisible
	}
	if required == types.Write && !Allowed(caller.Groups, caller.Scopes, readers, writers, types.Write) {
		return ErrForbidden
	}
	return nil
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(b))
	for _, x := range b {
		set[x] = struct{}{}
	}
	for _, x := range a {
		if _, ok := set[x]; ok {
			return true
		}
	}
	return false
}
