// Package membership 决定一次修订之后，新旧两个版本各自留在哪些集合里。
package membership

import "hippo/pkg/types"

// Link 是 Product 的某个版本与一个集合之间的关联
type Link struct {
	CollectionID string
	Policy       types.Policy
}

// keepOnOld 旧版本 (被取代) 保留的策略
func keepOnOld(p types.Policy) bool {
	switch p {
	case types.PolicyAll, types.PolicyNew, types.PolicyFixed:
		return true
	}
	return false
}

// keepOnNew 新版本 (成为 current) 继承的策略
func keepOnNew(p types.Policy) bool {
	switch p {
	case types.PolicyAll, types.PolicyNew, types.PolicyCurrent:
		return true
	}
	return false
}

// Project 返回 links 投影到旧版本 (isNewVersion=false) 或新版本上的结果
//
//	ALL     -> 两边都保留
//	NEW     -> 两边都保留
//	CURRENT -> 只保留在新版本
//	FIXED   -> 只保留在旧版本
//
// 结果保持原有顺序
func Project(links []Link, isNewVersion bool) []Link {
	keep := keepOnOld
	if isNewVersion {
		keep = keepOnNew
	}

	out := make([]Link, 0, len(links))
	for _, l := range links {
		if keep(l.Policy) {
			out = append(out, l)
		}
	}
	return out
}

// Split 一次算出修订后旧版本和新版本各自的关联
// 每条原始关联至少出现在一边；CURRENT 和 FIXED 恰好出现在一边
func Split(links []Link) (old, next []Link) {
	return Project(links, false), Project(links, true)
}
