package membership

import (
	"testing"

	"hippo/pkg/types"

	"github.com/stretchr/testify/assert"
)

func TestProject(t *testing.T) {
	links := []Link{
		{CollectionID: "all", Policy: types.PolicyAll},
		{CollectionID: "new", Policy: types.PolicyNew},
		{CollectionID: "current", Policy: types.PolicyCurrent},
		{CollectionID: "fixed", Policy: types.PolicyFixed},
	}

	old := Project(links, false)
	next := Project(links, true)

	assert.Equal(t, []string{"all", "new", "fixed"}, ids(old))
	assert.Equal(t, []string{"all", "new", "current"}, ids(next))
}

func TestSplit_Coverage(t *testing.T) {
	policies := []types.Policy{types.PolicyAll, types.PolicyNew, types.PolicyCurrent, types.PolicyFixed}

	for _, p := range policies {
		t.Run(p.String(), func(t *testing.T) {
			in := []Link{{CollectionID: "c1", Policy: p}}
			old, next := Split(in)

			inOld, inNew := len(old) == 1, len(next) == 1

			// 永远不会从两边同时消失
			assert.True(t, inOld || inNew, "link dropped from both versions")

			switch p {
			case types.PolicyCurrent:
				assert.False(t, inOld)
				assert.True(t, inNew)
			case types.PolicyFixed:
				assert.True(t, inOld)
				assert.False(t, inNew)
			default:
				assert.True(t, inOld && inNew)
			}
		})
	}
}

func TestSplit_RepeatedRevisions(t *testing.T) {
	// 连续修订三次，CURRENT 只会跟着 head 走，FIXED 永远停在第一个版本
	head := []Link{
		{CollectionID: "release", Policy: types.PolicyCurrent},
		{CollectionID: "paper", Policy: types.PolicyFixed},
	}

	var superseded [][]Link
	for range 3 {
		old, next := Split(head)
		superseded = append(superseded, old)
		head = next
	}

	assert.Equal(t, []string{"release"}, ids(head))
	assert.Equal(t, []string{"paper"}, ids(superseded[0]))
	assert.Empty(t, superseded[1])
	assert.Empty(t, superseded[2])
}

func TestProject_Empty(t *testing.T) {
	assert.Empty(t, Project(nil, true))
	assert.Empty(t, Project(nil, false))
}

func ids(links []Link) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		out = append(out, l.CollectionID)
	}
	return out
}
