package acl

import (
	"testing"

	"hippo/pkg/types"

	"github.com/stretchr/testify/assert"
)

type entity struct {
	readers []string
	writers []string
}

func (e entity) ReaderGroups() []string { return e.readers }
func (e entity) WriterGroups() []string { return e.writers }

func TestAllowed(t *testing.T) {
	readers := []string{"analysis"}
	writers := []string{"alice"}

	tests := []struct {
		name     string
		groups   []string
		scopes   []string
		required types.Access
		want     bool
	}{
		{"Reader reads", []string{"analysis"}, nil, types.Read, true},
		{"Reader writes", []string{"analysis"}, nil, types.Write, false},
		{"Writer reads", []string{"alice"}, nil, types.Read, true},
		{"Writer writes", []string{"alice"}, nil, types.Write, true},
		{"Stranger reads", []string{"bob"}, nil, types.Read, false},
		{"Stranger writes", []string{"bob"}, nil, types.Write, false},
		{"Admin scope", []string{"bob"}, []string{AdminScope}, types.Write, true},
		{"Non-admin scope", []string{"bob"}, []string{"hippo:read"}, types.Read, false},
		{"No groups", nil, nil, types.Read, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Allowed(tt.groups, tt.scopes, readers, writers, tt.required)
			assert.Equal(t, tt.want, got)

			err := Check(tt.groups, tt.scopes, readers, writers, tt.required)
			if tt.want {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrForbidden)
			}
		})
	}
}

func TestAuthorize(t *testing.T) {
	e := entity{readers: []string{"analysis"}, writers: []string{"alice"}}

	reader := Caller{Name: "carol", Groups: []string{"carol", "analysis"}}
	stranger := Caller{Name: "bob", Groups: []string{"bob"}}
	admin := Caller{Name: "root", Scopes: []string{AdminScope}}

	assert.NoError(t, Authorize(reader, e, types.Read))
	assert.ErrorIs(t, Authorize(reader, e, types.Write), ErrForbidden,
		"readable entity must report forbidden on write")

	assert.ErrorIs(t, Authorize(stranger, e, types.Read), ErrNotVisible)
	assert.ErrorIs(t, Authorize(stranger, e, types.Write), ErrNotVisible,
		"invisible entity must not reveal that it exists")

	assert.NoError(t, Authorize(admin, e, types.Write))
}

func TestAllowed_EmptyEntity(t *testing.T) {
	assert.False(t, Allowed([]string{"alice"}, nil, nil, nil, types.Read))
	assert.True(t, Allowed([]string{"alice"}, []string{AdminScope}, nil, nil, types.Write))
}
