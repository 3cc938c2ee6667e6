package product

import (
	"slices"

	"hippo/pkg/meta"
	"hippo/pkg/metadata"
	"hippo/pkg/upload"
)

// FieldChange 单个标量字段的变化
type FieldChange struct {
	Field string
	Old   string
	New   string
}

// ProductDiff 是一次修订的预览
type ProductDiff struct {
	Fields []FieldChange

	AddedReaders   []string
	RemovedReaders []string
	AddedWriters   []string
	RemovedWriters []string

	NewSources      []string
	ReplacedSources []string
	DroppedSources  []string
}

// Empty 没有任何有效变更
func (d ProductDiff) Empty() bool {
	return len(d.Fields) == 0 &&
		len(d.AddedReaders) == 0 && len(d.RemovedReaders) == 0 &&
		len(d.AddedWriters) == 0 && len(d.RemovedWriters) == 0 &&
		len(d.NewSources) == 0 && len(d.ReplacedSources) == 0 && len(d.DroppedSources) == 0
}

// Diff 比较 current 和提议的变更，不修改任何东西
// 与当前值相同的 "变更" 不算变更
func Diff(current *meta.Product, ch Changes, sc upload.SourceChanges) (ProductDiff, error) {
	var d ProductDiff

	if ch.Name != nil && *ch.Name != current.Name {
		d.Fields = append(d.Fields, FieldChange{Field: "name", Old: current.Name, New: *ch.Name})
	}
	if ch.Description != nil && *ch.Description != current.Description {
		d.Fields = append(d.Fields, FieldChange{Field: "description", Old: current.Description, New: *ch.Description})
	}
	if ch.Owner != nil && *ch.Owner != current.Owner {
		d.Fields = append(d.Fields, FieldChange{Field: "owner", Old: current.Owner, New: *ch.Owner})
	}
	if ch.Metadata != nil {
		old, err := current.DecodeMetadata()
		if err != nil {
			return d, err
		}
		if !metadata.Equal(old, ch.Metadata) {
			d.Fields = append(d.Fields, FieldChange{Field: "metadata", Old: old.MetadataType(), New: ch.Metadata.MetadataType()})
		}
	}

	readers := applySet(current.Readers, ch.AddReaders, ch.RemoveReaders)
	writersAdd := ch.AddWriters
	if ch.Owner != nil {
		writersAdd = append([]string{*ch.Owner}, writersAdd...)
	}
	writers := applySet(current.Writers, writersAdd, ch.RemoveWriters)
	d.AddedReaders, d.RemovedReaders = setDelta(current.Readers, readers)
	d.AddedWriters, d.RemovedWriters = setDelta(current.Writers, writers)

	for _, s := range sc.New {
		d.NewSources = append(d.NewSources, s.Name)
	}
	for _, s := range sc.Replace {
		d.ReplacedSources = append(d.ReplacedSources, s.Name)
	}
	d.DroppedSources = append(d.DroppedSources, sc.Drop...)

	return d, nil
}

func setDelta(before, after []string) (added, removed []string) {
	for _, x := range after {
		if !slices.Contains(before, x) {
			added = append(added, x)
		}
	}
	for _, x := range before {
		if !slices.Contains(after, x) {
			removed = append(removed, x)
		}
	}
	return added, removed
}
