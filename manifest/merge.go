package manifest

import (
	"sort"

	"github.com/ytget/ytresolve/types"
)

// Merge reconciles two snapshots of the same live variant by sequence
// number. The result holds the union of both segment lists in ascending
// order without duplicates; metadata comes from next, and a segment present
// in both keeps the copy from prev. Neither input is modified.
func Merge(prev, next *types.ManifestVariant) *types.ManifestVariant {
	switch {
	case prev == nil && next == nil:
		return nil
	case prev == nil:
		return clone(next)
	case next == nil:
		return clone(prev)
	}

	out := *next
	out.Segments = make([]types.Segment, 0, len(prev.Segments)+len(next.Segments))
	seen := make(map[uint64]struct{}, len(prev.Segments)+len(next.Segments))
	for _, list := range [][]types.Segment{prev.Segments, next.Segments} {
		for _, s := range list {
			if _, ok := seen[s.Sequence]; ok {
				continue
			}
			seen[s.Sequence] = struct{}{}
			out.Segments = append(out.Segments, s)
		}
	}
	sort.SliceStable(out.Segments, func(i, j int) bool {
		return out.Segments[i].Sequence < out.Segments[j].Sequence
	})
	if out.Init == nil {
		out.Init = prev.Init
	}
	return &out
}

func clone(v *types.ManifestVariant) *types.ManifestVariant {
	out := *v
	out.Segments = append([]types.Segment(nil), v.Segments...)
	return &out
}
