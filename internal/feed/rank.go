package feed

import (
	"cmp"
	"slices"
)

// Rank orders posts in place: most liked first, then nearest (only when
// geoActive), newest date, most commented, and finally lowest ID.
func Rank(posts []EnrichedPost, geoActive bool) {
	slices.SortFunc(posts, func(a, b EnrichedPost) int {
		if c := cmp.Compare(b.LikesCount, a.LikesCount); c != 0 {
			return c
		}
		if geoActive {
			if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
				return c
			}
		}
		if c := cmp.Compare(b.Date, a.Date); c != 0 {
			return c
		}
		if c := cmp.Compare(b.CommentsCount, a.CommentsCount); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
