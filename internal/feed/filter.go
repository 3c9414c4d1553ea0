package feed

// DefaultRadiusKm is the geo feed radius when none is configured.
const DefaultRadiusKm = 40.0

// FilterByRadius keeps located posts within radiusKm of the viewer, boundary
// included. The input slice is not modified.
func FilterByRadius(posts []EnrichedPost, radiusKm float64) []EnrichedPost {
	out := make([]EnrichedPost, 0, len(posts))
	for _, p := range posts {
		if p.HasLocation && p.Distance <= radiusKm {
			out = append(out, p)
		}
	}
	return out
}
