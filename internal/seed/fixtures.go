package seed

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed restaurants.yaml
var defaultRestaurantsYAML []byte

// Restaurant is a place that seeded posts and favorites point at.
type Restaurant struct {
	PlaceID string  `yaml:"place_id"`
	Name    string  `yaml:"name"`
	Address string  `yaml:"address"`
	Rating  float64 `yaml:"rating"`
	Lat     float64 `yaml:"lat"`
	Lng     float64 `yaml:"lng"`
}

type restaurantFile struct {
	Restaurants []Restaurant `yaml:"restaurants"`
}

// ParseRestaurants decodes a restaurant fixture document.
func ParseRestaurants(data []byte) ([]Restaurant, error) {
	var f restaurantFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode restaurant fixture: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Restaurants))
	for i, r := range f.Restaurants {
		if r.PlaceID == "" || r.Name == "" {
			return nil, fmt.Errorf("restaurant %d: place_id and name are required", i)
		}
		if r.Lat < -90 || r.Lat > 90 || r.Lng < -180 || r.Lng > 180 {
			return nil, fmt.Errorf("restaurant %s: coordinate out of range", r.PlaceID)
		}
		if _, dup := seen[r.PlaceID]; dup {
			return nil, fmt.Errorf("restaurant %s: duplicate place_id", r.PlaceID)
		}
		seen[r.PlaceID] = struct{}{}
	}
	return f.Restaurants, nil
}

// DefaultRestaurants returns the embedded demo restaurants.
func DefaultRestaurants() []Restaurant {
	rs, err := ParseRestaurants(defaultRestaurantsYAML)
	if err != nil {
		panic(err)
	}
	return rs
}
