// Package places is a client for the Google Places web service.
package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cuisine/internal/cache"
	"cuisine/internal/config"
	"cuisine/internal/geo"
	"cuisine/internal/observability"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultPhotoMaxWidth is the photo width requested when callers pass 0.
const DefaultPhotoMaxWidth = 400

const detailFields = "name,rating,opening_hours,formatted_address,photos,geometry,reviews"

// ErrPlaceNotFound is returned by Details for unknown place ids.
var ErrPlaceNotFound = errors.New("place not found")

// Photo references one provider photo.
type Photo struct {
	Reference string `json:"photo_reference"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Review is one provider review.
type Review struct {
	AuthorName string  `json:"author_name"`
	Rating     float64 `json:"rating"`
	Text       string  `json:"text"`
	Time       int64   `json:"time"`
}

// OpeningHours is the subset of opening hours the client shows.
type OpeningHours struct {
	OpenNow     bool     `json:"open_now"`
	WeekdayText []string `json:"weekday_text,omitempty"`
}

// Geometry wraps the place location.
type Geometry struct {
	Location struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
}

// Place is a search result or a details record.
type Place struct {
	PlaceID          string        `json:"place_id"`
	Name             string        `json:"name"`
	FormattedAddress string        `json:"formatted_address"`
	Rating           float64       `json:"rating"`
	Photos           []Photo       `json:"photos,omitempty"`
	Reviews          []Review      `json:"reviews,omitempty"`
	OpeningHours     *OpeningHours `json:"opening_hours,omitempty"`
	Geometry         *Geometry     `json:"geometry,omitempty"`
}

// Coordinate returns the place location, or nil when the provider omitted it.
func (p *Place) Coordinate() *geo.Coordinate {
	if p == nil || p.Geometry == nil {
		return nil
	}
	loc := p.Geometry.Location
	if loc.Lat == 0 && loc.Lng == 0 {
		return nil
	}
	return &geo.Coordinate{Lat: loc.Lat, Lng: loc.Lng}
}

// FirstPhotoReference returns the first photo reference or "".
func (p *Place) FirstPhotoReference() string {
	if p == nil || len(p.Photos) == 0 {
		return ""
	}
	return p.Photos[0].Reference
}

// StatusError is a non-OK provider status.
type StatusError struct {
	Status  string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("places: %s: %s", e.Status, e.Message)
	}
	return "places: " + e.Status
}

// Client calls the places API. Details lookups are cached in Redis when a
// client is configured.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	rdb      redis.Cmdable
	cacheTTL time.Duration
}

// NewClient builds a Client from configuration. rdb may be nil.
func NewClient(cfg *config.Config, rdb redis.Cmdable) *Client {
	timeout := time.Duration(cfg.PlacesTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := time.Duration(cfg.PlacesCacheTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = cache.PlaceDetailsTTL
	}
	return &Client{
		baseURL:  strings.TrimSuffix(cfg.PlacesBaseURL, "/"),
		apiKey:   cfg.PlacesAPIKey,
		http:     &http.Client{Timeout: timeout},
		rdb:      rdb,
		cacheTTL: ttl,
	}
}

type searchResponse struct {
	Status       string  `json:"status"`
	ErrorMessage string  `json:"error_message"`
	Results      []Place `json:"results"`
}

type detailsResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Result       Place  `json:"result"`
}

// TextSearch finds restaurants matching query. ZERO_RESULTS is an empty slice.
func (c *Client) TextSearch(ctx context.Context, query string) ([]Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Place{}, nil
	}
	return cache.Aside(ctx, c.rdb, "places_search", cache.PlaceSearchKey(query), cache.PlaceSearchTTL, func(ctx context.Context) ([]Place, error) {
		params := url.Values{}
		params.Set("query", query)
		params.Set("type", "restaurant")
		params.Set("language", "en")

		var resp searchResponse
		if err := c.get(ctx, "textsearch", params, &resp); err != nil {
			return nil, err
		}
		switch resp.Status {
		case "OK":
			return resp.Results, nil
		case "ZERO_RESULTS":
			return []Place{}, nil
		default:
			return nil, &StatusError{Status: resp.Status, Message: resp.ErrorMessage}
		}
	})
}

// Details fetches one place with the fields the restaurant screen needs.
func (c *Client) Details(ctx context.Context, placeID string) (*Place, error) {
	placeID = strings.TrimSpace(placeID)
	if placeID == "" {
		return nil, ErrPlaceNotFound
	}
	place, err := cache.Aside(ctx, c.rdb, "places_details", cache.PlaceDetailsKey(placeID), c.cacheTTL, func(ctx context.Context) (Place, error) {
		params := url.Values{}
		params.Set("place_id", placeID)
		params.Set("fields", detailFields)

		var resp detailsResponse
		if err := c.get(ctx, "details", params, &resp); err != nil {
			return Place{}, err
		}
		switch resp.Status {
		case "OK":
			if resp.Result.PlaceID == "" {
				resp.Result.PlaceID = placeID
			}
			return resp.Result, nil
		case "NOT_FOUND", "ZERO_RESULTS", "INVALID_REQUEST":
			return Place{}, ErrPlaceNotFound
		default:
			return Place{}, &StatusError{Status: resp.Status, Message: resp.ErrorMessage}
		}
	})
	if err != nil {
		return nil, err
	}
	return &place, nil
}

// PhotoURL returns the provider URL for a photo reference.
func (c *Client) PhotoURL(ref string, maxWidth int) string {
	if ref == "" {
		return ""
	}
	if maxWidth <= 0 {
		maxWidth = DefaultPhotoMaxWidth
	}
	params := url.Values{}
	params.Set("maxwidth", strconv.Itoa(maxWidth))
	params.Set("photo_reference", ref)
	params.Set("key", c.apiKey)
	return c.baseURL + "/photo?" + params.Encode()
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) (err error) {
	ctx, span := observability.StartSpan(ctx, "places."+endpoint, trace.SpanKindClient,
		attribute.String("peer.service", "places"),
	)
	defer func() { observability.EndSpan(span, err) }()

	params.Set("key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+endpoint+"/json?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		observability.PlacesRequests.WithLabelValues(endpoint, "transport_error").Inc()
		return fmt.Errorf("places %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		observability.PlacesRequests.WithLabelValues(endpoint, "http_"+strconv.Itoa(resp.StatusCode)).Inc()
		return fmt.Errorf("places %s: unexpected status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		observability.PlacesRequests.WithLabelValues(endpoint, "decode_error").Inc()
		return fmt.Errorf("places %s: decode: %w", endpoint, err)
	}
	observability.PlacesRequests.WithLabelValues(endpoint, "ok").Inc()
	return nil
}
