package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"googlemaps.github.io/maps"

	"github.com/example/carpool-matching/internal/models"
)

// Geocoder resolves a coordinate to a street address.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, c models.Coord) (string, error)
}

// MapsGeocoder uses the Google Maps Geocoding API.
type MapsGeocoder struct {
	client   *maps.Client
	language string
}

func NewMapsGeocoder(apiKey, language string) (*MapsGeocoder, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &MapsGeocoder{client: client, language: language}, nil
}

func (g *MapsGeocoder) ReverseGeocode(ctx context.Context, c models.Coord) (string, error) {
	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng:   &maps.LatLng{Lat: c.Lat, Lng: c.Lon},
		Language: g.language,
	})
	if err != nil {
		return "", fmt.Errorf("geocoding api error: %w", err)
	}
	for _, r := range results {
		if r.FormattedAddress != "" {
			return r.FormattedAddress, nil
		}
	}
	return "", errors.New("geocoding returned no address")
}

// ResolveAddress returns the best address available for c: the client-supplied
// hint, then the geocoder, then a coordinate string. It never fails.
func ResolveAddress(ctx context.Context, g Geocoder, c models.Coord, hint string, timeout time.Duration, logger *slog.Logger) string {
	if hint != "" {
		return hint
	}
	if g == nil {
		return FormatCoord(c)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	addr, err := g.ReverseGeocode(ctx, c)
	if err != nil {
		if logger != nil {
			logger.Warn("reverse geocode failed", "lat", c.Lat, "lon", c.Lon, "error", err)
		}
		return FormatCoord(c)
	}
	return addr
}
