package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/example/carpool-matching/internal/models"
)

var ErrBadCoordinate = errors.New("coordinate out of range")

// ValidCoord rejects NaN, infinities and values outside WGS84 bounds.
func ValidCoord(c models.Coord) error {
	if math.IsNaN(c.Lon) || math.IsNaN(c.Lat) || math.IsInf(c.Lon, 0) || math.IsInf(c.Lat, 0) {
		return fmt.Errorf("%w: %v,%v", ErrBadCoordinate, c.Lon, c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 || c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: %v,%v", ErrBadCoordinate, c.Lon, c.Lat)
	}
	return nil
}

// DestinationKey rounds longitude and latitude independently to precision
// decimal digits and joins them as "lon,lat".
func DestinationKey(c models.Coord, precision int) (string, error) {
	if err := ValidCoord(c); err != nil {
		return "", err
	}
	if precision < 0 {
		precision = 0
	}
	return strconv.FormatFloat(c.Lon, 'f', precision, 64) + "," + strconv.FormatFloat(c.Lat, 'f', precision, 64), nil
}

// FormatCoord is the human-readable fallback used when no address is known.
func FormatCoord(c models.Coord) string {
	return fmt.Sprintf("lat/lon: %.5f, %.5f", c.Lat, c.Lon)
}

// MapURL links to the destination on Google Maps (latitude first).
func MapURL(c models.Coord) string {
	return fmt.Sprintf("https://www.google.com/maps?q=%s,%s",
		strconv.FormatFloat(c.Lat, 'f', -1, 64), strconv.FormatFloat(c.Lon, 'f', -1, 64))
}
