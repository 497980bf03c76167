package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidCoordinates marks a project whose location cannot be monitored.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// Point is a WGS84 latitude/longitude pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p Point) String() string {
	return fmt.Sprintf("%.4f,%.4f", p.Lat, p.Lng)
}

// Validate checks that both components are finite and in range.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinates, p.Lat)
	}
	if math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinates, p.Lng)
	}
	return nil
}

// ParsePoint extracts a validated Point from a project's location object.
// Values may be JSON numbers or numeric strings.
func ParsePoint(location map[string]any) (Point, error) {
	if location == nil {
		return Point{}, fmt.Errorf("%w: location missing", ErrInvalidCoordinates)
	}
	lat, err := coordinate(location, "lat", "latitude")
	if err != nil {
		return Point{}, err
	}
	lng, err := coordinate(location, "lng", "longitude")
	if err != nil {
		return Point{}, err
	}
	p := Point{Lat: lat, Lng: lng}
	return p, p.Validate()
}

func coordinate(location map[string]any, keys ...string) (float64, error) {
	for _, key := range keys {
		v, ok := location[key]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return 0, fmt.Errorf("%w: %s %q", ErrInvalidCoordinates, key, n)
			}
			return f, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return 0, fmt.Errorf("%w: %s %q", ErrInvalidCoordinates, key, n)
			}
			return f, nil
		default:
			return 0, fmt.Errorf("%w: %s has type %T", ErrInvalidCoordinates, key, v)
		}
	}
	return 0, fmt.Errorf("%w: %s missing", ErrInvalidCoordinates, keys[0])
}
