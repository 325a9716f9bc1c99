package couriers

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const locationsKey = "courier:locations"

// Position is one courier's last reported location.
type Position struct {
	CourierID string  `json:"courier_id"`
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// LocationIndex is the spatial index over courier positions, backed by
// a Redis GEO set. Couriers report their position as they move; the
// orchestrator queries it read-only.
type LocationIndex struct {
	rdb *redis.Client
}

func NewLocationIndex(rdb *redis.Client) *LocationIndex {
	return &LocationIndex{rdb: rdb}
}

func (ix *LocationIndex) Update(ctx context.Context, courierID string, longitude, latitude float64) error {
	return ix.rdb.GeoAdd(ctx, locationsKey, &redis.GeoLocation{
		Name:      courierID,
		Longitude: longitude,
		Latitude:  latitude,
	}).Err()
}

// Nearby returns couriers within radiusMeters of the point, nearest
// first. Callers get ids plus coordinates; role filtering happens
// against the user store afterwards.
func (ix *LocationIndex) Nearby(ctx context.Context, longitude, latitude, radiusMeters float64) ([]Position, error) {
	locations, err := ix.rdb.GeoSearchLocation(ctx, locationsKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  longitude,
			Latitude:   latitude,
			Radius:     radiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
		},
		WithCoord: true,
	}).Result()
	if err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(locations))
	for _, loc := range locations {
		positions = append(positions, Position{
			CourierID: loc.Name,
			Longitude: loc.Longitude,
			Latitude:  loc.Latitude,
		})
	}

	return positions, nil
}

// Get returns the courier's last position, or nil when none was ever
// reported.
func (ix *LocationIndex) Get(ctx context.Context, courierID string) (*Position, error) {
	positions, err := ix.rdb.GeoPos(ctx, locationsKey, courierID).Result()
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 || positions[0] == nil {
		return nil, nil
	}

	return &Position{
		CourierID: courierID,
		Longitude: positions[0].Longitude,
		Latitude:  positions[0].Latitude,
	}, nil
}

func (ix *LocationIndex) Remove(ctx context.Context, courierID string) error {
	return ix.rdb.ZRem(ctx, locationsKey, courierID).Err()
}
