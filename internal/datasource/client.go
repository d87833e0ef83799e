// Package datasource is the read-only adapter over the fleet's HTTP
// data source: countries, depots, routes (with shape polylines),
// land-use zones, POIs, places, and regions. It is the only component
// allowed to know the upstream's Strapi-style paginated JSON shape;
// every other package consumes internal/model types.
package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/arknet/commuter-reservoir/config"
	"github.com/arknet/commuter-reservoir/internal/model"
)

// ErrDataSourceUnavailable is returned once the configured retry budget
// for a call is exhausted. Callers should fall back to their last
// cached snapshot of zones/routes/depots and continue running.
var ErrDataSourceUnavailable = errors.New("datasource: unavailable")

// Client is the adapter's public surface.
type Client struct {
	httpClient *http.Client
	baseURL    string
	pageSize   int

	retryAttempts int
	retryDelay    time.Duration
	limiter       *rate.Limiter

	mu             sync.Mutex
	unavailableLog time.Time // last WARN log time, throttled to once per 60s (spec §7)

	depotCache  *ttlCache[string, []model.Depot]
	routeCache  *ttlCache[string, []model.Route]
	zoneCache   *ttlCache[string, []model.Zone]
	poiCache    *ttlCache[string, []model.Zone]
	placeCache  *ttlCache[string, []placeDTO]
	regionCache *ttlCache[string, []regionDTO]
}

// New constructs a Client from the data-source section of the process
// config.
func New(cfg config.DataSourceConfig) *Client {
	cacheSize := orDefault(cfg.CacheSizeEntries, 16)
	return &Client{
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		baseURL:       cfg.BaseURL,
		pageSize:      orDefault(cfg.PageSize, 100),
		retryAttempts: orDefault(cfg.RetryAttempts, 3),
		retryDelay:    orDurationDefault(cfg.RetryDelay, 2*time.Second),
		limiter:       rate.NewLimiter(rate.Limit(orFloatDefault(cfg.MaxRequestsPerSecond, 10)), 1),
		depotCache:    newTTLCache[string, []model.Depot](cacheSize, orDurationDefault(cfg.CacheTTL, 10*time.Minute)),
		routeCache:    newTTLCache[string, []model.Route](cacheSize, orDurationDefault(cfg.CacheTTL, 60*time.Minute)),
		zoneCache:     newTTLCache[string, []model.Zone](cacheSize, orDurationDefault(cfg.CacheTTL, 60*time.Minute)),
		poiCache:      newTTLCache[string, []model.Zone](cacheSize, orDurationDefault(cfg.CacheTTL, 30*time.Minute)),
		placeCache:    newTTLCache[string, []placeDTO](cacheSize, orDurationDefault(cfg.CacheTTL, 60*time.Minute)),
		regionCache:   newTTLCache[string, []regionDTO](cacheSize, orDurationDefault(cfg.CacheTTL, 60*time.Minute)),
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orFloatDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func orDurationDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// ─── Strapi-style wire shapes ───────────────────────────────

type paginatedResponse[T any] struct {
	Data []dataWrapper[T] `json:"data"`
	Meta struct {
		Pagination struct {
			Page      int `json:"page"`
			PageSize  int `json:"pageSize"`
			PageCount int `json:"pageCount"`
			Total     int `json:"total"`
		} `json:"pagination"`
	} `json:"meta"`
}

type dataWrapper[T any] struct {
	ID         int `json:"id"`
	Attributes T   `json:"attributes"`
}

type countryDTO struct {
	Code string `json:"code"`
}

type depotDTO struct {
	DepotID  string  `json:"depot_id"`
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Capacity int     `json:"capacity"`
}

type routeDTO struct {
	ShortName string `json:"short_name"`
	LongName  string `json:"long_name"`
}

type routeShapeDTO struct {
	RouteID string `json:"route_id"`
	ShapeID string `json:"shape_id"`
}

type shapePointDTO struct {
	ShapeID        string  `json:"shape_id"`
	ShapePtLat     float64 `json:"shape_pt_lat"`
	ShapePtLon     float64 `json:"shape_pt_lon"`
	ShapePtSequence int    `json:"shape_pt_sequence"`
}

type landuseZoneDTO struct {
	ZoneID   string          `json:"zone_id"`
	ZoneType string          `json:"zone_type"`
	Geometry [][]float64     `json:"geometry"` // [[lat,lon], ...] polygon ring
}

type poiDTO struct {
	POIID string  `json:"poi_id"`
	Type  string  `json:"type"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

type placeDTO struct {
	Name string `json:"name"`
}

type regionDTO struct {
	Name string `json:"name"`
}

// ─── Generic paginated fetch ────────────────────────────────

// fetchAllPages walks every page of a Strapi-style paginated endpoint
// and accumulates the attributes, never silently truncating at the
// server's default page size (spec §4.2).
func fetchAllPages[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	var out []T
	page := 1
	for {
		q := cloneValues(query)
		q.Set("pagination[page]", strconv.Itoa(page))
		q.Set("pagination[pageSize]", strconv.Itoa(c.pageSize))

		var resp paginatedResponse[T]
		if err := c.getJSON(ctx, path, q, &resp); err != nil {
			return nil, err
		}
		for _, d := range resp.Data {
			out = append(out, d.Attributes)
		}
		if resp.Meta.Pagination.PageCount == 0 || page >= resp.Meta.Pagination.PageCount {
			break
		}
		page++
	}
	return out, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// getJSON performs a single retried, rate-limited GET and decodes the
// JSON body into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err // transient network error, retry
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("datasource: %s returned %d", path, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("datasource: %s returned %d", path, resp.StatusCode))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("datasource: decode %s: %w", path, err))
		}
		return nil
	}

	// Fixed delay between attempts, matching spec §4.2 ("a fixed delay,
	// default 2s") rather than exponential backoff.
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(c.retryAttempts-1))
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		c.logUnavailable(path, err)
		return fmt.Errorf("%w: %s: %v", ErrDataSourceUnavailable, path, err)
	}
	return nil
}

// logUnavailable logs at WARN at most once per 60s of continuous
// unavailability, per spec §7.
func (c *Client) logUnavailable(path string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.unavailableLog) < 60*time.Second {
		return
	}
	c.unavailableLog = time.Now()
	log.Printf("[datasource] WARN: %s unavailable after retries: %v", path, err)
}

// ─── Public endpoints ───────────────────────────────────────

// GetCountryIDByCode resolves a country by ISO code.
func (c *Client) GetCountryIDByCode(ctx context.Context, code string) (string, error) {
	var resp paginatedResponse[countryDTO]
	q := url.Values{"filters[code][$eq]": {code}}
	if err := c.getJSON(ctx, "/api/countries", q, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", fmt.Errorf("datasource: country %q not found", code)
	}
	return strconv.Itoa(resp.Data[0].ID), nil
}

// ListDepots returns every active depot, fully paginated.
func (c *Client) ListDepots(ctx context.Context) ([]model.Depot, error) {
	const key = "depots"
	if v, ok := c.depotCache.get(key); ok {
		return v, nil
	}
	raw, err := fetchAllPages[depotDTO](ctx, c, "/api/depots", url.Values{"filters[is_active][$eq]": {"true"}})
	if err != nil {
		return nil, err
	}
	depots := make([]model.Depot, 0, len(raw))
	for _, d := range raw {
		depots = append(depots, model.Depot{
			DepotID:  d.DepotID,
			Name:     d.Name,
			Location: model.GeoPoint{Lat: d.Lat, Lon: d.Lon},
			Capacity: d.Capacity,
		})
	}
	c.depotCache.set(key, depots)
	return depots, nil
}

// ListRoutes returns every active route with its polyline populated by
// chaining a route-shapes lookup and a shapes lookup, sorted by
// shape_pt_sequence.
func (c *Client) ListRoutes(ctx context.Context) ([]model.Route, error) {
	const key = "routes"
	if v, ok := c.routeCache.get(key); ok {
		return v, nil
	}

	rawRoutes, err := fetchAllPages[routeDTO](ctx, c, "/api/routes", url.Values{"filters[is_active][$eq]": {"true"}})
	if err != nil {
		return nil, err
	}

	routes := make([]model.Route, 0, len(rawRoutes))
	for _, r := range rawRoutes {
		geometry, err := c.routeGeometry(ctx, r.ShortName)
		if err != nil {
			// A single route's geometry failing does not fail the whole
			// list; it is simply not routable (spec: routes with < 2
			// points are not loaded).
			log.Printf("[datasource] route %s: geometry unavailable: %v", r.ShortName, err)
			continue
		}
		route := model.Route{ShortName: r.ShortName, LongName: r.LongName, Geometry: geometry}
		if !route.Routable() {
			continue
		}
		routes = append(routes, route)
	}
	c.routeCache.set(key, routes)
	return routes, nil
}

func (c *Client) routeGeometry(ctx context.Context, routeID string) ([]model.GeoPoint, error) {
	shapes, err := fetchAllPages[routeShapeDTO](ctx, c, "/api/route-shapes", url.Values{
		"filters[route_id][$eq]":   {routeID},
		"filters[is_default][$eq]": {"true"},
	})
	if err != nil {
		return nil, err
	}
	if len(shapes) == 0 {
		return nil, fmt.Errorf("no default shape for route %s", routeID)
	}
	shapeID := shapes[0].ShapeID

	points, err := fetchAllPages[shapePointDTO](ctx, c, "/api/shapes", url.Values{"filters[shape_id][$eq]": {shapeID}})
	if err != nil {
		return nil, err
	}
	sort.Slice(points, func(i, j int) bool { return points[i].ShapePtSequence < points[j].ShapePtSequence })

	geometry := make([]model.GeoPoint, 0, len(points))
	for _, p := range points {
		geometry = append(geometry, model.GeoPoint{Lat: p.ShapePtLat, Lon: p.ShapePtLon})
	}
	return geometry, nil
}

// ListLanduseZones returns all polygon land-use zones for a country.
func (c *Client) ListLanduseZones(ctx context.Context, countryID string) ([]model.Zone, error) {
	key := "landuse:" + countryID
	if v, ok := c.zoneCache.get(key); ok {
		return v, nil
	}
	raw, err := fetchAllPages[landuseZoneDTO](ctx, c, "/api/landuse-zones", url.Values{"filters[country][id][$eq]": {countryID}})
	if err != nil {
		return nil, err
	}
	zones := make([]model.Zone, 0, len(raw))
	for _, z := range raw {
		geometry := make([]model.GeoPoint, 0, len(z.Geometry))
		for _, pt := range z.Geometry {
			if len(pt) != 2 {
				continue
			}
			geometry = append(geometry, model.GeoPoint{Lat: pt[0], Lon: pt[1]})
		}
		if len(geometry) == 0 {
			continue
		}
		zones = append(zones, model.Zone{
			ZoneID:   z.ZoneID,
			ZoneType: model.ZoneType(z.ZoneType),
			Geometry: geometry,
			Center:   polygonCentroid(geometry),
		})
	}
	c.zoneCache.set(key, zones)
	return zones, nil
}

// ListPOIs returns all point POIs for a country, represented as
// point-geometry Zones (spec treats POIs and places as amenity zones).
func (c *Client) ListPOIs(ctx context.Context, countryID string) ([]model.Zone, error) {
	key := "pois:" + countryID
	if v, ok := c.poiCache.get(key); ok {
		return v, nil
	}
	raw, err := fetchAllPages[poiDTO](ctx, c, "/api/pois", url.Values{"filters[country][id][$eq]": {countryID}})
	if err != nil {
		return nil, err
	}
	zones := make([]model.Zone, 0, len(raw))
	for _, p := range raw {
		center := model.GeoPoint{Lat: p.Lat, Lon: p.Lon}
		zones = append(zones, model.Zone{
			ZoneID:   p.POIID,
			ZoneType: model.ZoneType(p.Type),
			Center:   center,
		})
	}
	c.poiCache.set(key, zones)
	return zones, nil
}

// ListPlaces returns named places for a country. Nothing else in the
// module calls it; the spawner's destination heuristic uses zones only.
func (c *Client) ListPlaces(ctx context.Context, countryID string) ([]placeDTO, error) {
	key := "places:" + countryID
	if v, ok := c.placeCache.get(key); ok {
		return v, nil
	}
	raw, err := fetchAllPages[placeDTO](ctx, c, "/api/places", url.Values{"filters[country][id][$eq]": {countryID}})
	if err != nil {
		return nil, err
	}
	c.placeCache.set(key, raw)
	return raw, nil
}

// ListRegions returns named regions for a country.
func (c *Client) ListRegions(ctx context.Context, countryID string) ([]regionDTO, error) {
	key := "regions:" + countryID
	if v, ok := c.regionCache.get(key); ok {
		return v, nil
	}
	raw, err := fetchAllPages[regionDTO](ctx, c, "/api/regions", url.Values{"filters[country][id][$eq]": {countryID}})
	if err != nil {
		return nil, err
	}
	c.regionCache.set(key, raw)
	return raw, nil
}

// polygonCentroid returns the unweighted mean of a polygon's vertices —
// an approximation adequate for zone-center spawn jitter, not a
// geometrically exact centroid.
func polygonCentroid(ring []model.GeoPoint) model.GeoPoint {
	var sumLat, sumLon float64
	for _, p := range ring {
		sumLat += p.Lat
		sumLon += p.Lon
	}
	n := float64(len(ring))
	return model.GeoPoint{Lat: sumLat / n, Lon: sumLon / n}
}
