// Command reservoir runs the commuter reservoir simulation process: it
// loads the fleet's depots, routes, and land-use zones from the
// read-only data source, builds the in-memory depot and route
// reservoirs, starts the spawning and expiration coordinators that
// keep them moving, and serves the ops HTTP surface used to inspect
// live state.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/arknet/commuter-reservoir/config"
	"github.com/arknet/commuter-reservoir/internal/coordinator"
	"github.com/arknet/commuter-reservoir/internal/datasource"
	"github.com/arknet/commuter-reservoir/internal/eventbus"
	"github.com/arknet/commuter-reservoir/internal/handler"
	"github.com/arknet/commuter-reservoir/internal/heatmap"
	"github.com/arknet/commuter-reservoir/internal/middleware"
	"github.com/arknet/commuter-reservoir/internal/model"
	"github.com/arknet/commuter-reservoir/internal/recordstore"
	"github.com/arknet/commuter-reservoir/internal/reservoir"
	"github.com/arknet/commuter-reservoir/internal/spawner"
	"github.com/arknet/commuter-reservoir/internal/zonecache"
	"github.com/arknet/commuter-reservoir/pkg/cache"
	"github.com/arknet/commuter-reservoir/pkg/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgPool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pgPool.Close()

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redisClient.Close()

	ds := datasource.New(cfg.DataSource)

	countryID, err := ds.GetCountryIDByCode(ctx, cfg.DataSource.CountryCode)
	if err != nil {
		log.Fatalf("data source: resolve country %q: %v", cfg.DataSource.CountryCode, err)
	}

	depots, err := ds.ListDepots(ctx)
	if err != nil {
		log.Fatalf("data source: list depots: %v", err)
	}
	routes, err := ds.ListRoutes(ctx)
	if err != nil {
		log.Fatalf("data source: list routes: %v", err)
	}
	log.Printf("[reservoir] loaded %d depots, %d routes", len(depots), len(routes))

	zones := zonecache.New()
	if err := zones.Build(ctx, ds, routes, depots, countryID, cfg.Spatial.BufferKM); err != nil {
		log.Fatalf("zone cache: build: %v", err)
	}
	log.Printf("[reservoir] zone cache populated: %+v", zones.Statistics())

	passengerSpawner := spawner.New(zones.PopulationZones(), zones.AmenityZones(), routes, cfg.PRNG.Seed)

	bus, err := eventbus.Connect(cfg.EventBus.URL)
	if err != nil {
		log.Fatalf("event bus: %v", err)
	}
	defer bus.Close()

	walStore := recordstore.NewWALStore(pgPool)
	if err := walStore.EnsureSchema(ctx); err != nil {
		log.Fatalf("wal store: ensure schema: %v", err)
	}

	recordClient := recordstore.New(cfg.RecordStore.BaseURL, cfg.RecordStore.MaxQueueSize, walStore)
	defer recordClient.Close()

	demandMirror := heatmap.New(redisClient, time.Duration(cfg.Heatmap.BucketTTLSeconds)*time.Second)

	budget := reservoir.NewLiveBudget(cfg.Spawning.MaxActiveCommuters)

	depotReservoir := reservoir.NewDepotReservoir(reservoir.DepotReservoirConfig{
		Routes:             routes,
		Depots:             depots,
		ConnectionRadiusKM: cfg.Depot.ConnectionRadiusKM,
		Budget:             budget,
		Emitter:            bus,
		Writer:             recordClient,
	})
	depotReservoir.Start()
	defer depotReservoir.Stop()

	routeReservoir := reservoir.NewRouteReservoir(reservoir.RouteReservoirConfig{
		GridCellSizeDegrees: cfg.Reservoir.GridCellSizeDegrees,
		Budget:              budget,
		Emitter:             bus,
		Writer:              recordClient,
	})
	routeReservoir.Start()
	defer routeReservoir.Stop()

	expirationInterval := time.Duration(cfg.Reservoir.ExpirationCheckSeconds) * time.Second
	expiration, err := coordinator.NewExpirationCoordinator(expirationInterval, func(now time.Time) {
		depotReservoir.ExpireTick(now)
		routeReservoir.ExpireTick(now)
	})
	if err != nil {
		log.Fatalf("expiration coordinator: %v", err)
	}
	if err := expiration.Start(ctx); err != nil {
		log.Fatalf("expiration coordinator: start: %v", err)
	}
	defer expiration.Stop()

	depotSpawning, err := coordinator.NewSpawningCoordinator(
		time.Duration(cfg.Spawning.DepotIntervalSeconds)*time.Second,
		nil,
		func(now time.Time) int {
			batch := passengerSpawner.GenerateBatch(now, cfg.Spawning.WindowMinutes)
			spawned := 0
			for _, req := range batch {
				depot, ok := depotReservoir.ResolveDepotForSpawn(req.AssignedRoute, req.SpawnPoint)
				if !ok {
					continue
				}
				if _, ok := depotReservoir.SpawnCommuter(depot.DepotID, req.AssignedRoute, depot.Location, req.DestinationPoint, req.Priority, req.MaxWait); ok {
					demandMirror.RecordSpawn(ctx, req.SpawnPoint)
					spawned++
				}
			}
			return spawned
		},
	)
	if err != nil {
		log.Fatalf("depot spawning coordinator: %v", err)
	}
	if err := depotSpawning.Start(ctx); err != nil {
		log.Fatalf("depot spawning coordinator: start: %v", err)
	}
	defer depotSpawning.Stop()

	routeSpawning, err := coordinator.NewSpawningCoordinator(
		time.Duration(cfg.Spawning.RouteIntervalSeconds)*time.Second,
		nil,
		func(now time.Time) int {
			batch := passengerSpawner.GenerateBatch(now, cfg.Spawning.WindowMinutes)
			spawned := 0
			for _, req := range batch {
				direction := req.Direction
				if direction == "" {
					direction = model.Inbound
				}
				if _, ok := routeReservoir.SpawnCommuter(req.AssignedRoute, req.SpawnPoint, req.DestinationPoint, direction, req.Priority, req.MaxWait); ok {
					demandMirror.RecordSpawn(ctx, req.SpawnPoint)
					spawned++
				}
			}
			return spawned
		},
	)
	if err != nil {
		log.Fatalf("route spawning coordinator: %v", err)
	}
	if err := routeSpawning.Start(ctx); err != nil {
		log.Fatalf("route spawning coordinator: start: %v", err)
	}
	defer routeSpawning.Stop()

	unsubQuery, err := bus.SubscribeQueryCommuters(func(req eventbus.QueryRequest) {
		direction := req.Direction
		if direction == "" {
			direction = model.Inbound
		}
		results := routeReservoir.QueryCommuters(req.RouteShortName, req.VehicleLocation, direction, req.MaxDistanceM, req.MaxCount)
		bus.EmitQueryResponse(req.CorrelationID, results)
	})
	if err != nil {
		log.Fatalf("event bus: subscribe query_commuters: %v", err)
	}
	defer unsubQuery()

	unsubPickup, err := bus.SubscribePickupNotify(func(note eventbus.PickupNotification) {
		if !routeReservoir.MarkPickedUp(note.CommuterID) {
			depotReservoir.MarkPickedUp(note.CommuterID)
		}
	})
	if err != nil {
		log.Fatalf("event bus: subscribe pickup_notify: %v", err)
	}
	defer unsubPickup()

	opsHandler := handler.NewOpsHandler(depotReservoir, routeReservoir)
	router := mux.NewRouter()
	opsHandler.RegisterRoutes(router)

	var rootHandler http.Handler = router
	rootHandler = middleware.RequestLogger(rootHandler)
	rootHandler = middleware.Recoverer(rootHandler)
	rootHandler = middleware.CORS(rootHandler)

	srv := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      rootHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("[reservoir] ops server listening on %s", cfg.Server.ServerAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ops server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[reservoir] shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[reservoir] ops server shutdown: %v", err)
	}

	log.Println("✅ reservoir gracefully stopped")
}
