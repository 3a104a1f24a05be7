package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/vocdoni/amaci/log"
	"github.com/vocdoni/amaci/service"
	stg "github.com/vocdoni/amaci/storage"
)

// APIConfig type represents the configuration for the API HTTP server.
// It includes the host, the port and the coordinator service to expose.
type APIConfig struct {
	Host        string
	Port        int
	Storage     *stg.Storage
	Coordinator *service.Coordinator
}

// API type represents the coordinator's HTTP API server.
type API struct {
	router      *chi.Mux
	storage     *stg.Storage
	coordinator *service.Coordinator
}

// New creates a new API instance with the given configuration and starts
// the HTTP server.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Storage == nil {
		return nil, fmt.Errorf("missing storage instance")
	}
	if conf.Coordinator == nil {
		return nil, fmt.Errorf("missing coordinator instance")
	}
	a := &API{
		storage:     conf.Storage,
		coordinator: conf.Coordinator,
	}

	// Initialize router
	a.initRouter()
	go func() {
		log.Infow("Starting API server", "host", conf.Host, "port", conf.Port)
		if err := http.ListenAndServe(fmt.Sprintf("%s:%d", conf.Host, conf.Port), a.router); err != nil {
			log.Fatalf("failed to start the API server: %v", err)
		}
	}()
	return a, nil
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// registerHandlers registers all the API handlers.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})
	log.Infow("register handler", "endpoint", RoundsEndpoint, "method", "POST")
	a.router.Post(RoundsEndpoint, a.newRound)
	log.Infow("register handler", "endpoint", RoundsEndpoint, "method", "GET")
	a.router.Get(RoundsEndpoint, a.listRounds)
	log.Infow("register handler", "endpoint", RoundEndpoint, "method", "GET")
	a.router.Get(RoundEndpoint, a.round)
	log.Infow("register handler", "endpoint", SignUpEndpoint, "method", "POST")
	a.router.Post(SignUpEndpoint, a.signUp)
	log.Infow("register handler", "endpoint", MessagesEndpoint, "method", "POST")
	a.router.Post(MessagesEndpoint, a.publishMessage)
	log.Infow("register handler", "endpoint", DeactivateEndpoint, "method", "POST")
	a.router.Post(DeactivateEndpoint, a.publishDeactivateMessage)
	log.Infow("register handler", "endpoint", NewKeyEndpoint, "method", "POST")
	a.router.Post(NewKeyEndpoint, a.addNewKey)
	log.Infow("register handler", "endpoint", EndVotePeriodEndpoint, "method", "POST")
	a.router.Post(EndVotePeriodEndpoint, a.endVotePeriod)
	log.Infow("register handler", "endpoint", ResultsEndpoint, "method", "GET")
	a.router.Get(ResultsEndpoint, a.results)
	log.Infow("register handler", "endpoint", CommitmentsEndpoint, "method", "GET")
	a.router.Get(CommitmentsEndpoint, a.commitments)

	log.Infow("register handler", "endpoint", CensusEndpoint, "method", "POST")
	a.router.Post(CensusEndpoint, a.newCensus)
	log.Infow("register handler", "endpoint", CensusEndpoint, "method", "DELETE")
	a.router.Delete(CensusEndpoint, a.deleteCensus)
	log.Infow("register handler", "endpoint", CensusParticipantsEndpoint, "method", "POST")
	a.router.Post(CensusParticipantsEndpoint, a.addCensusParticipants)
	log.Infow("register handler", "endpoint", CensusParticipantsEndpoint, "method", "GET")
	a.router.Get(CensusParticipantsEndpoint, a.getCensusParticipants)
	log.Infow("register handler", "endpoint", CensusRootEndpoint, "method", "GET")
	a.router.Get(CensusRootEndpoint, a.getCensusRoot)
	log.Infow("register handler", "endpoint", CensusSizeEndpoint, "method", "GET")
	a.router.Get(CensusSizeEndpoint, a.getCensusSize)
	log.Infow("register handler", "endpoint", CensusProofEndpoint, "method", "GET")
	a.router.Get(CensusProofEndpoint, a.getCensusProof)
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	// Create the router with a basic middleware stack
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}).Handler)
	a.router.Use(middleware.Logger)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	a.router.Use(middleware.Timeout(45 * time.Second))

	// Register the API handlers
	a.registerHandlers()
}
