package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/martinpagelaws/simpleposts/pkg/action"
	"github.com/martinpagelaws/simpleposts/pkg/audit"
	"github.com/martinpagelaws/simpleposts/pkg/authz"
	"github.com/martinpagelaws/simpleposts/pkg/httpx"
	"github.com/martinpagelaws/simpleposts/pkg/metrics"
	"github.com/martinpagelaws/simpleposts/pkg/poststore"
	"github.com/martinpagelaws/simpleposts/pkg/store"
	"github.com/martinpagelaws/simpleposts/pkg/stream"
	"github.com/martinpagelaws/simpleposts/pkg/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	DB                  gatewayDB
	Posts               *poststore.Store
	Authz               *authz.Mediator
	Audit               auditStore
	Cache               store.Cache
	Metrics             *metrics.Registry
	Events              *stream.Hub
	MaxRequestBodyBytes int64
}

type auditStore interface {
	Append(ctx context.Context, rec audit.Record) error
}

type gatewayDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type gatewayDBCloser interface {
	gatewayDB
	Close()
}

type gatewayInitTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type gatewayOpenDBFunc func(ctx context.Context) (gatewayDBCloser, error)
type gatewayOpenRedisFunc func(ctx context.Context) (*redis.Client, error)
type gatewayListenFunc func(server *http.Server) error

// Testable variables for main()
var (
	logFatalf      = log.Fatalf
	initTelemetryG = telemetry.Init
	openDBFnG      = func(ctx context.Context) (gatewayDBCloser, error) { return store.NewPostgresPool(ctx) }
	openRedisFnG   = store.NewRedis
	listenFnG      = func(server *http.Server) error { return server.ListenAndServe() }
)

func main() {
	if err := runGateway(initTelemetryG, openDBFnG, openRedisFnG, listenFnG); err != nil {
		logFatalf("gateway: %v", err)
	}
}

func runGateway(
	initTelemetry gatewayInitTelemetryFunc,
	openDB gatewayOpenDBFunc,
	openRedis gatewayOpenRedisFunc,
	listen gatewayListenFunc,
) error {
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "gateway")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	pool, err := openDB(ctx)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	redisClient, err := openRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory cache: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	cache := store.NewCache(ctx, redisClient)

	auditWriter := &audit.Writer{DB: pool}
	if brokers := env("KAFKA_BROKERS", ""); brokers != "" {
		mirror, err := audit.NewKafkaPublisher(audit.KafkaConfig{
			Brokers: strings.Split(brokers, ","),
			Topic:   env("KAFKA_DECISION_TOPIC", "simpleposts.decisions"),
		})
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		defer mirror.Close()
		auditWriter.Mirror = mirror
	}

	httpClient := telemetry.InstrumentClient(&http.Client{
		Timeout: time.Millisecond * time.Duration(envInt("PDP_TIMEOUT_MS", 3000)),
	})
	var evaluator authz.Evaluator = authz.HTTPEvaluator{
		Client:     httpClient,
		URL:        strings.TrimRight(env("PDP_URL", "http://localhost:8082"), "/") + "/v1/authorize",
		AuthHeader: env("PDP_AUTH_HEADER", ""),
		AuthToken:  env("PDP_AUTH_TOKEN", ""),
		Retries:    envInt("PDP_RETRIES", 1),
		RetryDelay: time.Millisecond * time.Duration(envInt("PDP_RETRY_DELAY_MS", 50)),
	}
	// Decision caching is off unless a TTL is configured.
	if ttl := envDurationSec("AUTHZ_CACHE_TTL_SEC", 0); ttl > 0 {
		evaluator = authz.CachedEvaluator{Inner: evaluator, Cache: cache, TTL: ttl}
	}

	maxBody := int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20))
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	s := &Server{
		DB:                  pool,
		Posts:               &poststore.Store{DB: pool},
		Authz:               &authz.Mediator{PDP: evaluator},
		Audit:               auditWriter,
		Cache:               cache,
		Metrics:             metrics.NewRegistry(),
		Events:              stream.NewHub(),
		MaxRequestBodyBytes: maxBody,
	}

	addr := env("ADDR", ":8080")
	log.Printf("gateway listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}

// routes wires the static API table plus the operational endpoints. Unknown
// routes answer 404 before any header is inspected.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGIN", "*")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("gateway"))
	r.Use(s.limitRequestBodyMiddleware)

	for _, rt := range action.Routes() {
		r.Method(rt.Method, rt.Path, s.handle(rt.Action))
	}
	r.NotFound(unknownAPICall)
	r.MethodNotAllowed(unknownAPICall)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", s.Metrics.Handler())
	r.Get("/events", stream.ServeWS(s.Events))
	return r
}

func unknownAPICall(w http.ResponseWriter, r *http.Request) {
	httpx.Message(w, http.StatusNotFound, "Unknown API call")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok", "service": "gateway", "cache": cacheBackend(s.Cache)}
	if s.DB != nil {
		var one int
		if err := s.DB.QueryRow(r.Context(), `SELECT 1`).Scan(&one); err != nil {
			resp["status"] = "degraded"
			httpx.WriteJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// cacheBackend names the decision-cache implementation for health reporting,
// so operators can see when the gateway silently fell back to memory.
func cacheBackend(c store.Cache) string {
	switch c.(type) {
	case *store.RedisCache:
		return "redis"
	case *store.MemoryCache:
		return "memory"
	case nil:
		return "none"
	default:
		return "unknown"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.code = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}

// Unwrap lets http.ResponseController reach the hijacker for the websocket
// upgrade on /events.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func (srv *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		srv.Metrics.Observe(r.Method+" "+r.URL.Path, rec.code, time.Since(start))
	})
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && s.MaxRequestBodyBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
