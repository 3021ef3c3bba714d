// The pdp service answers authorization queries for the posts API. It holds
// the only policy logic in the system; the gateway treats it as a black box
// and denies on anything but an explicit ALLOW.
package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/martinpagelaws/simpleposts/pkg/authz"
	"github.com/martinpagelaws/simpleposts/pkg/httpx"
	"github.com/martinpagelaws/simpleposts/pkg/identity"
	"github.com/martinpagelaws/simpleposts/pkg/telemetry"

	"github.com/go-chi/chi/v5"
)

type Server struct {
	AuthHeader          string
	AuthToken           string
	AdminGroup          string
	MaxRequestBodyBytes int64
}

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	listenFnP       func(*http.Server) error
)

func main() {
	if err := runPDP(initTelemetryFn, listenFnP); err != nil {
		logFatalf("pdp: %v", err)
	}
}

func runPDP(
	initTelemetry func(context.Context, string) (func(context.Context) error, error),
	listen func(*http.Server) error,
) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}

	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "pdp")
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	maxBody := int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20))
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	s := &Server{
		AuthHeader:          env("PDP_AUTH_HEADER", ""),
		AuthToken:           env("PDP_AUTH_TOKEN", ""),
		AdminGroup:          env("ADMIN_GROUP", "Admins"),
		MaxRequestBodyBytes: maxBody,
	}

	addr := env("ADDR", ":8082")
	log.Printf("pdp listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	return listen(server)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(telemetry.HTTPMiddleware("pdp"))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "pdp"})
	})
	r.Post("/v1/authorize", s.handleAuthorize)
	return r
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if s.AuthHeader != "" && s.AuthToken != "" {
		got := r.Header.Get(s.AuthHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.AuthToken)) != 1 {
			httpx.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}
	if s.MaxRequestBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
	}
	var q authz.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		httpx.Message(w, http.StatusBadRequest, "invalid query")
		return
	}
	decision := s.evaluate(q)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"decision": decision.String()})
}

// evaluate applies the policy set. Permits: any authenticated user may list
// and read posts; non-admin users may create; the post owner or an admin may
// delete. One explicit forbid: admins cannot create posts, which wins over
// the blanket create permit.
func (s *Server) evaluate(q authz.Query) authz.Decision {
	claims, err := identity.DecodeClaims(q.IdentityToken)
	if err != nil {
		return authz.Deny
	}
	ident, err := identity.Derive(claims)
	if err != nil {
		return authz.Deny
	}
	if q.Action.Type != authz.ActionType {
		return authz.Deny
	}
	isAdmin := claims.InGroup(s.AdminGroup)

	switch q.Action.ID {
	case "GetAllPosts", "GetUserPosts":
		return authz.Allow
	case "CreatePost":
		if isAdmin {
			return authz.Deny
		}
		return authz.Allow
	case "DeletePost":
		if q.Resource.Type != authz.EntityTypePost {
			return authz.Deny
		}
		if isAdmin {
			return authz.Allow
		}
		if q.ResourceOwner != nil && q.ResourceOwner.Type == authz.EntityTypeUser && q.ResourceOwner.ID == ident.OwnerID {
			return authz.Allow
		}
		return authz.Deny
	default:
		return authz.Deny
	}
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
