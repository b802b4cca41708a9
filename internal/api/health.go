package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const readinessTimeout = 2 * time.Second

// health is a liveness probe. Returns 200 OK with {"status":"ok"}.
func health(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness reports whether the database is reachable. With a nil pool the
// endpoint degrades to a liveness check.
func readiness(pool *pgxpool.Pool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pool == nil {
			WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "not configured"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		if err := pool.Ping(ctx); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "unavailable",
				"database": "unreachable",
			})
			return
		}

		stat := pool.Stat()
		WriteJSON(w, http.StatusOK, map[string]any{
			"status":           "ok",
			"database":         "ok",
			"pool_total_conns": stat.TotalConns(),
			"pool_idle_conns":  stat.IdleConns(),
			"pool_acquired":    stat.AcquiredConns(),
			"pool_max_conns":   stat.MaxConns(),
		})
	})
}
