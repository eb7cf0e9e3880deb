package status

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"motord/internal/cmdvel"
	"motord/internal/mapper"
	"motord/internal/pwmout"
)

// Provider exposes the live runtime state.
type Provider interface {
	PortSnapshot() pwmout.Snapshot
	MapperSnapshot() mapper.Snapshot
	SourceSnapshots() []cmdvel.SourceSnapshot
	DispatchStats() cmdvel.DispatchStats
}

type Response struct {
	NowUTC   string                  `json:"now_utc"`
	Port     pwmout.Snapshot         `json:"port"`
	Mapper   mapper.Snapshot         `json:"mapper"`
	Sources  []cmdvel.SourceSnapshot `json:"sources"`
	Dispatch cmdvel.DispatchStats    `json:"dispatch"`
}

func Handler(p Provider) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/status", func(w http.ResponseWriter, req *http.Request) {
		resp := Response{
			NowUTC:   time.Now().UTC().Format(time.RFC3339Nano),
			Port:     p.PortSnapshot(),
			Mapper:   p.MapperSnapshot(),
			Sources:  p.SourceSnapshots(),
			Dispatch: p.DispatchStats(),
		}
		if resp.Sources == nil {
			resp.Sources = []cmdvel.SourceSnapshot{}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(resp)
	})

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if p.PortSnapshot().State != pwmout.StateReady {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("pwm output not ready\n"))
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})

	return r
}

// Serve runs the status endpoint until ctx is done. It returns only after
// in-flight requests have drained, so callers may tear the provider down
// once it returns.
func Serve(ctx context.Context, listenAddr string, p Provider) error {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	log.Printf("status listening addr=%s", ln.Addr())
	return serve(ctx, ln, p)
}

func serve(ctx context.Context, ln net.Listener, p Provider) error {
	srv := &http.Server{
		Handler:           Handler(p),
		ReadHeaderTimeout: 5 * time.Second,
	}
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("status shutdown: %v", err)
			_ = srv.Close()
		}
	}()
	err := srv.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		_ = srv.Close()
		return err
	}
	<-drained
	return nil
}
