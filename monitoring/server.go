// Package monitoring serves recorded pipeline state over HTTP. The server
// never touches the engine; it reads what a tracing.Collector has recorded.
package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"

	"github.com/sarchlab/tomasim/timing/pipeline"
)

// Source provides the recorded state the server exposes.
// tracing.Collector implements it.
type Source interface {
	Latest() (pipeline.Snapshot, bool)
	Snapshot(cycle uint64) (pipeline.Snapshot, bool)
	Snapshots() []pipeline.Snapshot
	Diagnostics() []pipeline.Diagnostic
}

// Server is a read-only HTTP view on a simulation.
type Server struct {
	source Source
	logger *slog.Logger
	router *mux.Router

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the logger used for request failures.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a server over a source.
func NewServer(source Source, opts ...ServerOption) *Server {
	s := &Server{source: source}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/snapshot", s.snapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/snapshot/{cycle:[0-9]+}", s.snapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/cycles", s.cycles).Methods(http.MethodGet)
	r.HandleFunc("/api/report", s.report).Methods(http.MethodGet)
	r.HandleFunc("/api/report/{cycle:[0-9]+}", s.report).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.stats).Methods(http.MethodGet)
	r.HandleFunc("/api/diagnostics", s.diagnostics).Methods(http.MethodGet)
	r.HandleFunc("/api/resource", s.resource).Methods(http.MethodGet)
	s.router = r

	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background. An empty addr or a
// port below 1000 picks a random port. It returns the URL being served.
func (s *Server) Start(addr string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return "", errors.New("monitoring server already started")
	}

	addr = normalizeAddr(addr)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen on %q: %w", addr, err)
	}

	s.listener = listener
	s.srv = &http.Server{Handler: s.router}

	go func() {
		err := s.srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("monitoring server stopped", "err", err)
		}
	}()

	url := fmt.Sprintf("http://localhost:%d", listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", url)

	return url, nil
}

func normalizeAddr(addr string) string {
	if addr == "" {
		return "localhost:0"
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "localhost:0"
	}

	n, err := strconv.Atoi(port)
	if err != nil || (n != 0 && n < 1000) {
		fmt.Fprintf(os.Stderr,
			"Port %s is not allowed for the monitoring server, "+
				"using a random port instead.\n", port)
		port = "0"
	}

	return net.JoinHostPort(host, port)
}

// Open opens the served URL in the default browser.
func (s *Server) Open() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	if listener == nil {
		return errors.New("monitoring server not started")
	}

	port := listener.Addr().(*net.TCPAddr).Port
	return browser.OpenURL(fmt.Sprintf("http://localhost:%d/api/report", port))
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		return nil
	}

	err := s.srv.Shutdown(ctx)
	s.srv = nil
	s.listener = nil
	return err
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode response", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("write response", "err", err)
	}
}

// lookup finds the snapshot named by the cycle route variable, or the latest
// one when the route has none. It writes the error response itself.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (pipeline.Snapshot, bool) {
	raw, ok := mux.Vars(r)["cycle"]
	if !ok {
		snap, found := s.source.Latest()
		if !found {
			http.Error(w, "no cycle recorded yet", http.StatusNotFound)
		}
		return snap, found
	}

	cycle, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		http.Error(w, "bad cycle: "+raw, http.StatusBadRequest)
		return pipeline.Snapshot{}, false
	}

	snap, found := s.source.Snapshot(cycle)
	if !found {
		http.Error(w, fmt.Sprintf("cycle %d not recorded", cycle), http.StatusNotFound)
	}
	return snap, found
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	if snap, ok := s.lookup(w, r); ok {
		s.writeJSON(w, snap)
	}
}

func (s *Server) cycles(w http.ResponseWriter, _ *http.Request) {
	snapshots := s.source.Snapshots()
	cycles := make([]uint64, 0, len(snapshots))
	for _, snap := range snapshots {
		cycles = append(cycles, snap.Cycle)
	}
	s.writeJSON(w, cycles)
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.lookup(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := snap.WriteReport(w); err != nil {
		s.logger.Warn("write report", "err", err)
	}
}

type statsRsp struct {
	pipeline.Statistics
	IPC          float64 `json:"ipc"`
	CPI          float64 `json:"cpi"`
	CacheHits    uint64  `json:"cache_hits"`
	CacheMisses  uint64  `json:"cache_misses"`
	CacheHitRate float64 `json:"cache_hit_rate"`
	Done         bool    `json:"done"`
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.source.Latest()
	if !ok {
		http.Error(w, "no cycle recorded yet", http.StatusNotFound)
		return
	}

	s.writeJSON(w, statsRsp{
		Statistics:   snap.Stats,
		IPC:          snap.Stats.IPC(),
		CPI:          snap.Stats.CPI(),
		CacheHits:    snap.Cache.Stats.Hits,
		CacheMisses:  snap.Cache.Stats.Misses,
		CacheHitRate: snap.Cache.Stats.HitRate(),
		Done:         snap.Done,
	})
}

type diagnosticRsp struct {
	Cycle   uint64 `json:"cycle"`
	Unit    string `json:"unit,omitempty"`
	Message string `json:"message"`
}

func (s *Server) diagnostics(w http.ResponseWriter, _ *http.Request) {
	diags := s.source.Diagnostics()
	rsp := make([]diagnosticRsp, 0, len(diags))
	for _, d := range diags {
		rsp = append(rsp, diagnosticRsp{
			Cycle:   d.Cycle,
			Unit:    d.Unit,
			Message: d.Err.Error(),
		})
	}
	s.writeJSON(w, rsp)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (s *Server) resource(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memInfo.RSS,
	})
}
