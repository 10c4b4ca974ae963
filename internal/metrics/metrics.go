package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Engine metrics
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ktime_ticks_total",
			Help: "Total clock ticks processed by the engine",
		},
	)

	RemainingSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ktime_remaining_seconds",
			Help: "Quota seconds remaining today",
		},
	)

	SessionStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ktime_session_status",
			Help: "Current session status (1 for the active status, 0 otherwise)",
		},
		[]string{"status"},
	)

	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ktime_commands_total",
			Help: "Total commands processed by outcome",
		},
		[]string{"command", "outcome"},
	)

	WarningsFired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ktime_warnings_fired_total",
			Help: "Total low-time warnings emitted",
		},
	)

	PauseSecondsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ktime_pause_seconds_total",
			Help: "Total seconds spent paused",
		},
	)

	ExtensionMinutesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ktime_extension_minutes_total",
			Help: "Total minutes granted by extensions",
		},
		[]string{"source"},
	)

	ClockAnomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ktime_clock_anomalies_total",
			Help: "Clock jumps detected between ticks",
		},
		[]string{"kind"},
	)

	// Storage metrics
	StoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ktime_store_errors_total",
			Help: "Quota store operation failures",
		},
		[]string{"op"},
	)

	RetentionDeletedKeys = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ktime_retention_deleted_keys_total",
			Help: "Date-partitioned keys removed by retention",
		},
	)

	// Remote channel metrics
	RemoteMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ktime_remote_messages_total",
			Help: "Remote channel messages received",
		},
		[]string{"command", "authorized"},
	)

	NotificationsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ktime_notifications_dropped_total",
			Help: "Notifications dropped because the send queue was full",
		},
	)

	// Admin API metrics
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ktime_api_request_duration_seconds",
			Help:    "Control API request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		TicksTotal,
		RemainingSeconds,
		SessionStatus,
		CommandsTotal,
		WarningsFired,
		PauseSecondsTotal,
		ExtensionMinutesTotal,
		ClockAnomalies,
		StoreErrors,
		RetentionDeletedKeys,
		RemoteMessagesTotal,
		NotificationsDropped,
		APIRequestDuration,
	)
}

// SetStatus marks status as the current session status.
func SetStatus(status string) {
	for _, s := range []string{"active", "paused", "blocked"} {
		v := 0.0
		if s == status {
			v = 1
		}
		SessionStatus.WithLabelValues(s).Set(v)
	}
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
