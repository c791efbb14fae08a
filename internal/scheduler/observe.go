package scheduler

import (
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Scheduled job runs by job and status.",
		},
		[]string{"job", "status"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_job_duration_seconds",
			Help:    "Scheduled job run time.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)
)

func init() {
	prometheus.MustRegister(jobRuns, jobDuration)
}

// monitor feeds gocron's job statistics into prometheus.
type monitor struct{}

func (monitor) IncrementJob(_ uuid.UUID, name string, _ []string, status gocron.JobStatus) {
	jobRuns.WithLabelValues(name, string(status)).Inc()
}

func (monitor) RecordJobTiming(start, end time.Time, _ uuid.UUID, name string, _ []string) {
	jobDuration.WithLabelValues(name).Observe(end.Sub(start).Seconds())
}

// zerologAdapter routes gocron's key/value logging to the global logger.
type zerologAdapter struct{}

func (zerologAdapter) Debug(msg string, args ...any) { emit(log.Debug(), msg, args) }
func (zerologAdapter) Info(msg string, args ...any)  { emit(log.Debug(), msg, args) }
func (zerologAdapter) Warn(msg string, args ...any)  { emit(log.Warn(), msg, args) }
func (zerologAdapter) Error(msg string, args ...any) { emit(log.Error(), msg, args) }

func emit(e *zerolog.Event, msg string, args []any) {
	e.Str("component", "gocron").Fields(args).Msg(msg)
}
