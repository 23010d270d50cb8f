// Package logx wires the simulator's event log to zerolog, following
// jhkimqd-chaos-utils's pkg/reporting.Logger: a ConsoleWriter for
// humans, raw JSON for machines, both timestamped. Every call site
// tags its event with one of the vocabulary words spec.md §6 fixes
// (RECV PACKET, METRIC_TABLE, ANNOUNCE, ...) so tests can grep for them
// regardless of format.
package logx

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Tag is one of the fixed log-line vocabulary words spec.md §6 lists.
// Kept as a type (not bare strings) so call sites can't typo a tag that
// a test greps for.
type Tag string

const (
	RecvPacket             Tag = "RECV PACKET"
	MetricTable            Tag = "METRIC_TABLE"
	SentTable              Tag = "SENT_TABLE"
	AnnounceTag            Tag = "ANNOUNCE"
	Utility                Tag = "UTILITY"
	BestReplica            Tag = "BEST_REPLICA"
	ChooseBestReplica      Tag = "CHOOSE_BEST_REPLICA"
	ForwardMetric          Tag = "FORWARD METRIC"
	ForwardWithdraw        Tag = "FORWARD WITHDRAW"
	IncreaseLoad           Tag = "INCREASE_LOAD"
	DecreaseLoad           Tag = "DECREASE_LOAD"
	NoMoreCapacity         Tag = "NO_MORE CAPACITY"
	ServiceForwardingTable Tag = "SERVICE_FORWARDING_TABLE"
	BestReplicaUtility     Tag = "BEST_REPLICA_UTILITY"
)

// Config controls verbosity and format; mirrors LoggingConfig in
// internal/config but kept decoupled so logx has no import of config.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "console" or "json"
	Output io.Writer
}

// Logger emits structured zerolog records carrying the simulated time,
// the event tag and the node id as fields. now is supplied by the
// caller on every call rather than read from a clock; zerolog also adds
// its own wall-clock timestamp to every record.
type Logger struct {
	zl zerolog.Logger
}

// New builds a Logger per cfg: a zerolog.ConsoleWriter for "console"
// format, raw JSON otherwise.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	var w io.Writer = out
	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: true}
	}
	zl := zerolog.New(w).With().Timestamp().Logger()
	switch cfg.Level {
	case "debug":
		zl = zl.Level(zerolog.DebugLevel)
	case "warn":
		zl = zl.Level(zerolog.WarnLevel)
	case "error":
		zl = zl.Level(zerolog.ErrorLevel)
	default:
		zl = zl.Level(zerolog.InfoLevel)
	}
	return &Logger{zl: zl}
}

// Event logs one simulated-time-tagged line at info level.
func (l *Logger) Event(simTime float64, tag Tag, node string, fields map[string]any) {
	ev := l.zl.Info().Float64("t", simTime).Str("tag", string(tag)).Str("node", node)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(string(tag))
}

// Drop logs a dropped-packet condition (spec.md §7 error kinds) at
// warn level, still tagged so tests can assert on it.
func (l *Logger) Drop(simTime float64, tag Tag, node string, reason string, fields map[string]any) {
	ev := l.zl.Warn().Float64("t", simTime).Str("tag", string(tag)).Str("node", node).Str("reason", reason)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(string(tag))
}

// Fatalf logs a configuration error and aborts (spec.md §7: "fatal at
// setup; abort with a diagnostic").
func (l *Logger) Fatalf(format string, args ...any) {
	l.zl.Fatal().Msgf(format, args...)
}
