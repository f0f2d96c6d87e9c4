// Package sagactl inspects event streams, traces and segments.
package sagactl

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	platformcmd "github.com/louisbranch/eventsaga/internal/platform/cmd"
	"github.com/louisbranch/eventsaga/internal/storage"
	"github.com/louisbranch/eventsaga/internal/storage/redis"
	"github.com/louisbranch/eventsaga/internal/storage/sqlite"
	"github.com/louisbranch/eventsaga/internal/trace"
	"github.com/louisbranch/eventsaga/internal/trace/segment"
)

// Config holds sagactl configuration.
type Config struct {
	DBPath       string
	RedisAddr    string
	Timeout      time.Duration
	WatchTimeout time.Duration
	WatchBackoff time.Duration
	StreamID     string
	EventType    string
	AfterNumber  uint64
	TraceID      string
	WatchID      string
	SegmentKey   string
	JSONOutput   bool
}

type envConfig struct {
	DBPath       string        `env:"DB_PATH"`
	RedisAddr    string        `env:"REDIS_ADDR"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"1m"`
	WatchTimeout time.Duration `env:"WATCH_TIMEOUT" envDefault:"30s"`
	WatchBackoff time.Duration `env:"WATCH_BACKOFF" envDefault:"250ms"`
}

// ParseConfig reads EVENTSAGA_ environment defaults and then flags.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var envCfg envConfig
	if err := platformcmd.ParseConfig(&envCfg); err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:       envCfg.DBPath,
		RedisAddr:    envCfg.RedisAddr,
		Timeout:      envCfg.Timeout,
		WatchTimeout: envCfg.WatchTimeout,
		WatchBackoff: envCfg.WatchBackoff,
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "eventsaga.db")
	}

	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to the sqlite database (default: EVENTSAGA_DB_PATH or data/eventsaga.db)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address for traces and segments (default: EVENTSAGA_REDIS_ADDR)")
	fs.StringVar(&cfg.StreamID, "stream", "", "list the event records of a stream")
	fs.StringVar(&cfg.EventType, "type", "", "comma-separated event types to keep with -stream")
	fs.Uint64Var(&cfg.AfterNumber, "after", 0, "list records after this event number with -stream")
	fs.StringVar(&cfg.TraceID, "trace", "", "print the resolution of a trace")
	fs.StringVar(&cfg.WatchID, "watch", "", "block until a trace resolves")
	fs.DurationVar(&cfg.WatchTimeout, "watch-timeout", cfg.WatchTimeout, "maximum time to watch a trace")
	fs.DurationVar(&cfg.WatchBackoff, "watch-backoff", cfg.WatchBackoff, "interval between trace polls")
	fs.StringVar(&cfg.SegmentKey, "segment", "", "print a segment given as TRACE/SUBJECT")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := platformcmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type mode int

const (
	modeStream mode = iota + 1
	modeTrace
	modeWatch
	modeSegment
)

func selectMode(cfg Config) (mode, error) {
	var modes []mode
	if strings.TrimSpace(cfg.StreamID) != "" {
		modes = append(modes, modeStream)
	}
	if strings.TrimSpace(cfg.TraceID) != "" {
		modes = append(modes, modeTrace)
	}
	if strings.TrimSpace(cfg.WatchID) != "" {
		modes = append(modes, modeWatch)
	}
	if strings.TrimSpace(cfg.SegmentKey) != "" {
		modes = append(modes, modeSegment)
	}
	switch len(modes) {
	case 0:
		return 0, errors.New("one of -stream, -trace, -watch or -segment is required")
	case 1:
	default:
		return 0, errors.New("-stream, -trace, -watch and -segment are mutually exclusive")
	}
	if modes[0] != modeStream && (cfg.EventType != "" || cfg.AfterNumber > 0) {
		return 0, errors.New("-type and -after require -stream")
	}
	return modes[0], nil
}

// backends lazily opens the stores a mode needs.
type backends struct {
	cfg     Config
	sqlite  *sqlite.Store
	redis   *redis.Store
	closers []func() error
}

func (b *backends) sqliteStore() (*sqlite.Store, error) {
	if b.sqlite != nil {
		return b.sqlite, nil
	}
	store, err := sqlite.Open(b.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	b.sqlite = store
	b.closers = append(b.closers, store.Close)
	return store, nil
}

// traceBackend prefers Redis when an address is configured.
func (b *backends) traceBackend(ctx context.Context) (interface {
	storage.TraceStore
	storage.SegmentStore
}, error) {
	if strings.TrimSpace(b.cfg.RedisAddr) == "" {
		return b.sqliteStore()
	}
	if b.redis == nil {
		store, err := redis.Open(ctx, b.cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		b.redis = store
		b.closers = append(b.closers, store.Close)
	}
	return b.redis, nil
}

func (b *backends) close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// Run executes one sagactl command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	m, err := selectMode(cfg)
	if err != nil {
		return err
	}

	b := &backends{cfg: cfg}
	defer func() {
		if closeErr := b.close(); closeErr != nil {
			fmt.Fprintf(errOut, "Error: close store: %v\n", closeErr)
		}
	}()
	p := printer{out: out, json: cfg.JSONOutput}

	switch m {
	case modeStream:
		log, err := b.sqliteStore()
		if err != nil {
			return err
		}
		return runStream(ctx, log, cfg, p)
	case modeTrace, modeWatch:
		backend, err := b.traceBackend(ctx)
		if err != nil {
			return err
		}
		traces, err := trace.New(backend)
		if err != nil {
			return err
		}
		if m == modeTrace {
			return runTrace(ctx, traces, strings.TrimSpace(cfg.TraceID), p)
		}
		return runWatch(ctx, traces, strings.TrimSpace(cfg.WatchID), cfg, p)
	default:
		key, err := segment.ParseKey(cfg.SegmentKey)
		if err != nil {
			return err
		}
		backend, err := b.traceBackend(ctx)
		if err != nil {
			return err
		}
		segments, err := segment.New(backend)
		if err != nil {
			return err
		}
		return runSegment(ctx, segments, key, p)
	}
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func runStream(ctx context.Context, log storage.EventLog, cfg Config, p printer) error {
	streamID := strings.TrimSpace(cfg.StreamID)
	records, err := log.ListEvents(ctx, streamID, storage.EventQuery{
		Topics: splitCSV(cfg.EventType),
		After:  cfg.AfterNumber,
	})
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	return p.events(streamID, records)
}

func runTrace(ctx context.Context, traces *trace.Store, traceID string, p printer) error {
	t, err := traces.GetTrace(ctx, traceID)
	if err != nil {
		return err
	}
	return p.trace(t)
}

func runWatch(ctx context.Context, traces *trace.Store, traceID string, cfg Config, p printer) error {
	notify := make(chan trace.Integration)
	done := make(chan error, 1)
	go func() {
		var err error
		for in := range notify {
			if err == nil {
				err = p.integration(in)
			}
		}
		done <- err
	}()

	summary, err := traces.WatchTraceResolution(ctx, traceID, trace.WatchOptions{
		Timeout: cfg.WatchTimeout,
		Backoff: cfg.WatchBackoff,
		Notify:  notify,
	})
	close(notify)
	if printErr := <-done; printErr != nil && err == nil {
		err = printErr
	}
	if err != nil {
		return err
	}
	return p.summary(summary)
}

func runSegment(ctx context.Context, segments *segment.Store, key segment.Key, p printer) error {
	info, err := segments.Get(ctx, key)
	if err != nil {
		return err
	}
	return p.segment(info)
}
