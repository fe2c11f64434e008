// Package main runs a parking-session walkthrough against a configurable
// store and bus backend: it starts a session, extends it through the command
// bus until the maximum stay rejects a request, projects a live status view
// from the event bus, and answers a status query through the query gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	kdb "github.com/kurrent-io/KurrentDB-Client-Go/kurrentdb"
	"github.com/sirupsen/logrus"

	"github.com/parkhaus/parking"
	filebus "github.com/parkhaus/parking/eventbus/file"
	kbus "github.com/parkhaus/parking/eventbus/kurrentdb"
	membus "github.com/parkhaus/parking/eventbus/memory"
	"github.com/parkhaus/parking/eventstore/bbolt"
	"github.com/parkhaus/parking/eventstore/disk"
	kstore "github.com/parkhaus/parking/eventstore/kurrentdb"
	memstore "github.com/parkhaus/parking/eventstore/memory"
	redisstore "github.com/parkhaus/parking/eventstore/redis"
	"github.com/parkhaus/parking/logging"
	"github.com/parkhaus/parking/otel"
	"github.com/parkhaus/parking/session"
)

type config struct {
	Store      string        `env:"PARKINGD_STORE" envDefault:"memory"`
	Bus        string        `env:"PARKINGD_BUS" envDefault:"memory"`
	DataDir    string        `env:"PARKINGD_DATA_DIR" envDefault:"parkingd-events"`
	BBoltPath  string        `env:"PARKINGD_BBOLT_PATH" envDefault:"parkingd.db"`
	RedisAddr  string        `env:"PARKINGD_REDIS_ADDR" envDefault:"localhost:6379"`
	KurrentDSN string        `env:"PARKINGD_KURRENTDB_DSN" envDefault:"kurrentdb://localhost:2113?tls=false"`
	SpoolDir   string        `env:"PARKINGD_SPOOL_DIR" envDefault:"parkingd-spool"`
	Location   string        `env:"PARKINGD_LOCATION" envDefault:"452"`
	User       string        `env:"PARKINGD_USER" envDefault:"123"`
	MaxStay    time.Duration `env:"PARKINGD_MAX_STAY" envDefault:"24h"`
	BusBuffer  int           `env:"PARKINGD_BUS_BUFFER" envDefault:"64"`
}

func main() {
	log := logrus.New()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.WithError(err).Fatal("parse configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("parkingd failed")
	}
}

func run(ctx context.Context, cfg config, log *logrus.Logger) error {
	// The kurrentdb bus is fed by the server, not by the in-process feed
	// pump, so it only sees events the kurrentdb store appended.
	if (cfg.Store == "kurrentdb") != (cfg.Bus == "kurrentdb") {
		return errors.New("the kurrentdb store and bus must be selected together")
	}

	store, feed, client, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	store = otel.WithEventStoreTelemetry(store)
	defer func() { _ = store.Close() }()

	bus, pump, err := openBus(cfg, client)
	if err != nil {
		return fmt.Errorf("open %s bus: %w", cfg.Bus, err)
	}
	defer func() { _ = bus.Close() }()

	if feed != nil && pump != nil {
		go func() {
			for envelope := range feed {
				pump.Dispatch(envelope)
			}
		}()
	}
	go func() {
		for err := range bus.Errors() {
			log.WithError(err).Warn("event bus")
		}
	}()

	// Read side: a live status view, caught up from history before the bus
	// starts delivering. Nothing is appended until both are in place, so no
	// event can fall between the seed and the subscription.
	view := session.NewView()
	if err := seedView(ctx, store, view, cfg.Location); err != nil {
		return fmt.Errorf("seed status view: %w", err)
	}

	var subOpts []parking.SubscriberOption
	if cfg.Bus == "kurrentdb" {
		subOpts = append(subOpts, kbus.WithFilterEvents("session."))
	}

	tbus := otel.WithEventBusTelemetry(bus)
	group := view.Group()
	err = tbus.Subscribe(ctx, "status-view",
		parking.FilterEventKinds(group.StreamFilter()...),
		otel.WithEventTelemetry(group),
		subOpts...,
	)
	if err != nil {
		return fmt.Errorf("subscribe status view: %w", err)
	}

	audit := logging.WithEventLogging(slog.Default(), parking.NewEventHandlerFunc(
		func(ctx context.Context, ev parking.Event) error { return nil },
	))
	if err := tbus.Subscribe(ctx, "audit", parking.FilterStreams(cfg.Location), audit, subOpts...); err != nil {
		return fmt.Errorf("subscribe audit log: %w", err)
	}

	// Write side: the generic command handler drives the session fold, with
	// telemetry and logging layered around it.
	blank, err := session.New(cfg.Location, session.WithMaximumStay(cfg.MaxStay))
	if err != nil {
		return fmt.Errorf("construct session: %w", err)
	}

	extend := parking.NewCommandHandler(
		store,
		*blank,
		session.Evolve,
		func(state session.Session, cmd session.ExtendSession) ([]parking.Event, error) {
			return session.Decide(state, cmd)
		},
		parking.WithRevision(parking.Revision(0)),
		parking.WithRetryStrategy(backoff.NewExponentialBackOff()),
		parking.WithMetadataExtractor(func(ctx context.Context) map[string]any {
			return map[string]any{"operator": "parkingd"}
		}),
	)
	handler := otel.WithCommandTelemetry(logging.WithCommandLogging(log.WithField("component", "commands"), extend))

	commands := parking.NewCommandBus(cfg.BusBuffer, 4)
	defer commands.Stop()
	parking.Register(commands, handler)

	if err := startSession(ctx, store, cfg, log); err != nil {
		return err
	}

	replayed, err := replaySession(ctx, store, cfg)
	if err != nil {
		return fmt.Errorf("replay session: %w", err)
	}
	log.WithFields(logrus.Fields{
		"location":  replayed.LocationID(),
		"user":      replayed.UserID(),
		"started":   replayed.HasStarted(),
		"extension": replayed.Extension(),
		"remaining": replayed.RemainingStay(),
	}).Info("replayed session state")

	// The last request asks for the full maximum stay and trips the ceiling;
	// rejections are logged by the handler decorators.
	requests := []int64{30, 45, int64(cfg.MaxStay / time.Minute)}
	var lastVersion uint64
	for _, minutes := range requests {
		result, err := commands.Dispatch(ctx, session.ExtendSession{LocationID: cfg.Location, ByMinutes: minutes})
		if err != nil {
			if errors.Is(err, parking.ErrBusinessRuleViolation) {
				continue
			}
			return fmt.Errorf("extend by %d minutes: %w", minutes, err)
		}
		lastVersion = result.NextExpectedVersion
	}

	if lastVersion > 0 && !waitForView(view, cfg.Location, lastVersion, 5*time.Second) {
		log.Warn("status view still catching up; querying the current state anyway")
	}

	queries := parking.NewQueryBus()
	statusHandler := otel.WithQueryTelemetry(
		logging.WithQueryLogging(log.WithField("component", "queries"), session.NewStatusHandler(view)),
	)
	parking.RegisterQueryHandler(queries, statusHandler)

	gateway := parking.NewQueryGateway[session.StatusQuery, session.Status](queries)
	status, err := gateway.HandleQuery(ctx, session.StatusQuery{LocationID: cfg.Location})
	if err != nil {
		return fmt.Errorf("query session status: %w", err)
	}
	log.WithFields(logrus.Fields{
		"location": status.LocationID,
		"user":     status.UserID,
		"minutes":  status.TotalMinutes,
		"version":  status.Version,
	}).Info("current session status")

	return nil
}

// openStore selects the event store backend. The feed channel is nil for the
// kurrentdb store; its events reach subscribers through the server instead.
func openStore(ctx context.Context, cfg config) (parking.EventStore, <-chan *parking.Envelope, *kdb.Client, error) {
	switch cfg.Store {
	case "memory":
		st := memstore.NewMemoryStore(cfg.BusBuffer)
		return st, st.Events(), nil, nil
	case "disk":
		st, err := disk.Open(cfg.DataDir)
		if err != nil {
			return nil, nil, nil, err
		}
		return st, st.Events(), nil, nil
	case "bbolt":
		st, err := bbolt.Open(cfg.BBoltPath)
		if err != nil {
			return nil, nil, nil, err
		}
		return st, st.Events(), nil, nil
	case "redis":
		st, err := redisstore.NewStore(ctx, redisstore.Config{Addr: cfg.RedisAddr, Prefix: "parkingd"})
		if err != nil {
			return nil, nil, nil, err
		}
		return st, st.Events(), nil, nil
	case "kurrentdb":
		settings, err := kdb.ParseConnectionString(cfg.KurrentDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parse connection string: %w", err)
		}
		client, err := kdb.NewClient(settings)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect: %w", err)
		}
		return kstore.NewEventStore(client), nil, client, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}

// dispatcher is the feed side of the in-process buses.
type dispatcher interface {
	Dispatch(env *parking.Envelope)
}

// openBus selects the event bus backend. The dispatcher is nil for the
// kurrentdb bus; it has no in-process feed.
func openBus(cfg config, client *kdb.Client) (parking.EventBus, dispatcher, error) {
	switch cfg.Bus {
	case "memory":
		b := membus.NewEventBus(cfg.BusBuffer)
		return b, b, nil
	case "file":
		b, err := filebus.NewEventBus(cfg.SpoolDir)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case "kurrentdb":
		return kbus.NewEventBus(client), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown bus backend %q", cfg.Bus)
	}
}

// seedView catches the status view up with the location's stored history.
func seedView(ctx context.Context, store parking.EventStore, view *session.View, location string) error {
	iter, err := store.LoadStream(ctx, location)
	if err != nil {
		if errors.Is(err, parking.ErrStreamNotFound) {
			return nil
		}
		return err
	}

	group := view.Group()
	for iter.Next(ctx) {
		envelope := iter.Value()
		if err := group.Handle(parking.WithEnvelope(ctx, envelope), envelope.Event); err != nil {
			var skipped *parking.ErrSkippedEvent
			if errors.As(err, &skipped) {
				continue
			}
			return err
		}
	}
	return iter.Err()
}

// startSession appends the Started event unless a prior run already did.
func startSession(ctx context.Context, store parking.EventStore, cfg config, log *logrus.Logger) error {
	started := parking.Envelope{
		EventID:  uuid.New(),
		StreamID: cfg.Location,
		Event: &session.Started{
			LocationID: cfg.Location,
			UserID:     cfg.User,
			StartTime:  time.Now().UTC(),
		},
		OccurredAt: time.Now().UTC(),
		Metadata:   map[string]any{"operator": "parkingd"},
	}

	if _, err := store.Save(ctx, []parking.Envelope{started}, parking.NoStream{}); err != nil {
		if !errors.Is(err, parking.ErrStreamExists) {
			return fmt.Errorf("start session: %w", err)
		}
		log.WithField("location", cfg.Location).Info("session already started, extending the existing one")
		return nil
	}

	log.WithFields(logrus.Fields{"location": cfg.Location, "user": cfg.User}).Info("session started")
	return nil
}

// replaySession folds the stored history through the aggregate's own replay.
func replaySession(ctx context.Context, store parking.EventStore, cfg config) (*session.Session, error) {
	blank, err := session.New(cfg.Location, session.WithMaximumStay(cfg.MaxStay))
	if err != nil {
		return nil, err
	}

	iter, err := store.LoadStream(ctx, cfg.Location)
	if err != nil {
		return nil, err
	}
	envelopes, err := iter.All(ctx)
	if err != nil {
		return nil, err
	}

	events := make([]parking.Event, 0, len(envelopes))
	for _, envelope := range envelopes {
		events = append(events, envelope.Event)
	}
	if err := blank.Hydrate(events...); err != nil {
		return nil, err
	}
	return blank, nil
}

// waitForView polls until the view has folded the given stream version.
func waitForView(view *session.View, location string, version uint64, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if status, ok := view.Status(location); ok && status.Version >= version {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}
