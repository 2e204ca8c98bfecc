package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/meterflow-core/internal/infrastructure/config"
	"github.com/nerrad567/meterflow-core/internal/infrastructure/database"
	"github.com/nerrad567/meterflow-core/internal/infrastructure/logging"
	"github.com/nerrad567/meterflow-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/meterflow-core/internal/registry"
	"github.com/nerrad567/meterflow-core/internal/stage"
	"github.com/nerrad567/meterflow-core/migrations"
)

// app holds what every command shares. Connections are opened on demand
// and released by close in reverse order.
type app struct {
	opts     options
	cfg      *config.Config
	log      *logging.Logger
	pipeline *stage.Pipeline

	closers []func()
}

func newApp(opts options) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)

	pipeline := stage.NewPipeline(stage.Dirs{
		Raw:    cfg.Pipeline.RawDir,
		Bronze: cfg.Pipeline.BronzeDir,
		Silver: cfg.Pipeline.SilverDir,
	})
	pipeline.SetLogger(log.With("component", "stage"))

	return &app{
		opts:     opts,
		cfg:      cfg,
		log:      log,
		pipeline: pipeline,
	}, nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// openDatabase opens and migrates the registry database.
func (a *app) openDatabase(ctx context.Context) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        a.cfg.Database.Path,
		WALMode:     a.cfg.Database.WALMode,
		BusyTimeout: a.cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.onClose(func() {
		if err := db.Close(); err != nil {
			a.log.Error("error closing database", "error", err)
		}
	})

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	a.log.Info("database ready", "path", a.cfg.Database.Path)
	return db, nil
}

// openRegistry opens the group ledger. With create set, an empty ledger is
// filled from the association table.
func (a *app) openRegistry(ctx context.Context, create bool) (*registry.Registry, *database.DB, error) {
	db, err := a.openDatabase(ctx)
	if err != nil {
		return nil, nil, err
	}

	reg := registry.New(registry.NewSQLiteRepository(db.DB), a.cfg.Pipeline.RawDir)
	reg.SetLogger(a.log.With("component", "registry"))
	if create {
		src := registry.ParquetSource{Path: a.cfg.Pipeline.AssociationPath}
		if err := reg.Init(ctx, src); err != nil {
			return nil, nil, fmt.Errorf("initialising registry: %w", err)
		}
	}

	progress, err := reg.Progress(ctx)
	if err != nil {
		return nil, nil, err
	}
	a.log.Info("registry loaded", "progress", progress.String())
	return reg, db, nil
}

// connectMQTT returns nil when MQTT is disabled. role names the command on
// the status topic.
func (a *app) connectMQTT(role string) (*mqtt.Client, error) {
	if !a.cfg.MQTT.Enabled {
		a.log.Info("MQTT disabled")
		return nil, nil //nolint:nilnil // disabled is not an error
	}

	client, err := mqtt.Connect(a.cfg.MQTT, role)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	a.onClose(func() {
		st := client.Stats()
		a.log.Info("disconnecting from MQTT", "published", st.Published, "failed", st.Failed)
		if err := client.Close(); err != nil {
			a.log.Error("error closing MQTT", "error", err)
		}
	})
	a.log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", a.cfg.MQTT.Broker.Host, a.cfg.MQTT.Broker.Port),
		"client_id", a.cfg.MQTT.Broker.ClientID,
	)

	client.SetOnConnect(func() {
		a.log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		a.log.Warn("MQTT disconnected", "error", err)
	})
	return client, nil
}

// selectGroups returns the --group selection or every processed group.
// Selected groups must be registered and processed.
func (a *app) selectGroups(ctx context.Context, reg *registry.Registry) ([]string, error) {
	if len(a.opts.groups) > 0 {
		for _, g := range a.opts.groups {
			e, err := reg.Entry(ctx, g)
			if err != nil {
				return nil, err
			}
			if !e.Processed {
				return nil, fmt.Errorf("%w: %s", registry.ErrNotProcessed, g)
			}
		}
		return a.opts.groups, nil
	}

	entries, err := reg.Processed(ctx)
	if err != nil {
		return nil, err
	}
	groups := make([]string, 0, len(entries))
	for _, e := range entries {
		groups = append(groups, e.GroupID)
	}
	return groups, nil
}
