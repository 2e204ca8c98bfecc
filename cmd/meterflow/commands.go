package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/meterflow-core/internal/api"
	"github.com/nerrad567/meterflow-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/meterflow-core/internal/ingest"
	"github.com/nerrad567/meterflow-core/internal/ingest/bulkapi"
	"github.com/nerrad567/meterflow-core/internal/measurement"
	"github.com/nerrad567/meterflow-core/internal/process"
	"github.com/nerrad567/meterflow-core/internal/stage"
	"github.com/nerrad567/meterflow-core/internal/usagepoint"
)

var commands = map[string]func(ctx context.Context, a *app) error{
	"usagepoints": cmdUsagePoints,
	"ingest":      cmdIngest,
	"bronze":      cmdBronze,
	"silver":      cmdSilver,
	"run":         cmdRun,
	"export":      cmdExport,
	"serve":       cmdServe,
}

func cmdUsagePoints(_ context.Context, a *app) error {
	b := usagepoint.NewBuilder()
	b.SetLogger(a.log.With("component", "usagepoint"))
	sum, err := b.Build(a.cfg.Pipeline.UsagePointsDir, a.cfg.Pipeline.AssociationPath)
	if err != nil {
		return fmt.Errorf("building associations: %w", err)
	}
	if len(sum.Empty) > 0 {
		a.log.Warn("topologies without usage points", "topologies", sum.Empty)
	}
	return nil
}

func cmdIngest(ctx context.Context, a *app) error {
	reg, _, err := a.openRegistry(ctx, true)
	if err != nil {
		return err
	}

	client, err := bulkapi.New(a.cfg.BulkAPI)
	if err != nil {
		return err
	}
	client.SetLogger(a.log.With("component", "bulkapi"))
	a.onClose(client.Close)

	settings, err := ingest.SettingsFromConfig(a.cfg)
	if err != nil {
		return err
	}
	ing, err := ingest.New(settings, client, reg)
	if err != nil {
		return err
	}
	ing.SetLogger(a.log.With("component", "ingest"))

	mqttClient, err := a.connectMQTT("ingest")
	if err != nil {
		return err
	}
	if mqttClient != nil {
		ing.SetPublisher(mqttClient)
	}

	sup := process.NewSupervisor("ingest", process.Policy{
		Cooldown:    a.cfg.GetCooldown(),
		Multiplier:  a.cfg.Supervisor.Multiplier,
		MaxCooldown: a.cfg.GetMaxCooldown(),
		MaxAttempts: a.cfg.Supervisor.MaxAttempts,
	})
	sup.SetLogger(a.log.With("component", "supervisor"))

	err = sup.Run(ctx, ing.RunOnce)
	stats := sup.Stats()
	if err != nil {
		return fmt.Errorf("ingestion stopped after %d attempts: %w", stats.Attempts, err)
	}
	a.log.Info("ingestion complete", "attempts", stats.Attempts, "elapsed", stats.Elapsed)
	return nil
}

func cmdBronze(ctx context.Context, a *app) error {
	reg, _, err := a.openRegistry(ctx, false)
	if err != nil {
		return err
	}
	groups, err := a.selectGroups(ctx, reg)
	if err != nil {
		return err
	}

	sum, err := a.pipeline.RawToBronze(ctx, groups, stage.Options{Force: a.opts.force})
	if err != nil {
		return fmt.Errorf("building bronze: %w", err)
	}
	a.log.Info("bronze complete",
		"written", len(sum.Written),
		"reused", len(sum.Reused),
		"skipped", len(sum.Skipped),
	)
	return nil
}

func cmdSilver(ctx context.Context, a *app) error {
	reg, _, err := a.openRegistry(ctx, false)
	if err != nil {
		return err
	}
	groups, err := a.selectGroups(ctx, reg)
	if err != nil {
		return err
	}

	from, to := a.cfg.GetSilverWindow()
	w := measurement.Window{From: from, To: to}
	opts := stage.Options{Force: a.opts.force, Save: !a.opts.noSave}

	var records, skipped int
	for _, g := range groups {
		out, err := a.pipeline.BronzeToSilver(ctx, g, w, opts)
		if errors.Is(err, stage.ErrNoBronze) {
			a.log.Warn("no bronze for group, skipping", "group", g)
			skipped++
			continue
		}
		if err != nil {
			return fmt.Errorf("reconstructing %s: %w", g, err)
		}
		records += len(out)
	}
	a.log.Info("silver complete",
		"groups", len(groups)-skipped,
		"skipped", skipped,
		"records", records,
	)
	return nil
}

func cmdRun(ctx context.Context, a *app) error {
	for _, step := range []func(context.Context, *app) error{cmdIngest, cmdBronze, cmdSilver} {
		if err := step(ctx, a); err != nil {
			return err
		}
		// Each step opens its own connections.
		a.close()
	}
	return nil
}

func cmdExport(ctx context.Context, a *app) error {
	if !a.cfg.InfluxDB.Enabled {
		return errors.New("export requires influxdb.enabled")
	}
	reg, _, err := a.openRegistry(ctx, false)
	if err != nil {
		return err
	}
	groups, err := a.selectGroups(ctx, reg)
	if err != nil {
		return err
	}

	client, err := influxdb.Connect(ctx, a.cfg.InfluxDB)
	if err != nil {
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	a.onClose(func() {
		if err := client.Close(); err != nil {
			a.log.Error("error closing InfluxDB", "error", err)
		}
	})
	a.log.Info("InfluxDB connected", "url", a.cfg.InfluxDB.URL, "target", client.Target())

	var points, exported int
	for _, g := range groups {
		records, err := a.pipeline.ReadSilver(g)
		if errors.Is(err, stage.ErrNoSilver) {
			a.log.Warn("no silver for group, skipping", "group", g)
			continue
		}
		if err != nil {
			return err
		}
		n, err := client.WriteSilver(ctx, records)
		points += n
		if err != nil {
			return fmt.Errorf("exporting %s after %d points: %w", g, n, err)
		}
		exported++
		a.log.Info("group exported", "group", g, "points", n)
	}

	a.log.Info("export complete", "groups", exported, "points", points)
	return nil
}

func cmdServe(ctx context.Context, a *app) error {
	reg, db, err := a.openRegistry(ctx, false)
	if err != nil {
		return err
	}
	checks := map[string]api.HealthChecker{"database": db}

	mqttClient, err := a.connectMQTT("serve")
	if err != nil {
		return err
	}
	if mqttClient != nil {
		checks["mqtt"] = mqttClient
	}

	srv, err := api.New(api.Deps{
		Config:   a.cfg.API,
		Logger:   a.log.With("component", "api"),
		Registry: reg,
		Silver:   a.pipeline,
		Checks:   checks,
		Version:  version,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return srv.Close()
}
