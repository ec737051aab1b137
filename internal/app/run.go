package app

import (
	"context"
	"fmt"

	"github.com/vk/nmtkit/internal/coordinator"
	"github.com/vk/nmtkit/internal/ctxlog"
	"github.com/vk/nmtkit/internal/trainer"
)

// Run executes one full training run based on the loaded configuration.
func (a *App) Run(ctx context.Context, appConfig *AppConfig) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if appConfig.HealthcheckPort > 0 {
		a.startHealthcheckServer(appConfig.HealthcheckPort)
	}

	a.logger.Debug("Assembling training collaborators from config model...")

	datasetFactory, err := a.registry.Dataset(a.run.Dataset.Type)
	if err != nil {
		return err
	}
	ds, err := datasetFactory(a.run.Dataset.Body)
	if err != nil {
		return fmt.Errorf("failed to build dataset: %w", err)
	}

	modelFactory, err := a.registry.Model(a.run.Model.Type)
	if err != nil {
		return err
	}
	model, err := modelFactory(a.run.Model.Body)
	if err != nil {
		return fmt.Errorf("failed to build model: %w", err)
	}

	optimizerFactory, err := a.registry.Optimizer(a.run.Optimizer.Type)
	if err != nil {
		return err
	}
	opt, err := optimizerFactory(a.run.Optimizer.Body, model.Params())
	if err != nil {
		return fmt.Errorf("failed to build optimizer: %w", err)
	}

	schedulerFactory, err := a.registry.Scheduler(a.run.Scheduler.Type)
	if err != nil {
		return err
	}
	sched, err := schedulerFactory(a.run.Scheduler.Body)
	if err != nil {
		return fmt.Errorf("failed to build scheduler: %w", err)
	}

	strategyFactory, err := a.registry.Strategy(a.run.Strategy.Type)
	if err != nil {
		return err
	}
	strategy, err := strategyFactory(a.run.Strategy.Body)
	if err != nil {
		return fmt.Errorf("failed to build strategy: %w", err)
	}

	opts := trainer.Options{Scheduler: sched, OutW: a.outW}
	if cluster := a.run.Cluster; cluster != nil {
		coord, err := coordinator.NewCluster(ctx, cluster.Rank, cluster.Size, cluster.Listen, cluster.RootURL)
		if err != nil {
			return fmt.Errorf("failed to join cluster: %w", err)
		}
		defer coord.Close()
		opts.MultiDevice = true
		opts.Coordinator = coord
	}

	kit := trainer.NewKit(ctx, model, ds, opt, opts)
	kit.Configure(trainer.Config{
		SavePath:       a.run.Training.SavePath,
		ClipNorm:       a.run.Training.ClipNorm,
		NValidPerEpoch: a.run.Training.NValidPerEpoch,
		Criteria:       a.run.Training.Criteria,
		UploadURL:      a.run.Training.UploadURL,
	})
	a.session.Attach(kit)

	if appConfig.Resume {
		if a.run.Training.SavePath == "" {
			return fmt.Errorf("cannot resume: no save_path configured")
		}
		if err := kit.Load(""); err != nil {
			return fmt.Errorf("failed to resume from checkpoint: %w", err)
		}
		a.logger.Info("Resumed from checkpoint.", "path", a.run.Training.SavePath,
			"epoch", kit.Epoch(), "step", kit.Step())
	}

	a.logger.Info("🚀 Starting training run.", "session", a.session.ID())
	if err := strategy.Run(ctx, kit); err != nil {
		return fmt.Errorf("training run failed: %w", err)
	}
	a.logger.Info("🏁 Training finished.")

	a.logger.Debug("App.Run method finished.")
	return nil
}
