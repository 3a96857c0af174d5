package scheduler

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(StartScheduler),
)

// StartScheduler runs the cron loop for the lifetime of the app when enabled.
func StartScheduler(lc fx.Lifecycle, cfg Config, sched *Scheduler, log *zap.Logger) {
	if !cfg.Enabled {
		log.Info("scheduler disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			c, err := sched.NewCron(ctx)
			if err != nil {
				cancel()
				return err
			}
			log.Info("scheduler started",
				zap.String("renewal_spec", cfg.RenewalSpec),
				zap.String("expiration_spec", cfg.ExpirationSpec),
				zap.Strings("enabled_jobs", cfg.EnabledJobs),
			)
			go func() {
				defer close(done)
				c.Start()
				<-ctx.Done()
				<-c.Stop().Done()
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
