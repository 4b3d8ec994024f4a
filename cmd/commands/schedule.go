/*
Copyright 2024 The Boink Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/bal-io/boink"
	"github.com/bal-io/boink/pkg/metrics"
	"github.com/bal-io/boink/pkg/scaling"
	"github.com/bal-io/boink/pkg/schedule"
	"github.com/bal-io/boink/pkg/shared/logging"
)

func NewScheduleCommand() *cobra.Command {
	var (
		kubeconfig     string
		configFile     string
		metricsAddress string
		metricsSecure  bool
		dryRun         bool
	)

	command := &cobra.Command{
		Use:          "schedule",
		Short:        "Suspend and resume deployments on cron schedules",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger().Named("schedule")
			ctx := logging.WithLogger(cmd.Context(), logger)
			v := boink.GetVersion()
			metrics.BuildInfo.WithLabelValues(v.Version, v.Platform).Set(1)

			repo, err := newRepository(kubeconfig)
			if err != nil {
				logger.Errorw("Failed to connect to the cluster", zap.Error(err))
				return err
			}
			sched := schedule.NewScheduler(func(workers int) schedule.Runner {
				return scaling.NewReconciler(repo, scaling.WithWorkers(workers), scaling.WithDryRun(dryRun))
			})
			conf, err := schedule.LoadConfig(configFile, func(c *schedule.Config) {
				_ = sched.Apply(ctx, c)
			}, func(err error) {
				logger.Errorw("Failed to reload schedule config, keeping the current schedules", zap.Error(err))
			})
			if err != nil {
				return err
			}
			if err := sched.Apply(ctx, conf); err != nil {
				return fmt.Errorf("failed to apply schedule config, %w", err)
			}

			started := atomic.NewBool(false)
			opts := []metrics.Option{metrics.WithReadyCheckExecutor(func() error {
				if !started.Load() {
					return fmt.Errorf("scheduler not started")
				}
				return nil
			})}
			if metricsSecure {
				opts = append(opts, metrics.WithTLS())
			}
			shutdown := metrics.NewMetricsServer(metricsAddress, opts...).Start(ctx)
			sched.Start(ctx)
			started.Store(true)
			logger.Infow("Schedule daemon started", zap.String("version", v.Version), zap.String("config", configFile), zap.Bool("dryRun", dryRun))
			<-ctx.Done()

			logger.Info("Shutting down, waiting for running schedules")
			sched.Stop()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return shutdown(shutdownCtx)
		},
	}
	command.Flags().StringVar(&kubeconfig, "kubeconfig", "", "Path to a kubeconfig, defaults to KUBECONFIG, ~/.kube/config or the in-cluster config")
	command.Flags().StringVar(&configFile, "config", schedule.DefaultConfigFile, "Schedule config file, reloaded on change")
	command.Flags().StringVar(&metricsAddress, "metrics-address", ":9090", "Address the metrics server listens on")
	command.Flags().BoolVar(&metricsSecure, "metrics-secure", false, "Serve metrics over HTTPS with a self signed certificate")
	command.Flags().BoolVar(&dryRun, "dry-run", false, "Submit the patches with server side dry run")
	return command
}
