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
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/labels"

	"github.com/bal-io/boink/pkg/scaling"
	"github.com/bal-io/boink/pkg/shared/logging"
	sharedutil "github.com/bal-io/boink/pkg/shared/util"
	"github.com/bal-io/boink/pkg/workload"
	"github.com/bal-io/boink/pkg/workload/kube"
)

// newRepository connects to the cluster.
var newRepository = func(kubeconfig string) (workload.Repository, error) {
	restConfig, err := sharedutil.K8sRestConfig(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to get kubeconfig, %w", err)
	}
	repo, err := kube.NewRepositoryFromConfig(restConfig)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func NewSuspendCommand() *cobra.Command {
	return newReconcileCommand(scaling.ActionSuspend, "stop",
		"Scale deployments to zero, remembering their replicas")
}

func NewResumeCommand() *cobra.Command {
	return newReconcileCommand(scaling.ActionResume, "start",
		"Scale deployments back to their remembered replicas")
}

func newReconcileCommand(action scaling.Action, alias, short string) *cobra.Command {
	var (
		kubeconfig string
		namespace  string
		selector   string
		workers    int
		dryRun     bool
		output     string
	)

	command := &cobra.Command{
		Use:          string(action),
		Aliases:      []string{alias},
		Short:        short,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if namespace == "" {
				return fmt.Errorf("namespace is required, use --namespace or %s", EnvNamespace)
			}
			sel, err := labels.Parse(selector)
			if err != nil {
				return fmt.Errorf("invalid selector %q, %w", selector, err)
			}
			if !cmd.Flags().Changed("workers") {
				if workers, err = sharedutil.LookupEnvInt(EnvWorkers, workers); err != nil {
					return err
				}
			}
			if workers < 1 {
				return fmt.Errorf("workers must be at least 1, got %d", workers)
			}
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}

			logger := logging.NewLogger().Named(string(action))
			ctx := logging.WithLogger(cmd.Context(), logger)
			repo, err := newRepository(kubeconfig)
			if err != nil {
				logger.Errorw("Failed to connect to the cluster", zap.Error(err))
				return err
			}
			r := scaling.NewReconciler(repo, scaling.WithWorkers(workers), scaling.WithDryRun(dryRun))
			outcomes, err := r.Reconcile(ctx, namespace, sel, action)
			if rerr := renderOutcomes(cmd.OutOrStdout(), format, outcomes); rerr != nil {
				logger.Errorw("Failed to render outcomes", zap.Error(rerr))
			}
			if err != nil {
				return err
			}
			if err := scaling.Errors(outcomes); err != nil {
				return fmt.Errorf("failed to %s %d of %d deployments, %w", action, countFailed(outcomes), len(outcomes), err)
			}
			return nil
		},
	}
	command.Flags().StringVar(&kubeconfig, "kubeconfig", "", "Path to a kubeconfig, defaults to KUBECONFIG, ~/.kube/config or the in-cluster config")
	command.Flags().StringVarP(&namespace, "namespace", "n", sharedutil.LookupEnvStringOr(EnvNamespace, ""), "Namespace of the deployments")
	command.Flags().StringVarP(&selector, "selector", "l", sharedutil.LookupEnvStringOr(EnvSelector, ""), "Label selector of the deployments, all deployments when empty")
	command.Flags().IntVar(&workers, "workers", 1, "Number of deployments patched concurrently, defaults to "+EnvWorkers+" when set")
	command.Flags().BoolVar(&dryRun, "dry-run", false, "Submit the patches with server side dry run")
	command.Flags().StringVarP(&output, "output", "o", string(OutputTable), "Output format, one of table|json|yaml|none")
	return command
}

func countFailed(outcomes []scaling.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Failed() {
			n++
		}
	}
	return n
}
