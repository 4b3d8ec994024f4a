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

package scaling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/utils/ptr"

	"github.com/bal-io/boink/pkg/metrics"
	"github.com/bal-io/boink/pkg/shared/logging"
	"github.com/bal-io/boink/pkg/workload"
)

// Reconciler suspends and resumes the deployments matching a selector.
type Reconciler struct {
	repo    workload.Repository
	patcher *Patcher
	options *options
}

func NewReconciler(repo workload.Repository, opts ...Option) *Reconciler {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return &Reconciler{
		repo:    repo,
		patcher: NewPatcher(repo, o.dryRun),
		options: o,
	}
}

// Reconcile applies the action to every deployment in the namespace matching
// the selector, returning one outcome per discovered deployment in discovery
// order.
//
// Per workload failures are reported in the outcomes and do not stop the run.
// The returned error is set when the run could not start or was aborted
// because the repository became unavailable; outcomes of workloads not reached
// carry ErrSkipped. Cancelling the context stops the run between workloads,
// patches already submitted are left to finish.
func (r *Reconciler) Reconcile(ctx context.Context, namespace string, selector labels.Selector, action Action) ([]Outcome, error) {
	ctx, log := logging.With(ctx, "namespace", namespace, "action", string(action), "run", uuid.NewString())
	start := time.Now()
	defer func() {
		metrics.ReconcileRunDuration.WithLabelValues(namespace, string(action)).Observe(time.Since(start).Seconds())
	}()

	deploys, err := r.repo.List(ctx, namespace, selector)
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues(namespace, string(action), metrics.StatusAborted).Inc()
		if !workload.IsUnavailable(err) {
			err = workload.Wrap(workload.ErrUnavailable, err)
		}
		return nil, err
	}
	log.Infow("Discovered deployments", zap.Int("count", len(deploys)), zap.Stringer("selector", selectorOrEverything(selector)))

	outcomes := make([]Outcome, len(deploys))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.options.workers)
	for i := range deploys {
		deploy := &deploys[i]
		if gCtx.Err() != nil {
			outcomes[i] = skipped(gCtx, deploy, action)
			continue
		}
		g.Go(func() error {
			if gCtx.Err() != nil {
				outcomes[i] = skipped(gCtx, deploy, action)
				return nil
			}
			outcomes[i] = r.reconcileOne(gCtx, deploy, action)
			if workload.IsUnavailable(outcomes[i].Err) {
				return outcomes[i].Err
			}
			return nil
		})
	}
	fatal := g.Wait()

	for _, o := range outcomes {
		metrics.WorkloadsReconciled.WithLabelValues(namespace, string(action), o.Result()).Inc()
	}
	switch {
	case fatal != nil:
		metrics.ReconcileRuns.WithLabelValues(namespace, string(action), metrics.StatusAborted).Inc()
		log.Errorw("Reconciliation aborted", zap.Error(fatal))
		return outcomes, fmt.Errorf("reconciliation aborted, %w", fatal)
	case Errors(outcomes) != nil:
		metrics.ReconcileRuns.WithLabelValues(namespace, string(action), metrics.StatusFailed).Inc()
	default:
		metrics.ReconcileRuns.WithLabelValues(namespace, string(action), metrics.StatusSucceeded).Inc()
	}
	return outcomes, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, deploy *appsv1.Deployment, action Action) Outcome {
	log := logging.FromContext(ctx).With("deployment", deploy.Name)
	o := Outcome{
		Namespace:       deploy.Namespace,
		Name:            deploy.Name,
		Action:          action,
		CurrentReplicas: ptr.Deref(deploy.Spec.Replicas, 0),
	}
	d, err := Decide(deploy, action)
	if err != nil {
		log.Errorw("Failed to decide target replicas, skipped", zap.Error(err))
		o.Err = err
		return o
	}
	o.Decision = d
	// A started patch runs to completion; cancellation is only honoured between workloads.
	if _, err := r.patcher.Apply(context.WithoutCancel(ctx), deploy.Namespace, deploy.Name, d); err != nil {
		o.Err = err
		if workload.IsNotFound(err) {
			log.Infow("Deployment no longer exists, skipped")
		} else {
			log.Errorw("Failed to patch deployment", zap.Error(err))
		}
		return o
	}
	o.Applied = true
	if d.MustUpdateSpec {
		log.Infow("Scaled deployment", zap.Int32("from", o.CurrentReplicas), zap.Uint32("to", d.TargetReplicas),
			zap.Int32("remembered", d.RememberedReplicas), zap.Bool("dryRun", r.options.dryRun))
	} else {
		log.Infow("No remembered replicas, annotation asserted only", zap.Bool("dryRun", r.options.dryRun))
	}
	return o
}

func skipped(ctx context.Context, deploy *appsv1.Deployment, action Action) Outcome {
	return Outcome{
		Namespace:       deploy.Namespace,
		Name:            deploy.Name,
		Action:          action,
		CurrentReplicas: ptr.Deref(deploy.Spec.Replicas, 0),
		Err:             fmt.Errorf("%w: %w", ErrSkipped, ctx.Err()),
	}
}

func selectorOrEverything(selector labels.Selector) labels.Selector {
	if selector == nil {
		return labels.Everything()
	}
	return selector
}
