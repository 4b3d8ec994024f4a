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
	"encoding/json"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	appsv1ac "k8s.io/client-go/applyconfigurations/apps/v1"

	"github.com/bal-io/boink/pkg/workload"
)

const (
	// FieldManager is the server-side apply identity of documents declaring
	// spec.replicas along with the target replicas annotation.
	FieldManager = "boink"
	// MemoryFieldManager submits the metadata-only documents. An apply omitting
	// a field releases it from its manager, so writing only the annotation as
	// FieldManager would drop spec.replicas back to the server default.
	MemoryFieldManager = "boink-memory"
)

// FieldManagerOf returns the identity a decision is submitted under.
func FieldManagerOf(d Decision) string {
	if d.MustUpdateSpec {
		return FieldManager
	}
	return MemoryFieldManager
}

// BuildPatch returns the apply document of a decision. It declares the target
// replicas annotation and, when the spec has to change, spec.replicas. Nothing
// else of the deployment is mentioned.
func BuildPatch(namespace, name string, d Decision) *appsv1ac.DeploymentApplyConfiguration {
	ac := appsv1ac.Deployment(name, namespace).
		WithAnnotations(map[string]string{
			TargetReplicasAnnotation: EncodeTargetReplicas(uint32(d.RememberedReplicas)),
		})
	if d.MustUpdateSpec {
		ac.WithSpec(appsv1ac.DeploymentSpec().WithReplicas(int32(d.TargetReplicas)))
	}
	return ac
}

// Patcher submits decisions as forced server-side apply patches.
type Patcher struct {
	repo   workload.Repository
	dryRun bool
}

func NewPatcher(repo workload.Repository, dryRun bool) *Patcher {
	return &Patcher{repo: repo, dryRun: dryRun}
}

// Apply submits the decision for the named deployment.
func (p *Patcher) Apply(ctx context.Context, namespace, name string, d Decision) (*appsv1.Deployment, error) {
	document, err := json.Marshal(BuildPatch(namespace, name, d))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal apply document of deployment %s/%s, %w", namespace, name, err)
	}
	return p.repo.Patch(ctx, namespace, name, document, workload.PatchOptions{
		FieldManager: FieldManagerOf(d),
		Force:        true,
		DryRun:       p.dryRun,
	})
}
