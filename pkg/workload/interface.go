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

// Package workload defines the repository the scaling reconciler reads
// deployments from and submits apply patches to.
package workload

import (
	"context"

	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/labels"
)

// PatchOptions describes how an apply document is submitted.
type PatchOptions struct {
	// FieldManager is the identity owning the fields declared in the document.
	FieldManager string
	// Force takes ownership of fields managed by other actors.
	Force bool
	// DryRun submits the document without persisting it.
	DryRun bool
}

// Repository lists and patches deployment-like workloads.
type Repository interface {
	// List returns the deployments in the namespace matching the selector.
	// A nil selector matches every deployment.
	List(ctx context.Context, namespace string, selector labels.Selector) ([]appsv1.Deployment, error)
	// Patch submits a server-side apply document for the named deployment and
	// returns the deployment as persisted.
	Patch(ctx context.Context, namespace, name string, document []byte, opts PatchOptions) (*appsv1.Deployment, error)
}
