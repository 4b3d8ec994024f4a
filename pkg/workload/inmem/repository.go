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

/*
Package inmem implements the workload repository backed by an in memory map.

Apply documents are merged the way the API server applies them for the two
fields the reconciler manages: metadata annotations and spec.replicas. Field
ownership is tracked per field manager, an apply conflicting with another
manager fails unless forced, and annotations owned by a manager but missing from
its next document are removed. Released spec.replicas owned by no other manager
is reset to the API server default of 1.

Patch fails with the context error when the context is done before the document
is stored, the way a request in flight is aborted.
*/
package inmem

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"
	appsv1ac "k8s.io/client-go/applyconfigurations/apps/v1"
	"k8s.io/utils/ptr"

	"github.com/bal-io/boink/pkg/workload"
)

const (
	fieldReplicas          = "spec.replicas"
	fieldAnnotationsPrefix = "metadata.annotations/"

	defaultReplicas int32 = 1
)

// Patch is a document submitted to the repository.
type Patch struct {
	Namespace string
	Name      string
	Document  []byte
	Options   workload.PatchOptions
}

type entry struct {
	deploy *appsv1.Deployment
	// field path -> field manager
	owners map[string]string
}

// Repository is an in memory workload.Repository, safe for concurrent use.
type Repository struct {
	lock        sync.RWMutex
	entries     map[types.NamespacedName]*entry
	patches     []Patch
	listErr     error
	patchErrs   map[types.NamespacedName]error
	beforePatch func(namespace, name string)
}

var _ workload.Repository = (*Repository)(nil)

// NewRepository returns a repository seeded with the deployments. Their fields
// are not owned by any manager.
func NewRepository(deploys ...*appsv1.Deployment) *Repository {
	r := &Repository{
		entries:   make(map[types.NamespacedName]*entry),
		patchErrs: make(map[types.NamespacedName]error),
	}
	for _, d := range deploys {
		r.Add(d, "")
	}
	return r
}

// Add stores a copy of the deployment, its replicas and annotations owned by the manager.
func (r *Repository) Add(deploy *appsv1.Deployment, manager string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	e := &entry{deploy: deploy.DeepCopy(), owners: make(map[string]string)}
	if manager != "" {
		if deploy.Spec.Replicas != nil {
			e.owners[fieldReplicas] = manager
		}
		for k := range deploy.Annotations {
			e.owners[fieldAnnotationsPrefix+k] = manager
		}
	}
	r.entries[types.NamespacedName{Namespace: deploy.Namespace, Name: deploy.Name}] = e
}

// Delete removes the deployment.
func (r *Repository) Delete(namespace, name string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.entries, types.NamespacedName{Namespace: namespace, Name: name})
}

// Get returns a copy of the stored deployment.
func (r *Repository) Get(namespace, name string) (*appsv1.Deployment, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	e, ok := r.entries[types.NamespacedName{Namespace: namespace, Name: name}]
	if !ok {
		return nil, false
	}
	return e.deploy.DeepCopy(), true
}

// Owner returns the field manager of a field path, e.g. "spec.replicas".
func (r *Repository) Owner(namespace, name, field string) string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if e, ok := r.entries[types.NamespacedName{Namespace: namespace, Name: name}]; ok {
		return e.owners[field]
	}
	return ""
}

// Patches returns the documents submitted so far, in submission order.
func (r *Repository) Patches() []Patch {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return append([]Patch(nil), r.patches...)
}

// FailList makes List return the error.
func (r *Repository) FailList(err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.listErr = err
}

// FailPatch makes Patch of the named deployment return the error.
func (r *Repository) FailPatch(namespace, name string, err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.patchErrs[types.NamespacedName{Namespace: namespace, Name: name}] = err
}

// BeforePatch registers a hook invoked before each patch is applied, outside the lock.
func (r *Repository) BeforePatch(fn func(namespace, name string)) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.beforePatch = fn
}

func (r *Repository) List(_ context.Context, namespace string, selector labels.Selector) ([]appsv1.Deployment, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	if selector == nil {
		selector = labels.Everything()
	}
	var result []appsv1.Deployment
	for key, e := range r.entries {
		if key.Namespace != namespace || !selector.Matches(labels.Set(e.deploy.Labels)) {
			continue
		}
		result = append(result, *e.deploy.DeepCopy())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (r *Repository) Patch(ctx context.Context, namespace, name string, document []byte, opts workload.PatchOptions) (*appsv1.Deployment, error) {
	r.lock.RLock()
	hook := r.beforePatch
	r.lock.RUnlock()
	if hook != nil {
		hook(namespace, name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	key := types.NamespacedName{Namespace: namespace, Name: name}
	r.patches = append(r.patches, Patch{Namespace: namespace, Name: name, Document: append([]byte(nil), document...), Options: opts})
	if err := r.patchErrs[key]; err != nil {
		return nil, err
	}
	if opts.FieldManager == "" {
		return nil, workload.Wrap(workload.ErrInvalid, fmt.Errorf("field manager is required for apply patch"))
	}
	ac := &appsv1ac.DeploymentApplyConfiguration{}
	if err := json.Unmarshal(document, ac); err != nil {
		return nil, workload.Wrap(workload.ErrInvalid, fmt.Errorf("failed to decode apply document, %w", err))
	}
	if ptr.Deref(ac.APIVersion, "") != "apps/v1" || ptr.Deref(ac.Kind, "") != "Deployment" {
		return nil, workload.Wrap(workload.ErrInvalid, fmt.Errorf("apply document must be an apps/v1 Deployment"))
	}
	if ac.ObjectMetaApplyConfiguration == nil || ptr.Deref(ac.Name, "") != name || ptr.Deref(ac.Namespace, namespace) != namespace {
		return nil, workload.Wrap(workload.ErrInvalid, fmt.Errorf("apply document does not name %s/%s", namespace, name))
	}
	e, ok := r.entries[key]
	if !ok {
		return nil, workload.Wrap(workload.ErrNotFound, fmt.Errorf("deployments.apps %q not found", name))
	}

	declared := map[string]string{}
	for k, v := range ac.Annotations {
		declared[fieldAnnotationsPrefix+k] = v
	}
	if ac.Spec != nil && ac.Spec.Replicas != nil {
		if *ac.Spec.Replicas < 0 {
			return nil, workload.Wrap(workload.ErrInvalid, fmt.Errorf("spec.replicas: must be greater than or equal to 0"))
		}
		declared[fieldReplicas] = fmt.Sprint(*ac.Spec.Replicas)
	}

	if !opts.Force {
		for field, value := range declared {
			owner := e.owners[field]
			if owner != "" && owner != opts.FieldManager && currentValue(e.deploy, field) != value {
				return nil, workload.Wrap(workload.ErrConflict, fmt.Errorf("conflict with %q: %s", owner, field))
			}
		}
	}

	next := e.deploy.DeepCopy()
	owners := make(map[string]string, len(e.owners))
	for field, owner := range e.owners {
		if owner != opts.FieldManager {
			owners[field] = owner
			continue
		}
		if _, ok := declared[field]; ok {
			continue
		}
		if k, isAnnotation := annotationKey(field); isAnnotation {
			delete(next.Annotations, k)
		} else if field == fieldReplicas {
			next.Spec.Replicas = ptr.To(defaultReplicas)
		}
	}
	for field := range declared {
		owners[field] = opts.FieldManager
	}
	for k, v := range ac.Annotations {
		if next.Annotations == nil {
			next.Annotations = map[string]string{}
		}
		next.Annotations[k] = v
	}
	if ac.Spec != nil && ac.Spec.Replicas != nil {
		next.Spec.Replicas = ptr.To(*ac.Spec.Replicas)
	}

	if opts.DryRun {
		return next, nil
	}
	e.deploy = next
	e.owners = owners
	return next.DeepCopy(), nil
}

func annotationKey(field string) (string, bool) {
	if len(field) > len(fieldAnnotationsPrefix) && field[:len(fieldAnnotationsPrefix)] == fieldAnnotationsPrefix {
		return field[len(fieldAnnotationsPrefix):], true
	}
	return "", false
}

func currentValue(deploy *appsv1.Deployment, field string) string {
	if k, ok := annotationKey(field); ok {
		return deploy.Annotations[k]
	}
	if field == fieldReplicas && deploy.Spec.Replicas != nil {
		return fmt.Sprint(*deploy.Spec.Replicas)
	}
	return ""
}
