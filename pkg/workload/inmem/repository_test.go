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

package inmem

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/utils/ptr"

	"github.com/bal-io/boink/pkg/workload"
)

const ns = "test-ns"

func fakeDeployment(name string, replicas *int32, lbls, annotations map[string]string) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:   ns,
			Name:        name,
			Labels:      lbls,
			Annotations: annotations,
		},
		Spec: appsv1.DeploymentSpec{Replicas: replicas},
	}
}

func applyDoc(name string, annotations string, replicas string) []byte {
	doc := `{"apiVersion":"apps/v1","kind":"Deployment","metadata":{"name":"` + name + `","namespace":"test-ns"`
	if annotations != "" {
		doc += `,"annotations":` + annotations
	}
	doc += `}`
	if replicas != "" {
		doc += `,"spec":{"replicas":` + replicas + `}`
	}
	return []byte(doc + `}`)
}

var boink = workload.PatchOptions{FieldManager: "boink", Force: true}

func TestRepository_List(t *testing.T) {
	r := NewRepository(
		fakeDeployment("web", ptr.To[int32](1), map[string]string{"app": "web"}, nil),
		fakeDeployment("api", ptr.To[int32](1), map[string]string{"app": "api"}, nil),
	)
	r.Add(&appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Namespace: "other", Name: "db"}}, "")

	deploys, err := r.List(context.TODO(), ns, nil)
	require.NoError(t, err)
	require.Len(t, deploys, 2)
	assert.Equal(t, "api", deploys[0].Name)
	assert.Equal(t, "web", deploys[1].Name)

	deploys, err = r.List(context.TODO(), ns, labels.SelectorFromSet(labels.Set{"app": "web"}))
	require.NoError(t, err)
	require.Len(t, deploys, 1)
	assert.Equal(t, "web", deploys[0].Name)

	r.FailList(workload.Wrap(workload.ErrUnavailable, errors.New("down")))
	_, err = r.List(context.TODO(), ns, nil)
	assert.True(t, workload.IsUnavailable(err))
}

func TestRepository_Patch(t *testing.T) {
	r := NewRepository(fakeDeployment("web", ptr.To[int32](5), nil, map[string]string{"team": "a"}))

	out, err := r.Patch(context.TODO(), ns, "web", applyDoc("web", `{"bal.io/target-replicas":"5"}`, "0"), boink)
	require.NoError(t, err)
	assert.Equal(t, int32(0), *out.Spec.Replicas)
	assert.Equal(t, "5", out.Annotations["bal.io/target-replicas"])
	assert.Equal(t, "a", out.Annotations["team"])
	assert.Equal(t, "boink", r.Owner(ns, "web", "spec.replicas"))
	assert.Equal(t, "boink", r.Owner(ns, "web", "metadata.annotations/bal.io/target-replicas"))
	require.Len(t, r.Patches(), 1)

	t.Run("omitted owned annotation is removed", func(t *testing.T) {
		out, err := r.Patch(context.TODO(), ns, "web", applyDoc("web", "", "5"), boink)
		require.NoError(t, err)
		assert.NotContains(t, out.Annotations, "bal.io/target-replicas")
		assert.Equal(t, "a", out.Annotations["team"])
	})

	t.Run("released replicas fall back to the default", func(t *testing.T) {
		out, err := r.Patch(context.TODO(), ns, "web", applyDoc("web", `{"bal.io/target-replicas":"0"}`, ""), boink)
		require.NoError(t, err)
		assert.Equal(t, int32(1), *out.Spec.Replicas)
		assert.Empty(t, r.Owner(ns, "web", "spec.replicas"))

		_, err = r.Patch(context.TODO(), ns, "web", applyDoc("web", "", "5"), boink)
		require.NoError(t, err)
	})

	t.Run("another manager leaves owned replicas alone", func(t *testing.T) {
		memory := workload.PatchOptions{FieldManager: "boink-memory", Force: true}
		out, err := r.Patch(context.TODO(), ns, "web", applyDoc("web", `{"bal.io/target-replicas":"0"}`, ""), memory)
		require.NoError(t, err)
		assert.Equal(t, int32(5), *out.Spec.Replicas)
		assert.Equal(t, "boink", r.Owner(ns, "web", "spec.replicas"))
		assert.Equal(t, "boink-memory", r.Owner(ns, "web", "metadata.annotations/bal.io/target-replicas"))
	})

	t.Run("dry run does not persist", func(t *testing.T) {
		opts := boink
		opts.DryRun = true
		out, err := r.Patch(context.TODO(), ns, "web", applyDoc("web", "", "9"), opts)
		require.NoError(t, err)
		assert.Equal(t, int32(9), *out.Spec.Replicas)
		stored, ok := r.Get(ns, "web")
		require.True(t, ok)
		assert.Equal(t, int32(5), *stored.Spec.Replicas)
	})
}

func TestRepository_Patch_conflict(t *testing.T) {
	r := NewRepository()
	r.Add(fakeDeployment("web", ptr.To[int32](3), nil, nil), "kubectl")

	_, err := r.Patch(context.TODO(), ns, "web", applyDoc("web", "", "0"), workload.PatchOptions{FieldManager: "boink"})
	assert.ErrorIs(t, err, workload.ErrConflict)

	// Same value is shared, not a conflict.
	_, err = r.Patch(context.TODO(), ns, "web", applyDoc("web", "", "3"), workload.PatchOptions{FieldManager: "boink"})
	assert.NoError(t, err)

	out, err := r.Patch(context.TODO(), ns, "web", applyDoc("web", "", "0"), boink)
	require.NoError(t, err)
	assert.Equal(t, int32(0), *out.Spec.Replicas)
	assert.Equal(t, "boink", r.Owner(ns, "web", "spec.replicas"))
}

func TestRepository_Patch_errors(t *testing.T) {
	r := NewRepository(fakeDeployment("web", nil, nil, nil))

	_, err := r.Patch(context.TODO(), ns, "gone", applyDoc("gone", "", "0"), boink)
	assert.True(t, workload.IsNotFound(err))

	_, err = r.Patch(context.TODO(), ns, "web", applyDoc("api", "", "0"), boink)
	assert.ErrorIs(t, err, workload.ErrInvalid)

	_, err = r.Patch(context.TODO(), ns, "web", []byte(`{"metadata":{"name":"web"}}`), boink)
	assert.ErrorIs(t, err, workload.ErrInvalid)

	_, err = r.Patch(context.TODO(), ns, "web", applyDoc("web", "", "-1"), boink)
	assert.ErrorIs(t, err, workload.ErrInvalid)

	_, err = r.Patch(context.TODO(), ns, "web", applyDoc("web", "", "1"), workload.PatchOptions{})
	assert.ErrorIs(t, err, workload.ErrInvalid)

	_, err = r.Patch(context.TODO(), ns, "web", []byte(`not json`), boink)
	assert.ErrorIs(t, err, workload.ErrInvalid)

	injected := workload.Wrap(workload.ErrConflict, errors.New("injected"))
	r.FailPatch(ns, "web", injected)
	_, err = r.Patch(context.TODO(), ns, "web", applyDoc("web", "", "1"), boink)
	assert.ErrorIs(t, err, injected)
}

func TestRepository_BeforePatch(t *testing.T) {
	r := NewRepository(fakeDeployment("web", ptr.To[int32](2), nil, nil))
	r.BeforePatch(func(namespace, name string) {
		r.Delete(namespace, name)
	})
	_, err := r.Patch(context.TODO(), ns, "web", applyDoc("web", "", "0"), boink)
	assert.True(t, workload.IsNotFound(err))
	_, ok := r.Get(ns, "web")
	assert.False(t, ok)
}

func TestRepository_Patch_contextDone(t *testing.T) {
	r := NewRepository(fakeDeployment("web", ptr.To[int32](2), nil, nil))
	ctx, cancel := context.WithCancel(context.Background())
	r.BeforePatch(func(namespace, name string) { cancel() })

	_, err := r.Patch(ctx, ns, "web", applyDoc("web", "", "0"), boink)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, r.Patches())
	stored, ok := r.Get(ns, "web")
	require.True(t, ok)
	assert.Equal(t, int32(2), *stored.Spec.Replicas)
}
