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

// Package kube implements the workload repository on top of a
// controller-runtime client talking to the Kubernetes API server.
package kube

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"
	utilnet "k8s.io/apimachinery/pkg/util/net"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"

	sharedutil "github.com/bal-io/boink/pkg/shared/util"
	"github.com/bal-io/boink/pkg/workload"
)

type options struct {
	backoff wait.Backoff
}

type Option func(*options)

func defaultOptions() *options {
	return &options{
		backoff: sharedutil.DefaultRetryBackoff,
	}
}

// WithBackoff sets the backoff used to retry transient API failures.
func WithBackoff(b wait.Backoff) Option {
	return func(o *options) {
		o.backoff = b
	}
}

// Repository lists and patches Deployments through the API server.
type Repository struct {
	client  client.Client
	options *options
}

var _ workload.Repository = (*Repository)(nil)

func NewRepository(c client.Client, opts ...Option) *Repository {
	r := &Repository{
		client:  c,
		options: defaultOptions(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r.options)
		}
	}
	return r
}

// NewRepositoryFromConfig builds a client for the rest config using the client-go scheme.
func NewRepositoryFromConfig(config *rest.Config, opts ...Option) (*Repository, error) {
	c, err := client.New(config, client.Options{})
	if err != nil {
		return nil, workload.Wrap(workload.ErrUnavailable, fmt.Errorf("failed to create a kubernetes client, %w", err))
	}
	return NewRepository(c, opts...), nil
}

func (r *Repository) List(ctx context.Context, namespace string, selector labels.Selector) ([]appsv1.Deployment, error) {
	listOpts := []client.ListOption{client.InNamespace(namespace)}
	if selector != nil && !selector.Empty() {
		listOpts = append(listOpts, client.MatchingLabelsSelector{Selector: selector})
	}
	list := &appsv1.DeploymentList{}
	err := retry.OnError(r.options.backoff, isTransient, func() error {
		return r.client.List(ctx, list, listOpts...)
	})
	if err != nil {
		// Discovery failing leaves nothing safe to patch.
		return nil, workload.Wrap(workload.ErrUnavailable, fmt.Errorf("failed to list deployments in namespace %q, %w", namespace, err))
	}
	return list.Items, nil
}

func (r *Repository) Patch(ctx context.Context, namespace, name string, document []byte, opts workload.PatchOptions) (*appsv1.Deployment, error) {
	patchOpts := []client.PatchOption{client.FieldOwner(opts.FieldManager)}
	if opts.Force {
		patchOpts = append(patchOpts, client.ForceOwnership)
	}
	if opts.DryRun {
		patchOpts = append(patchOpts, client.DryRunAll)
	}
	deploy := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: namespace,
			Name:      name,
		},
	}
	err := retry.OnError(r.options.backoff, isTransient, func() error {
		return r.client.Patch(ctx, deploy, client.RawPatch(types.ApplyPatchType, document), patchOpts...)
	})
	if err != nil {
		return nil, classify(fmt.Errorf("failed to patch deployment %s/%s, %w", namespace, name, err))
	}
	return deploy, nil
}

func isTransient(err error) bool {
	return apierrors.IsServerTimeout(err) || apierrors.IsTimeout(err) ||
		apierrors.IsTooManyRequests(err) || apierrors.IsServiceUnavailable(err)
}

// classify maps API machinery errors onto the repository sentinels.
func classify(err error) error {
	switch {
	case apierrors.IsNotFound(err):
		return workload.Wrap(workload.ErrNotFound, err)
	case apierrors.IsConflict(err):
		return workload.Wrap(workload.ErrConflict, err)
	case apierrors.IsInvalid(err), apierrors.IsBadRequest(err), apierrors.IsUnsupportedMediaType(err):
		return workload.Wrap(workload.ErrInvalid, err)
	case apierrors.IsUnauthorized(err), apierrors.IsForbidden(err), isTransient(err), isTransportFailure(err):
		// Transient errors reaching here have exhausted their retries.
		return workload.Wrap(workload.ErrUnavailable, err)
	default:
		return err
	}
}

// isTransportFailure reports errors raised before the API server answered:
// dial, DNS, TLS and timeouts of the round trip.
func isTransportFailure(err error) bool {
	var (
		urlErr       *url.Error
		netErr       net.Error
		authorityErr x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidErr   x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &urlErr), errors.As(err, &netErr),
		errors.As(err, &authorityErr), errors.As(err, &hostnameErr), errors.As(err, &invalidErr):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case utilnet.IsConnectionRefused(err), utilnet.IsConnectionReset(err), utilnet.IsProbableEOF(err):
		return true
	}
	// Exec credential plugins and proxies flatten dial errors into text.
	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host")
}
