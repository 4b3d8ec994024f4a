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

package metrics

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bal-io/boink/pkg/shared/logging"
	sharedtls "github.com/bal-io/boink/pkg/shared/tls"
)

// metricsServer runs an HTTP server exposing metrics and health endpoints.
type metricsServer struct {
	addr string
	// Functions that the readiness check executes
	readyCheckExecutors []func() error
	// Serve HTTPS with a self signed certificate for these hosts when set.
	tlsHosts []string
	secure   bool
}

type Option func(*metricsServer)

// WithReadyCheckExecutor adds a function executed by /readyz.
func WithReadyCheckExecutor(f func() error) Option {
	return func(m *metricsServer) {
		m.readyCheckExecutors = append(m.readyCheckExecutors, f)
	}
}

// WithTLS serves the endpoints over HTTPS with a self signed certificate.
func WithTLS(hosts ...string) Option {
	return func(m *metricsServer) {
		m.secure = true
		m.tlsHosts = hosts
	}
}

func NewMetricsServer(addr string, opts ...Option) *metricsServer {
	m := &metricsServer{addr: addr}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (ms *metricsServer) handler(ctx context.Context) http.Handler {
	log := logging.FromContext(ctx)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		for _, ex := range ms.readyCheckExecutors {
			if err := ex(); err != nil {
				log.Errorw("Failed to execute readiness check", zap.Error(err))
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if os.Getenv(logging.EnvDebug) == "true" {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// Start starts the HTTP server, it returns a shutdown function.
func (ms *metricsServer) Start(ctx context.Context) func(ctx context.Context) error {
	log := logging.FromContext(ctx)
	httpServer := &http.Server{
		Addr:              ms.addr,
		Handler:           ms.handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if ms.secure {
		cfg, err := ms.tlsConfig()
		if err != nil {
			log.Errorw("Failed to generate metrics server certificate", zap.Error(err))
			return httpServer.Shutdown
		}
		httpServer.TLSConfig = cfg
	}
	go func() {
		log.Infow("Starting metrics server", zap.String("address", ms.addr), zap.Bool("secure", ms.secure))
		var err error
		if ms.secure {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Errorw("Failed to listen-and-serve metrics", zap.Error(err))
		}
		log.Info("Metrics server shutdown")
	}()
	return httpServer.Shutdown
}

func (ms *metricsServer) tlsConfig() (*tls.Config, error) {
	cer, err := sharedtls.GenerateX509KeyPair(ms.tlsHosts...)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{*cer}, MinVersion: tls.VersionTLS12}, nil
}
