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
	"os"
	"sync"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
)

const (
	EnvNamespace = "BOINK_NAMESPACE"
	EnvSelector  = "BOINK_SELECTOR"
	EnvWorkers   = "BOINK_WORKERS"
)

// The signal handler can only be set up once per process.
var signalContext = sync.OnceValue(func() context.Context { return ctrl.SetupSignalHandler() })

var rootCmd = &cobra.Command{
	Use:   "boink",
	Short: "Suspend and resume Kubernetes deployments, remembering their replicas",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.AddCommand(NewSuspendCommand())
	rootCmd.AddCommand(NewResumeCommand())
	rootCmd.AddCommand(NewScheduleCommand())
	rootCmd.AddCommand(NewVersionCommand())
}

func Execute() {
	if err := rootCmd.ExecuteContext(signalContext()); err != nil {
		os.Exit(1)
	}
}
