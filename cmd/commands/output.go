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
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"sigs.k8s.io/yaml"

	"github.com/bal-io/boink/pkg/scaling"
)

type OutputFormat string

const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputYAML  OutputFormat = "yaml"
	OutputNone  OutputFormat = "none"
)

var outputFormats = []OutputFormat{OutputTable, OutputJSON, OutputYAML, OutputNone}

func parseOutputFormat(s string) (OutputFormat, error) {
	for _, f := range outputFormats {
		if OutputFormat(s) == f {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q, one of %v", s, outputFormats)
}

// workloadReport is the rendered outcome of one deployment.
type workloadReport struct {
	Namespace    string `json:"namespace"`
	Name         string `json:"name"`
	Action       string `json:"action"`
	FromReplicas int32  `json:"fromReplicas"`
	ToReplicas   int32  `json:"toReplicas"`
	// Memory is the target replicas annotation written, set when the patch was applied.
	Memory *int32 `json:"memory,omitempty"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

func newReports(outcomes []scaling.Outcome) []workloadReport {
	reports := make([]workloadReport, 0, len(outcomes))
	for _, o := range outcomes {
		r := workloadReport{
			Namespace:    o.Namespace,
			Name:         o.Name,
			Action:       string(o.Action),
			FromReplicas: o.CurrentReplicas,
			ToReplicas:   o.Replicas(),
			Result:       o.Result(),
		}
		if o.Applied {
			m := o.Decision.RememberedReplicas
			r.Memory = &m
		}
		if o.Err != nil {
			r.Error = o.Err.Error()
		}
		reports = append(reports, r)
	}
	return reports
}

func renderOutcomes(w io.Writer, format OutputFormat, outcomes []scaling.Outcome) error {
	reports := newReports(outcomes)
	switch format {
	case OutputNone:
		return nil
	case OutputTable:
		renderTable(w, reports)
		return nil
	case OutputJSON:
		data, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode outcomes as json, %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case OutputYAML:
		data, err := yaml.Marshal(reports)
		if err != nil {
			return fmt.Errorf("failed to encode outcomes as yaml, %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func renderTable(w io.Writer, reports []workloadReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Namespace", "Deployment", "Action", "From", "To", "Memory", "Result", "Error"})
	for _, r := range reports {
		memory := "-"
		if r.Memory != nil {
			memory = fmt.Sprint(*r.Memory)
		}
		t.AppendRow(table.Row{r.Namespace, r.Name, r.Action, r.FromReplicas, r.ToReplicas, memory, r.Result, r.Error})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, AutoMerge: true},
	})
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
}
