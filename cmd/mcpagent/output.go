package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mcpagent/internal/app"
	"mcpagent/internal/domain"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func validateOutputFlag(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("invalid --output %q: must be text, json or yaml", format)
	}
}

func writeJSON(w io.Writer, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// writeYAML goes through JSON first so both formats share field names and
// raw JSON payloads render as structures.
func writeYAML(w io.Writer, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(generic); err != nil {
		return err
	}
	return encoder.Close()
}

func writeStructured(w io.Writer, value any, format string) (bool, error) {
	switch format {
	case outputJSON:
		return true, writeJSON(w, value)
	case outputYAML:
		return true, writeYAML(w, value)
	}
	return false, nil
}

func verdictLabel(output domain.TargetOutput) string {
	switch {
	case output.Success == nil:
		return "[UNKNOWN]"
	case *output.Success:
		return "[SUCCESS]"
	default:
		return "[FAIL]"
	}
}

func printRunReport(w io.Writer, report app.RunReport, format string) error {
	if handled, err := writeStructured(w, report, format); handled {
		return err
	}

	fmt.Fprintf(w, "run=%s attempts=%d duration=%s\n", report.RunID, report.Attempts,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	if report.Result == nil {
		fmt.Fprintf(w, "[NO RESULT] %s\n", report.LastError)
		return nil
	}
	fmt.Fprintf(w, "server=%s\n", report.Result.ServerID)
	for _, target := range report.Targets {
		output, ok := report.Result.Outputs[target]
		if !ok {
			fmt.Fprintf(w, "[NO RESULT] %s\n", target)
			continue
		}
		line := fmt.Sprintf("%s %s", verdictLabel(output), target)
		if output.VerdictText != "" {
			line += fmt.Sprintf(" verdict=%q", output.VerdictText)
		}
		if output.ClickMethod != "" {
			line += " click=" + string(output.ClickMethod)
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func printValidation(w io.Writer, path string, cfg domain.AgentConfig, format string) error {
	ids := make([]string, 0, len(cfg.Servers))
	for _, server := range cfg.Servers {
		ids = append(ids, server.ID)
	}
	summary := map[string]any{
		"config":  path,
		"valid":   true,
		"servers": ids,
		"targets": cfg.Targets,
		"ranking": cfg.Ranking.Provider,
	}
	if handled, err := writeStructured(w, summary, format); handled {
		return err
	}
	fmt.Fprintf(w, "%s: ok (servers=%d targets=%d ranking=%s)\n", path, len(ids), len(cfg.Targets), cfg.Ranking.Provider)
	if len(ids) > 0 {
		fmt.Fprintf(w, "servers: %s\n", strings.Join(ids, ", "))
	}
	return nil
}

func printTools(w io.Writer, report app.ToolsReport, format string) error {
	if handled, err := writeStructured(w, report, format); handled {
		return err
	}
	fmt.Fprintf(w, "server=%s tools=%d\n", report.ServerID, len(report.Tools))
	for _, tool := range report.Tools {
		if tool.Description == "" {
			fmt.Fprintln(w, tool.Name)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", tool.Name, tool.Description)
	}
	return nil
}

func printHistory(w io.Writer, report app.HistoryReport, format string) error {
	if handled, err := writeStructured(w, report, format); handled {
		return err
	}
	stats := report.Stats
	fmt.Fprintf(w, "history=%s runs=%d passed=%d failed=%d\n", report.Path, stats.Runs, stats.Passed, stats.Failed)
	for _, entry := range report.Entries {
		label := "[FAIL]"
		if entry.Success {
			label = "[SUCCESS]"
		}
		detail := entry.ServerID
		if !entry.Success {
			detail = entry.LastError
		}
		fmt.Fprintf(w, "%s #%d %s %s attempts=%d %s\n", label, entry.Seq, entry.FinishedAt.Format(time.RFC3339), entry.RunID, entry.Attempts, detail)
	}
	return nil
}
