package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/stevehiehn/stepwise/internal/action"
	"github.com/stevehiehn/stepwise/internal/engine"
)

// parseInputs converts ["key=value", ...] to a map. Values are decoded as
// YAML scalars so numbers and booleans keep their type.
func parseInputs(raw []string) (map[string]any, error) {
	m := map[string]any{}
	for _, kv := range raw {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q: expected key=value", kv)
		}
		var v any
		if err := yaml.Unmarshal([]byte(val), &v); err != nil || v == nil {
			v = val
		}
		m[key] = v
	}
	return m, nil
}

// registryFor builds a registry from the named families; none means all.
func registryFor(names []string) (*action.Registry, error) {
	if len(names) == 0 {
		return action.Default(), nil
	}
	var fams []action.Family
	for _, n := range names {
		f, ok := action.FamilyByName(n)
		if !ok {
			return nil, fmt.Errorf("unknown operation family %q", n)
		}
		fams = append(fams, f)
	}
	return action.NewScoped(fams...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSteps(w io.Writer, steps []engine.StepRecord) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "ID", "Op", "Status", "Elapsed", "Error"})
	table.SetAutoWrapText(false)
	for _, s := range steps {
		msg := ""
		if s.Error != nil {
			msg = s.Error.Type + ": " + s.Error.Message
		}
		table.Append([]string{
			fmt.Sprint(s.Index), s.ID, s.Op, string(s.Status), s.Elapsed.String(), msg,
		})
	}
	table.Render()
}

func printHistory(w io.Writer, h *engine.History) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(h.Columns)
	table.SetAutoWrapText(false)
	for _, row := range h.Table() {
		vals := make([]string, len(row))
		for i, v := range row {
			if v != nil {
				vals[i] = fmt.Sprint(v)
			}
		}
		table.Append(vals)
	}
	table.Render()
}
