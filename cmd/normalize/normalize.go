package normalize

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/wildwatch/internal/conf"
	"github.com/tphakala/wildwatch/internal/taxonomy"
)

// Result is one normalized label
type Result struct {
	Raw     string `json:"raw"`
	Key     string `json:"key"`
	Display string `json:"display,omitempty"`
	Group   string `json:"group,omitempty"`
	Known   bool   `json:"known"`
}

// Command creates the command that normalizes labels offline
func Command(settings *conf.Settings) *cobra.Command {
	var (
		asJSON  bool
		grouped bool
		topK    int
	)

	cmd := &cobra.Command{
		Use:   "normalize [label...]",
		Short: "Normalize classifier labels",
		Long: `Print the canonical species key, display name and group for each label.
Labels are read from the arguments or, when none are given, one per line from stdin.
With --group the input lines are "label probability" pairs and the ambiguity groups are printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tax, err := loadTaxonomy(settings.Taxonomy.Path)
			if err != nil {
				return err
			}
			lines := args
			if len(lines) == 0 {
				if lines, err = readLines(cmd.InOrStdin()); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if grouped {
				probs, err := parseProbs(lines)
				if err != nil {
					return err
				}
				return write(out, tax.GroupTopK(probs, topK), asJSON, formatGroups)
			}
			return write(out, Labels(tax, lines), asJSON, formatResults)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of text")
	cmd.Flags().BoolVar(&grouped, "group", false, "Group \"label probability\" input into ambiguity groups")
	cmd.Flags().IntVar(&topK, "top", conf.DefaultTopK, "Number of groups to print, 0 prints all")

	return cmd
}

// Labels normalizes every raw label; empty and comment lines are skipped
func Labels(tax *taxonomy.Taxonomy, raw []string) []Result {
	results := make([]Result, 0, len(raw))
	for _, r := range raw {
		key := tax.Normalize(r)
		if key == "" {
			continue
		}
		results = append(results, Result{
			Raw:     r,
			Key:     key,
			Display: tax.Display(key),
			Group:   tax.GroupOf(key),
			Known:   tax.Known(key),
		})
	}
	return results
}

func loadTaxonomy(path string) (*taxonomy.Taxonomy, error) {
	if path == "" {
		return taxonomy.Default()
	}
	return taxonomy.Load(path)
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading labels: %w", err)
	}
	return lines, nil
}

// parseProbs reads "label probability" lines; the probability is the last
// field so labels may contain spaces
func parseProbs(lines []string) ([]taxonomy.LabelProb, error) {
	probs := make([]taxonomy.LabelProb, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.LastIndexAny(line, " \t,")
		if idx <= 0 {
			return nil, fmt.Errorf("line %d: expected \"label probability\"", i+1)
		}
		p, err := strconv.ParseFloat(strings.TrimSpace(line[idx+1:]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid probability: %w", i+1, err)
		}
		probs = append(probs, taxonomy.LabelProb{Label: strings.TrimSpace(line[:idx]), Prob: p})
	}
	return probs, nil
}

func write[T any](w io.Writer, v T, asJSON bool, text func(io.Writer, T)) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w, v)
	return nil
}

func formatResults(w io.Writer, results []Result) {
	for _, r := range results {
		group := r.Group
		if group == "" {
			group = "-"
		}
		display := r.Display
		if display == "" {
			display = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Raw, r.Key, display, group)
	}
}

func formatGroups(w io.Writer, groups []taxonomy.GroupScore) {
	for _, g := range groups {
		display := g.Display
		if display == "" {
			display = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%.4f\n", g.Key, display, g.Aggregate)
		for _, m := range g.Members {
			fmt.Fprintf(w, "  %s\t%.4f\n", m.Label, m.Prob)
		}
	}
}
