// Package query implements the tag query command.
package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/tphakala/birdtag/internal/conf"
	"github.com/tphakala/birdtag/internal/datastore"
	"github.com/tphakala/birdtag/internal/query"
)

// Command creates the query command, which searches media by tag predicates.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		tagFlags []string
		fileType string
		any      bool
		pageSize int
		token    string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Search media by species tags",
		Long: `Searches media records by species tag predicates. Each --tag takes
"name" or "name:minimum-confidence"; multiple predicates combine with AND
unless --any is given. Pass the printed continuation token back via --token
to fetch the next page.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			predicates, err := parsePredicates(tagFlags)
			if err != nil {
				return err
			}

			combinator := query.CombinatorAll
			if any {
				combinator = query.CombinatorAny
			}

			store := datastore.New(settings)
			if store == nil {
				return fmt.Errorf("no database output enabled in configuration")
			}
			if err := store.Open(); err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			engine := query.NewEngine(store, &settings.Query, nil)
			result, err := engine.Query(cmd.Context(), &query.Request{
				Predicates: predicates,
				FileType:   fileType,
				Combinator: combinator,
				PageSize:   pageSize,
				Token:      token,
			})
			if err != nil {
				return err
			}

			printResult(cmd, result)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&tagFlags, "tag", "t", nil, `Tag predicate, "name" or "name:minconf" (repeatable)`)
	cmd.Flags().StringVar(&fileType, "type", "", "Filter by file type: image, video or audio")
	cmd.Flags().BoolVar(&any, "any", false, "Match any predicate instead of all")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Results per page (0 for the configured default)")
	cmd.Flags().StringVar(&token, "token", "", "Continuation token from a previous page")

	return cmd
}

// parsePredicates converts "name" or "name:minconf" flags into predicates.
func parsePredicates(flags []string) ([]query.Predicate, error) {
	predicates := make([]query.Predicate, 0, len(flags))
	for _, flag := range flags {
		name := flag
		minConfidence := 0.0

		// Split on the last colon so tag names may contain colons
		if idx := strings.LastIndex(flag, ":"); idx >= 0 {
			value, err := strconv.ParseFloat(flag[idx+1:], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid tag predicate %q: confidence must be a number", flag)
			}
			name = flag[:idx]
			minConfidence = value
		}

		predicates = append(predicates, query.Predicate{
			TagName:       name,
			MinConfidence: minConfidence,
		})
	}
	return predicates, nil
}

func printResult(cmd *cobra.Command, result *query.Result) {
	if len(result.Items) == 0 {
		cmd.Println("no matches")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"ID", "Type", "Reference", "Matched Tags"})
	for i := range result.Items {
		item := &result.Items[i]
		t.AppendRow(table.Row{item.ID, item.FileType, item.DisplayRef(), formatTags(item.MatchedTags)})
	}
	t.Render()

	if result.NextToken != "" {
		cmd.Printf("\nnext page: --token %s\n", result.NextToken)
	}
}

func formatTags(tags map[string]float64) string {
	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s (%.2f)", name, tags[name]))
	}
	return strings.Join(parts, ", ")
}
