package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/isq/internal/authz"
	"github.com/joescharf/isq/internal/response"
)

var (
	searchAs   string
	searchJSON bool
)

var searchCmd = &cobra.Command{
	Use:   "search [param=value ...]",
	Short: "Search issues",
	Long: `Search issues with the same parameters as GET /api/issues/search.

Values are taken literally, without URL decoding. Lists are comma separated.

Examples:
  isq search statuses=OPEN,REOPENED severities=BLOCKER facets=rules,assignees
  isq search componentRoots=sample createdInLast=1m2w ps=20 --as john
  isq search assigned=false sort=SEVERITY asc=false --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseSearchArgs(args)
		if err != nil {
			return err
		}
		return searchRun(cmd.Context(), params)
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchAs, "as", "", "Login to search as (anonymous when empty)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Print the JSON response instead of a table")
	rootCmd.AddCommand(searchCmd)
}

// parseSearchArgs turns param=value arguments into query parameters.
func parseSearchArgs(args []string) (url.Values, error) {
	params := url.Values{}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q: expected param=value", arg)
		}
		params.Add(key, value)
	}
	return params, nil
}

func searchRun(ctx context.Context, params url.Values) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := getEngine(ctx)
	if err != nil {
		return err
	}
	r, err := getReader(ctx)
	if err != nil {
		return err
	}
	caller, err := authz.LoadCaller(ctx, r, strings.TrimSpace(searchAs))
	if err != nil {
		return err
	}

	ui.VerboseLog("Searching as %q with %s", caller.Login, params.Encode())
	res, err := e.Search(ctx, caller, params)
	if err != nil {
		return err
	}
	payload := response.Compose(res)

	if searchJSON {
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}
	return ui.SearchResult(payload)
}
