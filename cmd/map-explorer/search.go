package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/executor"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/results"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/session"
)

// filterFlags applies only the flags the user set, so omitted ones keep the
// session defaults.
type filterFlags struct {
	start, end  int
	lat, lng    float64
	collections []string
	creator     string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.IntVar(&f.start, "start", 0, "first year of the period")
	fl.IntVar(&f.end, "end", 0, "last year of the period")
	fl.Float64Var(&f.lat, "lat", 0, "latitude of the point maps must cover")
	fl.Float64Var(&f.lng, "lng", 0, "longitude of the point maps must cover")
	fl.StringArrayVar(&f.collections, "collection", nil, "restrict to a collection (repeatable)")
	fl.StringVar(&f.creator, "creator", "", "case-insensitive creator pattern")
}

func (f *filterFlags) apply(cmd *cobra.Command, c *session.Coordinator) error {
	fl := cmd.Flags()
	if fl.Changed("end") {
		c.SetPeriodEnd(f.end)
	}
	if fl.Changed("start") {
		c.SetPeriodStart(f.start)
	}
	if fl.Changed("lat") || fl.Changed("lng") {
		cur := c.State().Coordinates
		lat, lng := cur.Lat, cur.Lng
		if fl.Changed("lat") {
			lat = f.lat
		}
		if fl.Changed("lng") {
			lng = f.lng
		}
		if _, err := c.SetCoordinates(lat, lng); err != nil {
			return err
		}
	}
	if fl.Changed("collection") {
		c.SetCollections(f.collections)
	}
	if fl.Changed("creator") {
		c.SetCreator(f.creator)
	}
	return nil
}

// textPreview keeps the latest preview for printing once flags are applied
type textPreview struct {
	last session.Preview
}

func (p *textPreview) Mount(v session.Preview)  { p.last = v }
func (p *textPreview) Update(v session.Preview) { p.last = v }

func (p *textPreview) print(w io.Writer) {
	fmt.Fprintln(w, p.last.Query)
	if p.last.DebugLink != "" {
		fmt.Fprintf(w, "\n# open in editor:\n# %s\n", p.last.DebugLink)
	}
}

// textResults prints the final snapshot of a run as a table
type textResults struct {
	w io.Writer
}

func (v textResults) Render(s results.Snapshot) {
	if s.State != results.Ran || s.InFlight > 0 {
		return
	}
	if s.Empty() {
		fmt.Fprintln(v.w, "no maps found")
		return
	}
	tw := tabwriter.NewWriter(v.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "YEAR\tKM2\tTITLE\tCREATOR\tCOLLECTION\tMAP")
	for _, m := range s.Results {
		fmt.Fprintf(tw, "%d\t%.3f\t%s\t%s\t%s\t%s\n",
			m.BeginYear, m.AreaKm2, m.Title, m.CreatorLabel, m.ProvenanceLabel, m.MapURI)
	}
	_ = tw.Flush()
}

func (a *app) newSession(exec executor.Interface, preview session.QueryPreview, view session.ResultsView) *session.Coordinator {
	return session.New(session.Deps{
		ID:             "cli",
		Logger:         a.logger,
		Bounds:         a.bounds(),
		Center:         a.center(),
		Executor:       exec,
		Endpoint:       a.cfg.SPARQLEndpoint,
		DebugBase:      a.cfg.SPARQLDebugURL,
		ExecuteTimeout: a.cfg.ExecuteTimeout,
		Preview:        preview,
		Results:        view,
	})
}

func newQueryCmd(a *app) *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print the SPARQL query for a filter without running it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			preview := &textPreview{}
			c := a.newSession(nil, preview, nil)
			c.Start(cmd.Context())
			defer c.Close()
			if err := ff.apply(cmd, c); err != nil {
				return err
			}
			preview.print(cmd.OutOrStdout())
			return nil
		},
	}
	ff.register(cmd)
	return cmd
}

func newRunCmd(a *app) *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a map search and print the results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			exec, err := a.executor()
			if err != nil {
				return err
			}
			c := a.newSession(exec, nil, textResults{w: cmd.OutOrStdout()})
			c.Start(cmd.Context())
			defer c.Close()
			if err := ff.apply(cmd, c); err != nil {
				return err
			}
			if _, err := c.Execute(cmd.Context()); err != nil {
				return fmt.Errorf("map search: %w", err)
			}
			return nil
		},
	}
	ff.register(cmd)
	return cmd
}

func newCollectionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List the collections maps can be filtered by",
		RunE: func(cmd *cobra.Command, _ []string) error {
			exec, err := a.executor()
			if err != nil {
				return err
			}
			c := a.newSession(exec, nil, nil)
			cols, err := c.Collections(cmd.Context())
			if err != nil {
				return fmt.Errorf("collections: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "COUNT\tCOLLECTION")
			for _, col := range cols {
				fmt.Fprintf(tw, "%d\t%s\n", col.Count, col.Provenance)
			}
			return tw.Flush()
		},
	}
}
