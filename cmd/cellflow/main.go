// Command cellflow ingests a wide-format cell-count CSV into a normalized
// SQLite store and prints analytical reports over it. It is a thin driver:
// all semantics live in internal/store, pkg/ingest, and pkg/analysis.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridianbio/cellflow/internal/store"
	"github.com/meridianbio/cellflow/pkg/analysis"
	"github.com/meridianbio/cellflow/pkg/ingest"
)

var (
	logger *zap.Logger
	dbPath string
)

var rootCmd = &cobra.Command{
	Use:           "cellflow",
	Short:         "Clinical trial cell-count ingestion and analysis",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logger != nil {
			return nil
		}
		config := zap.NewProductionConfig()
		config.Encoding = "console"
		config.DisableStacktrace = true
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <csv>",
	Short: "Replace the store with a normalized copy of the source table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := ingest.NewImporter(logger).Run(args[0], dbPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ingested %d subjects, %d samples, %d cell counts\n",
			res.Subjects, res.Samples, res.CellCounts)
		return nil
	},
}

var frequenciesCmd = &cobra.Command{
	Use:   "frequencies",
	Short: "Print the per-sample relative frequency table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *analysis.Engine) error {
			rows, err := e.BuildFrequencyTable()
			if err != nil {
				return err
			}
			w := newTabWriter(cmd)
			fmt.Fprintln(w, "sample\tpopulation\tcount\ttotal_count\tpercentage")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.4f\n",
					r.SampleID, r.Population, r.Count, r.TotalCount, r.Percentage)
			}
			return w.Flush()
		})
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Mann-Whitney U test per population, responders vs non-responders",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *analysis.Engine) error {
			cohort, err := e.SelectCohort(filterFromFlags(cmd), true)
			if err != nil {
				return err
			}
			results, cmpErr := analysis.CompareGroups(cohort, nil)
			w := newTabWriter(cmd)
			fmt.Fprintln(w, "population\tresponders\tnon_responders\tu_statistic\tp_value\tsignificant")
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%d\t%d\t%.1f\t%.4f\t%t\n",
					r.Population, r.Responders, r.NonResponders, r.UStatistic, r.PValue, r.Significant)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if cmpErr != nil {
				if len(results) == 0 {
					return cmpErr
				}
				logger.Warn("some populations could not be compared", zap.Error(cmpErr))
			}
			return nil
		})
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Aggregate a cohort by project, response, and sex",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *analysis.Engine) error {
			cohort, err := e.SelectCohort(filterFromFlags(cmd), false)
			if err != nil {
				return err
			}
			s := analysis.SummarizeCohort(cohort)
			w := newTabWriter(cmd)
			printCounts(w, "samples_per_project", s.SamplesPerProject)
			printCounts(w, "response_counts", s.ResponseCounts)
			printCounts(w, "sex_counts", s.SexCounts)
			return w.Flush()
		})
	},
}

var avgPopulation string

var avgCmd = &cobra.Command{
	Use:   "avg",
	Short: "Average raw count of one population over a cohort",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *analysis.Engine) error {
			avg, err := e.AverageCountForPopulation(avgPopulation, filterFromFlags(cmd))
			if err != nil {
				return err
			}
			if avg == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no matching samples")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.2f\n", *avg)
			return nil
		})
	},
}

func withEngine(fn func(*analysis.Engine) error) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(analysis.NewEngine(st))
}

func newTabWriter(cmd *cobra.Command) *tabwriter.Writer {
	return tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
}

func printCounts(w *tabwriter.Writer, label string, counts []analysis.GroupCount) {
	fmt.Fprintf(w, "%s\n", label)
	for _, c := range counts {
		fmt.Fprintf(w, "  %s\t%d\n", c.Key, c.Count)
	}
}

// addFilterFlags registers the cohort predicate flags shared by the
// query subcommands.
func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("condition", "", "filter by subject condition (e.g. melanoma)")
	cmd.Flags().String("sex", "", "filter by subject sex")
	cmd.Flags().String("sample-type", "", "filter by sample type (e.g. PBMC)")
	cmd.Flags().String("treatment", "", "filter by treatment")
	cmd.Flags().String("response", "", "filter by response (yes/no)")
	cmd.Flags().Float64("time", 0, "filter by time from treatment start (0 = baseline)")
}

// filterFromFlags builds a CohortFilter from the flags the user actually
// set; unset flags stay nil and match all rows.
func filterFromFlags(cmd *cobra.Command) store.CohortFilter {
	var f store.CohortFilter
	strFlag := func(name string, dst **string) {
		if cmd.Flags().Changed(name) {
			v, _ := cmd.Flags().GetString(name)
			*dst = &v
		}
	}
	strFlag("condition", &f.Condition)
	strFlag("sex", &f.Sex)
	strFlag("sample-type", &f.SampleType)
	strFlag("treatment", &f.Treatment)
	strFlag("response", &f.Response)
	if cmd.Flags().Changed("time") {
		v, _ := cmd.Flags().GetFloat64("time")
		f.TimeFromTreatmentStart = &v
	}
	return f
}

func main() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "trial.db", "path to the SQLite store")

	for _, cmd := range []*cobra.Command{compareCmd, summaryCmd, avgCmd} {
		addFilterFlags(cmd)
	}
	avgCmd.Flags().StringVar(&avgPopulation, "population", "b_cell", "population to average")

	rootCmd.AddCommand(ingestCmd, frequenciesCmd, compareCmd, summaryCmd, avgCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
