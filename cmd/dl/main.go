package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dealline/internal/config"
	"dealline/internal/db"
	"dealline/internal/metrics"
	"dealline/internal/migrate"
	"dealline/internal/pipeline"
	"dealline/internal/seed"
	"dealline/internal/server"
	"dealline/internal/telemetry"
)

var rootCmd = &cobra.Command{
	Use:   "dl",
	Short: "Dealline CLI",
	Long: `Dealline derives sales pipeline analytics from raw CRM records.
A lead's stage is never stored: it is resolved on every read from the
evidence trail (meetings, pricing plans, scope-of-work documents,
quotations, agreements, payments, kickoff requests). On top of that
resolution Dealline reports the funnel, bottlenecks, stage dwell times,
deal velocity, and a weighted revenue forecast.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DEALLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(leadCmd())
	rootCmd.AddCommand(analyticsCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			log := telemetry.NewLogger()
			eng := pipeline.New(conn, cfg, log)
			handler, err := server.New(server.Config{
				Engine:   eng,
				Metrics:  metrics.New(),
				BasePath: basePath,
				Log:      log,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Dealline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("migrations applied:", db.Path(workspace))
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var leads int
	var seedVal int64
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert a reproducible demo population",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e pipeline.Engine) error {
				n, err := seed.Populate(ctx, e.Repo, seed.Options{Leads: leads, Seed: seedVal})
				if err != nil {
					return err
				}
				fmt.Printf("seeded %d leads\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&leads, "leads", 40, "number of leads")
	cmd.Flags().Int64Var(&seedVal, "seed", 1, "RNG seed")
	return cmd
}

func leadCmd() *cobra.Command {
	lead := &cobra.Command{Use: "lead", Short: "Inspect leads"}
	lead.AddCommand(leadStageCmd())
	return lead
}

func leadStageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage <lead-id>",
		Short: "Resolve a lead's current stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e pipeline.Engine) error {
				st, err := e.StageStatus(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Lead:     %s\n", st.LeadID)
				fmt.Printf("Stage:    %s (%s)\n", st.CurrentStage, pipeline.Stage(st.CurrentStage).DisplayName())
				fmt.Printf("Coarse:   %s\n", st.CoarseStage)
				fmt.Printf("Progress: %v\n", st.CanProgress)
				return nil
			})
		},
	}
	return cmd
}

func analyticsCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "analytics",
		Short: "Run funnel analytics",
		Long: `Analytics reports over a date window. The window defaults to the
current calendar month; pass --period for another calendar unit or
--start/--end for explicit bounds.`,
	}
	a.PersistentFlags().String("period", "", "week, month, quarter or year")
	a.PersistentFlags().String("start", "", "window start (YYYY-MM-DD)")
	a.PersistentFlags().String("end", "", "window end, exclusive (YYYY-MM-DD)")
	a.PersistentFlags().String("owner", "", "restrict to leads owned by this employee")
	_ = viper.BindPFlag("period", a.PersistentFlags().Lookup("period"))
	_ = viper.BindPFlag("start", a.PersistentFlags().Lookup("start"))
	_ = viper.BindPFlag("end", a.PersistentFlags().Lookup("end"))
	_ = viper.BindPFlag("owner", a.PersistentFlags().Lookup("owner"))
	a.AddCommand(funnelCmd())
	a.AddCommand(bottlenecksCmd())
	a.AddCommand(forecastCmd())
	a.AddCommand(timeInStageCmd())
	a.AddCommand(velocityCmd())
	return a
}

func analyticsQuery() (pipeline.Query, error) {
	q := pipeline.Query{
		Period:  viper.GetString("period"),
		OwnerID: viper.GetString("owner"),
	}
	var err error
	if q.Start, err = parseDay(viper.GetString("start")); err != nil {
		return q, err
	}
	if q.End, err = parseDay(viper.GetString("end")); err != nil {
		return q, err
	}
	return q, nil
}

func parseDay(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", raw)
	}
	return t, nil
}

func funnelCmd() *cobra.Command {
	var breakdown bool
	cmd := &cobra.Command{
		Use:   "funnel",
		Short: "Stage distribution and conversion",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := analyticsQuery()
			if err != nil {
				return err
			}
			q.EmployeeBreakdown = breakdown
			return withEngine(cmd.Context(), func(ctx context.Context, e pipeline.Engine) error {
				r, err := e.Funnel(ctx, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				fmt.Printf("Window %s [%s .. %s)\n", r.Period, r.DateRange.Start, r.DateRange.End)
				fmt.Printf("Leads: %d  Completed: %d  Conversion: %.1f%%\n",
					r.Summary.TotalLeads, r.Summary.Completed, r.Summary.ConversionRate)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stage", "Reached", "%"})
				for _, s := range r.FunnelStages {
					tw.AppendRow(table.Row{s.Name, s.Count, s.Percentage})
				}
				tw.Render()
				if breakdown {
					bw := table.NewWriter()
					bw.SetOutputMirror(os.Stdout)
					bw.AppendHeader(table.Row{"Owner", "Leads", "Completed", "Conversion %"})
					for owner, ef := range r.EmployeeBreakdown {
						bw.AppendRow(table.Row{owner, ef.TotalLeads, ef.Completed, ef.ConversionRate})
					}
					bw.Render()
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&breakdown, "employee-breakdown", false, "group completion by lead owner")
	return cmd
}

func bottlenecksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bottlenecks",
		Short: "Stage transitions with heavy drop-off",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := analyticsQuery()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e pipeline.Engine) error {
				r, err := e.Bottlenecks(ctx, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"From", "To", "Conversion %", "Drop-off %", "Lost", "Bottleneck"})
				tw.AppendRows(bottleneckRows(r))
				tw.Render()
				for _, in := range r.Insights {
					fmt.Println("-", in)
				}
				return nil
			})
		},
	}
}

func bottleneckRows(r pipeline.BottleneckReport) []table.Row {
	rows := make([]table.Row, 0, len(r.Bottlenecks))
	for _, tr := range r.Bottlenecks {
		flag := ""
		if tr.IsBottleneck {
			flag = "yes"
		}
		rows = append(rows, table.Row{tr.FromStage, tr.ToStage, tr.ConversionRate, tr.DropOffRate, tr.DropOffCount, flag})
	}
	return rows
}

func forecastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forecast",
		Short: "Weighted revenue forecast",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := analyticsQuery()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e pipeline.Engine) error {
				r, err := e.Forecast(ctx, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				fmt.Printf("Open pipeline: %d leads  Avg deal value: %.2f\n", r.TotalPipeline, r.AvgDealValue)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stage", "Count", "Probability", "Weighted Deals", "Weighted Value"})
				for _, s := range r.PipelineForecast {
					tw.AppendRow(table.Row{s.Stage, s.Count, s.Probability, s.WeightedDeals, s.WeightedValue})
				}
				tw.Render()
				fmt.Printf("30d: %.2f deals / %.2f\n", r.TimeBasedForecast.Days30.ExpectedDeals, r.TimeBasedForecast.Days30.ExpectedValue)
				fmt.Printf("60d: %.2f deals / %.2f\n", r.TimeBasedForecast.Days60.ExpectedDeals, r.TimeBasedForecast.Days60.ExpectedValue)
				fmt.Printf("90d: %.2f deals / %.2f\n", r.TimeBasedForecast.Days90.ExpectedDeals, r.TimeBasedForecast.Days90.ExpectedValue)
				return nil
			})
		},
	}
}

func timeInStageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "time-in-stage",
		Short: "How long leads dwell in each stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := analyticsQuery()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e pipeline.Engine) error {
				r, err := e.TimeInStage(ctx, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stage", "Avg Days", "Min", "Max", "Samples", "Slow"})
				for _, s := range r.Stages {
					slow := ""
					if s.IsSlow {
						slow = "yes"
					}
					tw.AppendRow(table.Row{s.Stage, fmtDays(s.AvgDays), fmtDays(s.MinDays), fmtDays(s.MaxDays), s.SampleCount, slow})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func velocityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "velocity",
		Short: "Time from lead creation to closed deal",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := analyticsQuery()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e pipeline.Engine) error {
				r, err := e.Velocity(ctx, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				fmt.Printf("Completed deals: %d  Avg days: %s\n", r.TotalCompletedDeals, fmtDays(r.OverallVelocity.AvgDays))
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Transition", "Avg Days", "Samples"})
				for _, tv := range r.StageVelocities {
					tw.AppendRow(table.Row{tv.Transition, fmtDays(tv.AvgDays), tv.SampleCount})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect pipeline config",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default pipeline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.DefaultYAML()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, pipeline.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := pipeline.New(conn, cfg, telemetry.NewLogger())
	return fn(ctx, e)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fmtDays(d *float64) string {
	if d == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *d)
}
