package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"siteflow/internal/app"
	"siteflow/internal/config"
	"siteflow/internal/db"
	"siteflow/internal/domain"
	"siteflow/internal/repo"
	"siteflow/internal/rules"
	"siteflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sf",
	Short: "Siteflow construction scheduling CLI",
	Long: `Siteflow checks construction task sequences against phase rules.
- Phases: site_preparation through landscaping; each has prerequisites, required inspections and phases it cannot overlap.
- Validate: report missing prerequisites, out-of-order starts and overlapping trades per task.
- Inspections: schedule every required inspection once per project, a day or two after the work ends.
- Optimize: advisory proposals (parallel rough-ins, trimmed buffers, staggered starts); nothing is changed.
- Conflicts: crowded days, dependency violations and missing inspections.
State lives in .siteflow/siteflow.db; settings in siteflow.yml (SITEFLOW_* env vars override).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SITEFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(phasesCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(inspectionsCmd())
	rootCmd.AddCommand(optimizeCmd())
	rootCmd.AddCommand(conflictsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				items, err := env.Repo.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Status", "Created")
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var id, name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				p, err := env.Repo.InsertProject(ctx, domain.Project{ID: id, Name: name, Description: desc})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage tasks"}
	t.AddCommand(taskImportCmd())
	t.AddCommand(taskListCmd())
	t.AddCommand(taskDeleteCmd())
	return t
}

func taskImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create or replace tasks from a YAML or JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, env *app.Env, projectID string) error {
				tasks, err := loadTaskFile(file, projectID)
				if err != nil {
					return err
				}
				for _, w := range unvalidatedPhases(tasks) {
					env.Logger.Warn("task phase has no sequencing rule", zap.String("detail", w))
				}
				saved, err := env.Repo.UpsertTasks(ctx, tasks)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(saved)
				}
				fmt.Printf("Imported %d tasks into %s\n", len(saved), projectID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "task file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks ordered by start date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, env *app.Env, projectID string) error {
				f.ProjectID = projectID
				tasks, err := env.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable("ID", "Name", "Phase", "Start", "End", "Status")
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Name, t.ResolvedPhase(), formatDay(t.StartDate), formatDay(t.EndDate), t.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Phase, "phase", "", "phase filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max tasks")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if err := env.Repo.DeleteTask(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted task %s\n", args[0])
				return nil
			})
		},
	}
}

func phasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "phases",
		Short: "List the construction phase rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			all := rules.All()
			if viper.GetBool("json") {
				return printJSON(all)
			}
			tw := newTable("Phase", "Prerequisites", "Inspections", "Cannot overlap", "Weather", "Days")
			for _, r := range all {
				tw.AppendRow(table.Row{
					r.Phase,
					strings.Join(r.Prerequisites, ", "),
					strings.Join(r.InspectionsRequired, ", "),
					strings.Join(r.CannotOverlapWith, ", "),
					r.WeatherSensitive,
					r.TypicalDurationDays,
				})
			}
			tw.Render()
			return nil
		},
	}
}

func validateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the project's task sequence, or the tasks in --file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, env *app.Env, projectID string) error {
				var results []domain.ValidationResult
				if file != "" {
					tasks, err := loadTaskFile(file, projectID)
					if err != nil {
						return err
					}
					results = env.Engine.ValidateTaskSequence(tasks)
				} else {
					var err error
					if results, err = env.Engine.ValidateProject(ctx, projectID); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(results)
				}
				tw := newTable("Task", "Phase", "Valid", "Severity", "Issue")
				for _, r := range results {
					if len(r.Issues) == 0 {
						tw.AppendRow(table.Row{r.TaskID, r.Phase, r.IsValid, "", ""})
					}
					for _, is := range r.Issues {
						tw.AppendRow(table.Row{r.TaskID, r.Phase, r.IsValid, is.Severity, is.Message})
					}
				}
				tw.Render()
				for _, r := range results {
					for _, rec := range r.Recommendations {
						fmt.Printf("- %s: %s\n", r.TaskID, rec)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "validate tasks from a file instead of the store")
	return cmd
}

func inspectionsCmd() *cobra.Command {
	c := &cobra.Command{Use: "inspections", Short: "Schedule and track inspections"}
	c.AddCommand(inspectionsScheduleCmd())
	c.AddCommand(inspectionsListCmd())
	c.AddCommand(inspectionsStatusCmd())
	return c
}

func inspectionsScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Auto-schedule the inspections the project's tasks require",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, env *app.Env, projectID string) error {
				scheduled, err := env.Engine.AutoScheduleInspections(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(scheduled)
				}
				if len(scheduled) == 0 {
					fmt.Println("All required inspections are already scheduled")
					return nil
				}
				printInspections(scheduled)
				return nil
			})
		},
	}
}

func inspectionsListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List inspection schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, env *app.Env, projectID string) error {
				items, err := env.Repo.ListInspectionSchedules(ctx, repo.InspectionFilters{ProjectID: projectID, Status: status})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printInspections(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func inspectionsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <inspection-id> <status>",
		Short: "Record an inspection outcome (pending, scheduled, passed, failed, canceled)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[1] {
			case "pending", "scheduled", "passed", "failed", "canceled":
			default:
				return fmt.Errorf("invalid status %q", args[1])
			}
			return withProject(cmd.Context(), func(ctx context.Context, env *app.Env, projectID string) error {
				s, err := env.Repo.UpdateInspectionStatus(ctx, projectID, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func printInspections(items []domain.InspectionSchedule) {
	tw := newTable("ID", "Type", "Phase", "Date", "Status", "Notes")
	for _, s := range items {
		tw.AppendRow(table.Row{s.InspectionID, s.InspectionType, s.RequiredForPhase, formatDay(s.ScheduledDate), s.Status, s.Notes})
	}
	tw.Render()
}

func optimizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Propose trade sequencing improvements (advisory)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, env *app.Env, projectID string) error {
				out, err := env.Engine.OptimizeTradeSequencing(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				tw := newTable("Type", "Days", "Tasks", "Recommendation")
				for _, o := range out.Optimizations {
					tw.AppendRow(table.Row{o.Type, o.TimeImpactDays, strings.Join(o.AffectedTasks, ", "), o.Recommendation})
				}
				tw.AppendFooter(table.Row{"saved", out.EstimatedTimeSavedDays, "", completionText(out)})
				tw.Render()
				return nil
			})
		},
	}
}

func completionText(out domain.OptimizedSchedule) string {
	if out.NewCompletionDate == nil {
		return "no dated tasks"
	}
	return "new completion " + formatDay(*out.NewCompletionDate)
}

func conflictsCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Detect schedule conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			run := func(ctx context.Context, env *app.Env, projectID string) error {
				out, err := env.Engine.DetectScheduleConflicts(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				tw := newTable("Type", "Severity", "Tasks", "Description", "Resolution")
				for _, c := range out {
					tw.AppendRow(table.Row{c.ConflictType, c.Severity, strings.Join(c.AffectedTasks, ", "), c.Description, c.SuggestedResolution})
				}
				tw.Render()
				return nil
			}
			if all {
				return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
					return run(ctx, env, "")
				})
			}
			return withProject(cmd.Context(), run)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "scan every project")
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "siteflow.yml holds the scheduling offsets and optimizer/conflict thresholds. SITEFLOW_* environment variables override it.",
	}
	c.AddCommand(configInitCmd())
	c.AddCommand(configShowCmd())
	return c
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default siteflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(viper.GetString("project"))), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config, or check the config file given with --file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			var err error
			if file != "" {
				cfg, err = config.FromFile(file)
			} else {
				cfg, err = config.LoadOptional(viper.GetString("workspace"))
			}
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "config file to parse and validate (no env overrides)")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var limit int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, env *app.Env, projectID string) error {
				evts, err := env.Repo.LatestEvents(ctx, limit, projectID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable("ID", "TS", "Type", "Entity", "Payload")
				for _, e := range evts {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := app.Open(viper.GetString("workspace"), viper.GetString("log-level"))
			if err != nil {
				return err
			}
			defer env.Close()
			if addr == "" {
				addr = env.Config.Server.Addr
			}
			if basePath == "" {
				basePath = env.Config.Server.BasePath
			}
			handler, err := server.New(server.Config{Engine: env.Engine, Repo: env.Repo, BasePath: basePath, Logger: env.Logger})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			env.Logger.Info("serving siteflow API",
				zap.String("addr", addr),
				zap.String("base_path", basePath),
				zap.String("openapi", basePath+"/openapi.json"))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "base path for API routes (default from config)")
	return cmd
}

func withEnv(ctx context.Context, fn func(context.Context, *app.Env) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	env, err := app.Open(viper.GetString("workspace"), viper.GetString("log-level"))
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

func withProject(ctx context.Context, fn func(context.Context, *app.Env, string) error) error {
	return withEnv(ctx, func(ctx context.Context, env *app.Env) error {
		projectID, err := app.ResolveProject(ctx, viper.GetString("project"), env.Config, env.Repo)
		if err != nil {
			return err
		}
		return fn(ctx, env, projectID)
	})
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02")
}

// printJSONOrTable renders a single record as a field/value table, or JSON with --json.
func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	rows, err := recordRows(v)
	if err != nil {
		return printJSON(v)
	}
	tw := newTable("Field", "Value")
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

// recordRows flattens a JSON object into field/value rows sorted by field.
func recordRows(v any) ([]table.Row, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([]table.Row, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, table.Row{k, fields[k]})
	}
	return rows, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
