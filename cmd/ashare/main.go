// ashare — LLM trading agents for the China A-share market
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/quantfleet/ashare/api"
	"github.com/quantfleet/ashare/internal/agent"
	"github.com/quantfleet/ashare/internal/config"
	"github.com/quantfleet/ashare/internal/llm"
	"github.com/quantfleet/ashare/internal/market"
	"github.com/quantfleet/ashare/internal/order"
	"github.com/quantfleet/ashare/internal/prompt"
	"github.com/quantfleet/ashare/internal/report"
	"github.com/quantfleet/ashare/internal/scheduler"
	"github.com/quantfleet/ashare/internal/store"
	"github.com/quantfleet/ashare/pkg/logger"
	"github.com/quantfleet/ashare/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ashare",
	Short: "ashare — LLM trading agents for the China A-share market",
	Long: `ashare runs simulated trading agents backed by large language models
against the Shanghai and Shenzhen exchanges. Each agent holds a virtual
portfolio, reads market context, and decides to buy, sell or hold under
real A-share rules: T+1 settlement, price limits, 100-share lots and
exchange fees.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.Logging.Level = lvl
		}
		if err := logger.Init(cfg.Logging); err != nil {
			return fmt.Errorf("failed to init logger: %w", err)
		}

		api.Version = version
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(taskCmd)
}

// openCore opens the store and wires the services the data-facing
// commands need. Callers must Close the returned store.
func openCore() (*store.Store, *agent.Service, *scheduler.Scheduler, error) {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
	}

	mkt := market.NewService(st)
	agents := agent.NewService(agent.Config{
		Store:     st,
		Market:    mkt,
		Clients:   llm.NewRegistry(llm.WithLogSink(st), llm.WithTimeout(time.Duration(cfg.LLM.TimeoutSec)*time.Second)),
		Templates: prompt.NewService(st),
		Processor: order.NewProcessor(order.WithLiveMode(cfg.Trading.LiveMode)),

		HotStockLimit: cfg.Market.HotStockLimit,
		NewsLimit:     cfg.Market.NewsLimit,
	})
	sched := scheduler.New(scheduler.Config{Store: st, Agents: agents, Market: mkt})
	return st, agents, sched, nil
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ashare %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server, scheduler and dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
		}
		defer st.Close()

		hub := api.NewWSHub()
		mkt := market.NewService(st)
		clients := llm.NewRegistry(
			llm.WithLogSink(st),
			llm.WithTimeout(time.Duration(cfg.LLM.TimeoutSec)*time.Second),
		)
		prompts := prompt.NewService(st)
		processor := order.NewProcessor(order.WithLiveMode(cfg.Trading.LiveMode))

		agents := agent.NewService(agent.Config{
			Store:         st,
			Market:        mkt,
			Clients:       clients,
			Templates:     prompts,
			Processor:     processor,
			Notifier:      hub,
			HotStockLimit: cfg.Market.HotStockLimit,
			NewsLimit:     cfg.Market.NewsLimit,
		})
		sched := scheduler.New(scheduler.Config{
			Store:        st,
			Agents:       agents,
			Market:       mkt,
			Notifier:     hub,
			Workers:      cfg.Scheduler.Workers,
			MaxRetries:   cfg.Scheduler.MaxRetries,
			RetryDelay:   time.Duration(cfg.Scheduler.RetryDelaySec) * time.Second,
			AgentTimeout: time.Duration(cfg.Scheduler.AgentTimeoutSec) * time.Second,
		})

		srv, err := api.NewServer(api.Config{
			Cfg:       cfg,
			Store:     st,
			Agents:    agents,
			Scheduler: sched,
			Market:    mkt,
			Prompts:   prompts,
			Reports:   report.NewGenerator(st, mkt),
			Clients:   clients,
			Hub:       hub,
		})
		if err != nil {
			return err
		}

		if err := sched.Start(cmd.Context()); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}

		fmt.Printf("🌐 ashare %s listening on %s\n", version, cfg.Server.Addr())
		fmt.Printf("   Market Status: %s\n", utils.MarketStatus())
		fmt.Printf("   Database:      %s\n", cfg.Database.Path)

		err = srv.ListenAndServe(cfg.Server.Addr())

		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := sched.Stop(stopCtx); serr != nil {
			logger.WithError(serr).Warn("scheduler did not stop cleanly")
		}
		return err
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		now := utils.NowCST()

		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  ashare — System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Printf("  Market Status: %s\n", utils.MarketStatusAt(now))
		fmt.Printf("  Trading Day:   %v\n", utils.IsTradingDay(now))
		fmt.Printf("  Time (CST):    %s\n", utils.FormatDateTimeCST(now))
		fmt.Println()

		// Config summary
		fmt.Println("  Configuration:")
		fmt.Printf("    API Server:    %s\n", cfg.Server.Addr())
		fmt.Printf("    Database:      %s\n", cfg.Database.Path)
		fmt.Printf("    Live Mode:     %v\n", cfg.Trading.LiveMode)
		fmt.Printf("    LLM Timeout:   %ds\n", cfg.LLM.TimeoutSec)
		fmt.Printf("    Workers:       %d\n", cfg.Scheduler.Workers)
		fmt.Println()

		// Capabilities
		fmt.Println("  Capabilities:")
		engine := report.DetectPDFEngine()
		pdfStatus := "❌ no converter found (wkhtmltopdf or chromium)"
		if engine != report.EngineNone {
			pdfStatus = fmt.Sprintf("✅ %s", engine)
		}
		fmt.Printf("    PDF Export:    %s\n", pdfStatus)

		dbStatus := "❌ not found (created on first serve)"
		if fi, err := os.Stat(cfg.Database.Path); err == nil {
			dbStatus = fmt.Sprintf("✅ %s (%.1f KB)", cfg.Database.Path, float64(fi.Size())/1024)
		}
		fmt.Printf("    Database:      %s\n", dbStatus)

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}

// --- Agent Commands ---

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage trading agents",
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, agents, _, err := openCore()
		if err != nil {
			return err
		}
		defer st.Close()

		list, err := agents.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No agents. Create one with: ashare agent create --name ... --provider ... --model ...")
			return nil
		}

		fmt.Printf("%-36s  %-20s  %-16s  %-8s  %s\n", "ID", "NAME", "MODEL", "STATUS", "INITIAL CASH")
		for _, ag := range list {
			fmt.Printf("%-36s  %-20s  %-16s  %-8s  ¥%s\n",
				ag.ID, ag.Name, ag.ModelName, ag.Status, ag.InitialCash.StringFixed(2))
		}
		return nil
	},
}

var agentCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a trading agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		cash, _ := cmd.Flags().GetString("cash")
		providerID, _ := cmd.Flags().GetString("provider")
		model, _ := cmd.Flags().GetString("model")
		templateID, _ := cmd.Flags().GetString("template")

		if name == "" || providerID == "" || model == "" {
			return fmt.Errorf("--name, --provider and --model are required")
		}
		initialCash := decimal.Zero
		if cash != "" {
			var err error
			initialCash, err = decimal.NewFromString(cash)
			if err != nil {
				return fmt.Errorf("invalid --cash %q: %w", cash, err)
			}
		}

		st, agents, _, err := openCore()
		if err != nil {
			return err
		}
		defer st.Close()

		if _, err := st.ProviderByID(cmd.Context(), providerID); err != nil {
			return fmt.Errorf("unknown provider %q", providerID)
		}

		ag, err := agents.Create(cmd.Context(), agent.CreateParams{
			Name:        name,
			InitialCash: initialCash,
			ProviderID:  providerID,
			ModelName:   model,
			TemplateID:  templateID,
		})
		if err != nil {
			return err
		}
		fmt.Printf("✅ Agent %s created (id %s, cash ¥%s)\n", ag.Name, ag.ID, ag.InitialCash.StringFixed(2))
		return nil
	},
}

var agentRunCmd = &cobra.Command{
	Use:   "run [agent-id]",
	Short: "Run one decision cycle for an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, agents, _, err := openCore()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		fmt.Printf("🤖 Running decision cycle for %s ...\n", args[0])
		res, err := agents.RunCycle(ctx, args[0])
		if err != nil && res == nil {
			return err
		}

		fmt.Printf("   Status:   %s\n", res.Status)
		fmt.Printf("   Filled:   %d  Rejected: %d  Held: %d\n", res.Filled, res.Rejected, res.Held)
		fmt.Printf("   Latency:  %s LLM, %s total\n",
			res.LLMLatency.Round(time.Millisecond), res.Duration.Round(time.Millisecond))
		for _, d := range res.Decisions {
			line := fmt.Sprintf("   • %s", d.Type)
			if d.StockCode != "" {
				line += " " + d.StockCode
			}
			if d.Quantity > 0 {
				line += fmt.Sprintf(" ×%d", d.Quantity)
			}
			if d.Reason != "" {
				line += " — " + d.Reason
			}
			fmt.Println(line)
		}
		if res.Error != "" {
			fmt.Printf("   Error:    %s\n", res.Error)
		}
		return err
	},
}

func init() {
	agentCreateCmd.Flags().String("name", "", "agent name (required)")
	agentCreateCmd.Flags().String("cash", "", "initial cash (default ¥20000)")
	agentCreateCmd.Flags().String("provider", "", "LLM provider id (required)")
	agentCreateCmd.Flags().String("model", "", "model name, e.g. gpt-4o-mini (required)")
	agentCreateCmd.Flags().String("template", "", "prompt template id (optional)")

	agentCmd.AddCommand(agentListCmd)
	agentCmd.AddCommand(agentCreateCmd)
	agentCmd.AddCommand(agentRunCmd)
}

// --- Task Commands ---

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage scheduled tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all scheduled tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, sched, err := openCore()
		if err != nil {
			return err
		}
		defer st.Close()

		tasks, err := sched.ListTasks(cmd.Context())
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No scheduled tasks.")
			return nil
		}

		fmt.Printf("%-36s  %-20s  %-14s  %-15s  %s\n", "ID", "NAME", "CRON", "TYPE", "STATUS")
		for _, t := range tasks {
			fmt.Printf("%-36s  %-20s  %-14s  %-15s  %s\n",
				t.ID, t.Name, t.CronExpression, t.TaskType, t.Status)
		}
		return nil
	},
}

var taskTriggerCmd = &cobra.Command{
	Use:   "trigger [task-id]",
	Short: "Run a task immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, sched, err := openCore()
		if err != nil {
			return err
		}
		defer st.Close()

		fmt.Printf("▶️  Triggering task %s ...\n", args[0])
		run, err := sched.Trigger(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("   Run #%d: %s\n", run.ID, run.Status)
		if run.SkipReason != "" {
			fmt.Printf("   Skipped:  %s\n", run.SkipReason)
		}
		if run.ErrorMessage != "" {
			fmt.Printf("   Note:     %s\n", run.ErrorMessage)
		}
		for _, ar := range run.AgentResults {
			fmt.Printf("   • %s: %s (%dms", ar.AgentID, ar.Status, ar.DurationMS)
			if ar.Retries > 0 {
				fmt.Printf(", %d retries", ar.Retries)
			}
			fmt.Println(")")
		}
		return nil
	},
}

func init() {
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskTriggerCmd)
}

// --- Report Command ---

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a performance report for all agents",
	Long: `Generate a performance report covering every agent: returns,
drawdown, win rate, asset curve and recent orders.

Formats: html (default), text, pdf. PDF needs wkhtmltopdf or chromium
on the PATH; without one the HTML is written instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		title, _ := cmd.Flags().GetString("title")

		st, err := store.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
		}
		defer st.Close()

		gen := report.NewGenerator(st, market.NewService(st))

		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()
		data, err := gen.Generate(ctx, report.Config{Title: title})
		if err != nil {
			return fmt.Errorf("generate report: %w", err)
		}

		switch report.Format(format) {
		case report.FormatText:
			text := report.RenderText(data)
			if output == "" {
				fmt.Print(text)
				return nil
			}
			if err := os.WriteFile(output, []byte(text), 0o644); err != nil {
				return err
			}

		case report.FormatHTML:
			html, err := report.RenderHTML(data)
			if err != nil {
				return fmt.Errorf("render report: %w", err)
			}
			if output == "" {
				output = "ashare-report.html"
			}
			if err := os.WriteFile(output, []byte(html), 0o644); err != nil {
				return err
			}

		case report.FormatPDF:
			html, err := report.RenderHTML(data)
			if err != nil {
				return fmt.Errorf("render report: %w", err)
			}
			if output == "" {
				output = "ashare-report.pdf"
			}
			pdfCfg := report.DefaultPDFConfig()
			pdfCfg.OutputPath = output
			if err := report.WritePDF(html, pdfCfg); err != nil {
				return fmt.Errorf("write pdf: %w", err)
			}
			if !report.IsPDFSupported() {
				output = strings.TrimSuffix(output, ".pdf") + ".html"
				fmt.Println("⚠️  No PDF engine found; wrote HTML instead.")
			}

		default:
			return fmt.Errorf("unknown format %q (html, text, pdf)", format)
		}

		fmt.Printf("📄 Report written to %s\n", output)
		return nil
	},
}

func init() {
	reportCmd.Flags().String("format", "html", "output format: html, text, pdf")
	reportCmd.Flags().String("output", "", "output file (default: ashare-report.<ext>, text prints to stdout)")
	reportCmd.Flags().String("title", "", "report title override")
}
