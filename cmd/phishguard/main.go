package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/phishguard/phishguard/internal/classifier"
	"github.com/phishguard/phishguard/internal/config"
	"github.com/phishguard/phishguard/internal/history"
	"github.com/phishguard/phishguard/internal/inbox"
	"github.com/phishguard/phishguard/internal/notify"
	"github.com/phishguard/phishguard/internal/pipeline"
	"github.com/phishguard/phishguard/internal/web"
)

var (
	cfgFile string
	envFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "phishguard",
		Short: "phishguard - phishing detection for e-mail",
		Long: `phishguard classifies e-mail as PHISHING or SAFE with a model trained
offline. It scans .eml files, IMAP mailboxes, and messages posted to its
JSON API, and can quarantine and alert on phishing it finds in a mailbox.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.phishguard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file with PHISHGUARD_* secrets")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(inboxCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(historyCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long:  "Create a new configuration file pointing at the model artifacts and, optionally, a mailbox to scan.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout())
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check config, artifacts and model",
		Long:  "Load the config, all four artifacts and the model, and report every problem found.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func scanCmd() *cobra.Command {
	var asJSON bool
	var noHistory bool

	cmd := &cobra.Command{
		Use:   "scan <file.eml|->",
		Short: "Scan a single message",
		Long:  "Classify an RFC 5322 message read from a file, or from stdin when the argument is '-'.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), args[0], cmd.InOrStdin(), cmd.OutOrStdout(), asJSON, !noHistory)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the verdict as JSON")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record the verdict")

	return cmd
}

func inboxCmd() *cobra.Command {
	var days int
	var quarantine bool

	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Scan recent mailbox messages",
		Long:  "Connect to the configured IMAP mailbox and scan messages from the last N days.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var override *bool
			if cmd.Flags().Changed("quarantine") {
				override = &quarantine
			}
			return runInbox(cmd.Context(), days, override)
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Number of days to look back")
	cmd.Flags().BoolVar(&quarantine, "quarantine", false, "Move phishing to the quarantine folder (overrides config)")

	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Scan new mail as it arrives",
		Long:  "Stay connected to the mailbox and scan every new message (IMAP IDLE, or polling when the server lacks it).",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context())
		},
	}
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON scan API",
		Long:  "Start an HTTP server exposing scan, history, health and artifact reload endpoints.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (default from config, 8080)")

	return cmd
}

func historyCmd() *cobra.Command {
	var limit, pruneDays int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show scan history and statistics",
		Long:  "Display recent verdicts and overall statistics.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), cmd.OutOrStdout(), limit, pruneDays)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of recent scans to show")
	cmd.Flags().IntVar(&pruneDays, "prune-days", 0, "Delete scans older than this many days (default from history.retention_days)")

	return cmd
}

func runInit(reader *bufio.Reader, out io.Writer) error {
	fmt.Fprintln(out, "phishguard configuration setup")
	fmt.Fprintln(out, "==============================")
	fmt.Fprintln(out)

	cfg := config.Default()

	if dir := prompt(reader, out, fmt.Sprintf("Artifact directory [%s]: ", cfg.Artifacts.Dir)); dir != "" {
		cfg.Artifacts.Dir = dir
	}

	engine := prompt(reader, out, "Model engine (linear/remote) [linear]: ")
	switch engine {
	case "", "linear":
		cfg.Model.Engine = "linear"
		cfg.Model.Path = ""
		if path := prompt(reader, out, "Linear model JSON (empty for <artifacts>/linear_svc_model.json): "); path != "" {
			cfg.Model.Path = path
		}
	case "remote":
		cfg.Model.Engine = "remote"
		cfg.Model.Path = ""
		cfg.Model.Endpoint = prompt(reader, out, "Model server URL: ")
	default:
		return fmt.Errorf("unknown model engine %q", engine)
	}

	fmt.Fprintln(out)
	if strings.EqualFold(prompt(reader, out, "Scan an IMAP mailbox? (y/N): "), "y") {
		cfg.Inbox.Enabled = true
		cfg.Inbox.Provider = prompt(reader, out, "  Provider (gmail/outlook/imap) [gmail]: ")
		if cfg.Inbox.Provider == "" {
			cfg.Inbox.Provider = "gmail"
		}
		if cfg.Inbox.Provider == "imap" {
			cfg.Inbox.Server = prompt(reader, out, "  IMAP server: ")
			cfg.Inbox.Port = 993
		} else {
			cfg.Inbox.Server = ""
		}
		cfg.Inbox.Email = prompt(reader, out, "  Email address: ")
		fmt.Fprintf(out, "  (the app password is read from %s; put it in .env)\n", config.EnvIMAPPassword)
		cfg.Inbox.Quarantine = strings.EqualFold(prompt(reader, out, "  Move phishing to a quarantine folder? (y/N): "), "y")
	}

	configPath := resolveConfigPath()
	if err := config.Save(configPath, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Configuration saved to: %s\n", configPath)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Copy the exported artifacts into the artifact directory")
	fmt.Fprintln(out, "  2. Run 'phishguard validate' to check them")
	fmt.Fprintln(out, "  3. Run 'phishguard scan message.eml' to scan a message")
	return nil
}

func prompt(reader *bufio.Reader, out io.Writer, message string) string {
	fmt.Fprint(out, message)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func runValidate(ctx context.Context, out io.Writer) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	bundle, err := a.loader.Load(ctx)
	if err != nil {
		return err
	}
	sel := bundle.Selector()
	fmt.Fprintf(out, "artifacts: %d terms, %d handcrafted features, selector k=%s (%d inputs)\n",
		bundle.Vocabulary().Len(), bundle.Schema().Len(), sel.K(), sel.OutputLen())
	for _, w := range bundle.Warnings() {
		fmt.Fprintf(out, "  warning: %s\n", w)
	}

	if m, ok := a.engine.(*classifier.Linear); ok && m.Features() != sel.OutputLen() {
		return fmt.Errorf("model expects %d inputs but the selector produces %d", m.Features(), sel.OutputLen())
	}
	fmt.Fprintf(out, "model: %s engine ok\n", a.cfg.Model.Engine)
	return nil
}

type scanOutput struct {
	File       string    `json:"file"`
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Raw        []float64 `json:"raw"`
	Dimensions int       `json:"dimensions"`
	DurationMs int64     `json:"duration_ms"`
}

func runScan(ctx context.Context, path string, stdin io.Reader, out io.Writer, asJSON, record bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	a.start(ctx)

	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open message: %w", err)
		}
		defer f.Close()
		r = f
	}
	email, err := inbox.ParseMessage(r)
	if err != nil && email == nil {
		return err
	}
	if err != nil {
		a.log.Warn().Err(err).Msg("message body partially parsed")
	}

	res, scanErr := a.scanner.Scan(ctx, email.Content())
	if record {
		if err := recordScan(ctx, a, email, res, scanErr); err != nil {
			a.log.Warn().Err(err).Msg("verdict not recorded")
		}
	}
	if scanErr != nil {
		return scanErr
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(scanOutput{
			File:       path,
			ID:         res.ID,
			Label:      string(res.Label),
			Raw:        res.Raw,
			Dimensions: res.Dimensions,
			DurationMs: res.Duration.Milliseconds(),
		})
	}
	fmt.Fprintf(out, "%s  %s  (%s)\n", res.Label, truncateString(email.Subject, 60), email.Sender())
	return nil
}

func recordScan(ctx context.Context, a *app, email *inbox.Email, res *pipeline.Result, scanErr error) error {
	store, err := history.NewStore(a.cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	rec := &history.Record{
		Source:    history.SourceFile,
		MessageID: email.MessageID,
		Sender:    email.Sender(),
		Subject:   email.Subject,
	}
	if scanErr != nil {
		rec.Stage = string(pipeline.StageOf(scanErr))
		rec.Error = scanErr.Error()
	} else {
		rec.ScanID = res.ID
		rec.Label = string(res.Label)
		rec.DurationMs = res.Duration.Milliseconds()
	}
	return store.Add(ctx, rec)
}

// mailbox connects to IMAP and builds a sweeper wired to history, alerts
// and, when enabled, quarantine.
func mailbox(ctx context.Context, a *app, quarantine bool) (*inbox.Monitor, *inbox.Sweeper, func(), error) {
	if err := a.cfg.ValidateInbox(); err != nil {
		return nil, nil, nil, err
	}
	store, err := history.NewStore(a.cfg.History.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open history: %w", err)
	}

	monitor := inbox.NewMonitor(a.cfg.Inbox, a.log)
	if err := monitor.Connect(ctx); err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	cleanup := func() {
		monitor.Disconnect()
		store.Close()
	}

	opts := []inbox.SweepOption{
		inbox.WithHistory(store),
		inbox.WithNotifier(notify.New(a.cfg.Alert, a.log)),
	}
	if quarantine {
		if err := monitor.EnsureFolderExists(a.cfg.Inbox.QuarantineFolder); err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		opts = append(opts, inbox.WithQuarantine(monitor, a.cfg.Inbox.QuarantineFolder))
	}
	return monitor, inbox.NewSweeper(a.scanner, a.log, opts...), cleanup, nil
}

// runInbox scans the last days of mail. quarantine overrides the config
// setting when non-nil.
func runInbox(ctx context.Context, days int, quarantine *bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	a.start(ctx)

	move := a.cfg.Inbox.Quarantine
	if quarantine != nil {
		move = *quarantine
	}

	monitor, sweeper, cleanup, err := mailbox(ctx, a, move)
	if err != nil {
		return err
	}
	defer cleanup()

	emails, err := monitor.FetchRecent(ctx, days)
	if err != nil {
		return err
	}
	verdicts, sum, err := sweeper.Sweep(ctx, emails)
	if err != nil {
		return err
	}

	for _, v := range verdicts {
		printVerdict(os.Stdout, v)
	}
	fmt.Println()
	fmt.Printf("Scanned %d, phishing %d, safe %d, failed %d, skipped %d, quarantined %d\n",
		sum.Scanned, sum.Phishing, sum.Safe, sum.Failed, sum.Skipped, sum.Quarantined)
	return nil
}

func runWatch(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	a.start(ctx)

	monitor, sweeper, cleanup, err := mailbox(ctx, a, a.cfg.Inbox.Quarantine)
	if err != nil {
		return err
	}
	defer cleanup()

	err = monitor.Watch(ctx, func(ctx context.Context, emails []inbox.Email) {
		verdicts, _, err := sweeper.Sweep(ctx, emails)
		if err != nil {
			return
		}
		for _, v := range verdicts {
			printVerdict(os.Stdout, v)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printVerdict(out io.Writer, v inbox.Verdict) {
	subject := truncateString(v.Email.Subject, 60)
	switch {
	case v.Skipped:
		fmt.Fprintf(out, "   seen      %s\n", subject)
	case v.IsNoContent():
		fmt.Fprintf(out, "   empty     %s: nothing to scan\n", subject)
	case v.Err != nil:
		fmt.Fprintf(out, "!! error     %s: %v\n", subject, v.Err)
	case v.Result.Label == classifier.LabelPhishing:
		suffix := ""
		if v.Quarantined {
			suffix = " [quarantined]"
		}
		fmt.Fprintf(out, "!! PHISHING  %s (%s)%s\n", subject, v.Email.Sender(), suffix)
	default:
		fmt.Fprintf(out, "   SAFE      %s\n", subject)
	}
}

func runServe(ctx context.Context, port int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	if port == 0 {
		port = a.cfg.Server.Port
	}
	a.start(ctx)

	store, err := history.NewStore(a.cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize history: %w", err)
	}
	defer store.Close()

	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, port)
	server := web.NewServer(addr, a.scanner, a.gate, a.log,
		web.WithHistory(store), web.WithRateLimit(a.cfg.Server.RateLimit))

	go func() {
		<-ctx.Done()
		a.log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	return server.Start()
}

func runHistory(ctx context.Context, out io.Writer, limit, pruneDays int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := history.NewStore(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	if pruneDays == 0 {
		pruneDays = cfg.History.RetentionDays
	}
	if pruneDays > 0 {
		n, err := store.Prune(ctx, time.Now().AddDate(0, 0, -pruneDays))
		if err != nil {
			return err
		}
		if n > 0 {
			fmt.Fprintf(out, "Pruned %d scans older than %d days\n\n", n, pruneDays)
		}
	}

	st, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "phishguard statistics")
	fmt.Fprintln(out, "---------------------")
	fmt.Fprintf(out, "  Total scans: %d\n", st.Total)
	fmt.Fprintf(out, "  Phishing:    %d\n", st.Phishing)
	fmt.Fprintf(out, "  Safe:        %d\n", st.Safe)
	fmt.Fprintf(out, "  Failed:      %d\n", st.Failed)
	fmt.Fprintf(out, "  Quarantined: %d\n", st.Quarantined)

	records, err := store.Recent(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to get recent scans: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Recent scans (last %d)\n", limit)
	fmt.Fprintln(out, "---------------------")
	for _, r := range records {
		verdict := r.Label
		if r.Failed() {
			verdict = "error"
		}
		fmt.Fprintf(out, "%-8s %s  %-5s  %s\n",
			verdict,
			r.ScannedAt.Local().Format("2006-01-02 15:04"),
			r.Source,
			truncateString(r.Subject, 60),
		)
		if r.Error != "" {
			fmt.Fprintf(out, "         %s stage: %s\n", r.Stage, r.Error)
		}
	}
	return nil
}

func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
