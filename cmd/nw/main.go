package main

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/narrowin/networka-sub002/internal/config"
	nwerrors "github.com/narrowin/networka-sub002/internal/errors"
	"github.com/narrowin/networka-sub002/internal/executor"
	"github.com/narrowin/networka-sub002/internal/filter"
	"github.com/narrowin/networka-sub002/internal/inventory"
	"github.com/narrowin/networka-sub002/internal/logging"
	"github.com/narrowin/networka-sub002/internal/output"
	"github.com/narrowin/networka-sub002/internal/parallel"
	"github.com/narrowin/networka-sub002/internal/progress"
	"github.com/narrowin/networka-sub002/internal/template"
)

var (
	// Build-time variables (set via -ldflags)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	// Global configuration
	cfg *config.Config

	// CLI flags
	configFile   string
	target       string
	prefer       string
	platform     string
	inventories  []string
	workers      int
	timeout      time.Duration
	cmdTimeout   time.Duration
	outputMode   string
	quiet        bool
	dryRun       bool
	logLevel     string
	logFormat    string
	filterExpr   string
	showProgress bool

	// Per-command flags
	templateName string
	localPath    string
	remotePath   string
	backupDir    string
	imagePath    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(getExitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "nw",
	Short: "Run operations in parallel across network devices",
	Long: `nw executes commands, configuration backups, file transfers and
firmware staging across fleets of network devices over SSH.

Targets are named devices and groups from the inventory, or bare IP
addresses combined with --platform. When the same name exists in more
than one inventory source, --prefer picks the definition to use.

Examples:
  # Run a command on two devices
  nw run --target sw1,sw2 -- "/system resource print"

  # Run on a group, eight devices at a time
  nw run --target access-switches --workers 8 -- "show version"

  # Target bare IPs with an explicit platform
  nw run --target 10.0.0.1,10.0.0.2 --platform mikrotik_routeros -- "/export"

  # Disambiguate a name that exists in two sources
  nw run --target sw1 --prefer local:lab-scan -- "show clock"

  # Back up configurations
  nw backup --target all --backup-dir ./backups`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		manager := config.NewManager(configFile)
		loaded, err := manager.Load()
		if err != nil {
			return &SetupError{Message: fmt.Sprintf("failed to load configuration: %v", err)}
		}
		cfg = loaded

		if err := overrideConfigWithFlags(cmd); err != nil {
			return err
		}

		manager = config.NewManager(configFile)
		if err := manager.Validate(&cfg.Settings); err != nil {
			return &SetupError{Message: fmt.Sprintf("configuration validation failed: %v", err)}
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Path to configuration file")
	pf.StringVarP(&target, "target", "t", "", "Target expression: devices, groups, or IP addresses (comma/space separated)")
	pf.StringVar(&prefer, "prefer", "", "Preference token for names defined in multiple sources (config, <kind>:<id>, <id>, or a path)")
	pf.StringVar(&platform, "platform", "", "Device platform for IP address targets")
	pf.StringArrayVar(&inventories, "inventory", nil, "Extra inventory file (repeatable)")
	pf.IntVar(&workers, "workers", 0, "Maximum concurrent device workers (0 for default)")
	pf.DurationVar(&timeout, "timeout", 0, "Total execution timeout (0 for no timeout)")
	pf.DurationVar(&cmdTimeout, "cmd-timeout", 60*time.Second, "Per-command timeout")
	pf.StringVarP(&outputMode, "output", "o", "streamed", "Output format (streamed, buffered, json)")
	pf.BoolVarP(&quiet, "quiet", "q", false, "Suppress non-error output")
	pf.BoolVar(&dryRun, "dry-run", false, "Show execution plan without connecting")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (info, error)")
	pf.StringVar(&logFormat, "log-format", "text", "Log format (json, text)")
	pf.StringVar(&filterExpr, "filter", "", "Narrow resolved devices (tag:<t>, !tag:<t>, platform:<p>, name:<glob>)")
	pf.BoolVar(&showProgress, "progress", false, "Show progress for long-running operations")

	runCmd.Flags().StringVar(&templateName, "template", "", "Predefined command template (identify, hostname, interfaces, ping-self) or inline template")
	backupCmd.Flags().StringVar(&backupDir, "backup-dir", "", "Directory receiving backup files")
	uploadCmd.Flags().StringVar(&localPath, "local", "", "Local file to upload")
	uploadCmd.Flags().StringVar(&remotePath, "remote", "", "Remote destination path")
	downloadCmd.Flags().StringVar(&remotePath, "remote", "", "Remote file to download")
	downloadCmd.Flags().StringVar(&localPath, "local", ".", "Local directory receiving downloads")
	firmwareCmd.Flags().StringVar(&imagePath, "image", "", "Local firmware image to stage")

	rootCmd.AddCommand(runCmd, backupCmd, uploadCmd, downloadCmd, firmwareCmd, shellCmd, listCmd, versionCmd)
}

func overrideConfigWithFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("target") {
		cfg.Settings.Target = target
	}
	if flags.Changed("prefer") {
		cfg.Settings.Prefer = prefer
	}
	if flags.Changed("platform") {
		cfg.Settings.Platform = platform
	}
	if flags.Changed("workers") {
		cfg.Settings.Workers = workers
	}
	if flags.Changed("timeout") {
		cfg.Settings.Timeout = timeout
	}
	if flags.Changed("cmd-timeout") {
		cfg.Settings.CmdTimeout = cmdTimeout
	}
	if flags.Changed("output") {
		cfg.Settings.Output = outputMode
	}
	if flags.Changed("quiet") {
		cfg.Settings.Quiet = quiet
	}
	if flags.Changed("dry-run") {
		cfg.Settings.DryRun = dryRun
	}
	if flags.Changed("log-level") {
		cfg.Settings.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Settings.LogFormat = logFormat
	}
	if flags.Changed("backup-dir") {
		cfg.Settings.BackupDir = backupDir
	}

	// CLI inventories load on top of the configured sources.
	for _, path := range inventories {
		if err := cfg.LoadInventoryFile(path, inventory.KindCLI); err != nil {
			return &SetupError{Message: fmt.Sprintf("failed to load inventory %s: %v", path, err)}
		}
	}
	return nil
}

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <command> [command...]",
	Short: "Execute commands on the resolved devices",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && templateName == "" {
			return &SetupError{Message: "a command after '--' or --template is required"}
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		commands := args
		if templateName != "" {
			if predefined, ok := template.PredefinedTemplates[templateName]; ok {
				commands = append(commands, predefined)
			} else if template.IsTemplate(templateName) {
				commands = append(commands, templateName)
			} else {
				return &SetupError{Message: fmt.Sprintf("unknown template %q", templateName)}
			}
		}
		return runOperation("run", func(ctx context.Context, r *executor.Runner, opts executor.Options) (*executor.Report, error) {
			opts.Commands = commands
			return r.Run(ctx, opts)
		})
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export and store each device's configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation("backup", func(ctx context.Context, r *executor.Runner, opts executor.Options) (*executor.Report, error) {
			opts.BackupDir = cfg.Settings.BackupDir
			return r.Backup(ctx, opts)
		})
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload --local <file> --remote <path>",
	Short: "Upload a file to every resolved device",
	RunE: func(cmd *cobra.Command, args []string) error {
		if localPath == "" || remotePath == "" {
			return &SetupError{Message: "--local and --remote are required"}
		}
		return runOperation("upload", func(ctx context.Context, r *executor.Runner, opts executor.Options) (*executor.Report, error) {
			opts.LocalPath = localPath
			opts.RemotePath = remotePath
			return r.Upload(ctx, opts)
		})
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download --remote <path> [--local <dir>]",
	Short: "Download a file from every resolved device",
	RunE: func(cmd *cobra.Command, args []string) error {
		if remotePath == "" {
			return &SetupError{Message: "--remote is required"}
		}
		return runOperation("download", func(ctx context.Context, r *executor.Runner, opts executor.Options) (*executor.Report, error) {
			opts.RemotePath = remotePath
			opts.LocalPath = localPath
			return r.Download(ctx, opts)
		})
	},
}

var firmwareCmd = &cobra.Command{
	Use:   "firmware --image <file>",
	Short: "Upload and stage a firmware image on every resolved device",
	RunE: func(cmd *cobra.Command, args []string) error {
		if imagePath == "" {
			return &SetupError{Message: "--image is required"}
		}
		if _, err := os.Stat(imagePath); err != nil {
			return &SetupError{Message: fmt.Sprintf("firmware image: %v", err)}
		}
		return runOperation("firmware", func(ctx context.Context, r *executor.Runner, opts executor.Options) (*executor.Report, error) {
			opts.ImagePath = imagePath
			return r.Firmware(ctx, opts)
		})
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Run commands interactively against the resolved devices",
	Long: `shell reads commands from stdin and runs each one sequentially on
every resolved device, reusing one SSH session per device across
commands. Type 'exit' or press Ctrl-D to close all sessions and quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShell(os.Stdin, os.Stdout)
	},
}

func runShell(in io.Reader, writer io.Writer) error {
	logger := logging.NewLoggerFromSettings(cfg.Settings.LogLevel, cfg.Settings.LogFormat, cfg.Settings.Quiet)

	if cfg.Settings.Target == "" {
		return &SetupError{Message: "a target is required (--target or config)"}
	}

	runner := executor.NewRunner(cfg, logger, nil)
	defer runner.Close()

	resolution, err := runner.ResolveTargets(cfg.Settings.Target, cfg.Settings.Prefer)
	if err != nil {
		return classifyFatal(err)
	}
	if len(resolution.Devices) == 0 {
		return &SetupError{Message: fmt.Sprintf("no devices resolved from %q", cfg.Settings.Target)}
	}

	formatter := output.NewFormatter(output.StreamedMode, writer, cfg.Settings.Quiet)
	fmt.Fprintf(writer, "targets: %s\n", strings.Join(resolution.Devices, ", "))

	ctx := context.Background()
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(writer, "nw> ")
		if !scanner.Scan() {
			break
		}
		command := strings.TrimSpace(scanner.Text())
		if command == "" {
			continue
		}
		if command == "exit" || command == "quit" {
			break
		}

		for _, name := range resolution.Devices {
			s, err := runner.PooledSession(ctx, name, cfg.Settings.Prefer)
			if err != nil {
				formatter.StreamError(name, err.Error())
				continue
			}

			cmdCtx := ctx
			var cancel context.CancelFunc
			if cfg.Settings.CmdTimeout > 0 {
				cmdCtx, cancel = context.WithTimeout(ctx, cfg.Settings.CmdTimeout)
			}
			out, err := s.ExecuteCommand(cmdCtx, command)
			if cancel != nil {
				cancel()
			}
			if err != nil {
				formatter.StreamError(name, err.Error())
				continue
			}
			for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
				formatter.StreamLine(name, line)
			}
		}
	}
	return scanner.Err()
}

var listCmd = &cobra.Command{
	Use:   "list [devices|groups|sources]",
	Short: "Show the effective inventory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		what := "devices"
		if len(args) > 0 {
			what = args[0]
		}
		return listInventory(what, os.Stdout)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nw %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", buildTime)
	},
}

// operation adapts one Runner method to the shared execution flow.
type operation func(ctx context.Context, r *executor.Runner, opts executor.Options) (*executor.Report, error)

func runOperation(name string, op operation) error {
	return runOperationTo(name, op, os.Stdout)
}

func runOperationTo(name string, op operation, writer io.Writer) error {
	logger := logging.NewLoggerFromSettings(cfg.Settings.LogLevel, cfg.Settings.LogFormat, cfg.Settings.Quiet)

	if cfg.Settings.Target == "" {
		return &SetupError{Message: "a target is required (--target or config)"}
	}

	mode, err := output.ParseMode(cfg.Settings.Output)
	if err != nil {
		return &SetupError{Message: err.Error()}
	}

	filters, err := filter.Parse(filterExpr)
	if err != nil {
		return &SetupError{Message: err.Error()}
	}

	runner := executor.NewRunner(cfg, logger, nil)

	if cfg.Settings.DryRun {
		return performDryRun(name, runner, writer)
	}

	formatter := output.NewFormatter(mode, writer, cfg.Settings.Quiet)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Settings.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, cfg.Settings.Timeout)
		defer timeoutCancel()
	}

	// First signal stops scheduling new devices, the second aborts at the
	// next command boundary and cancels the context.
	var token parallel.CancelToken
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if token.Canceled() {
				logger.Warn("second interrupt, aborting at the next command boundary")
				token.HardCancel()
				cancel()
				return
			}
			logger.Warn("interrupt received, finishing devices in flight")
			token.SoftCancel()
		}
	}()

	var tracker *progress.Tracker
	opts := executor.Options{
		Target:     cfg.Settings.Target,
		Prefer:     cfg.Settings.Prefer,
		Filters:    filters,
		Workers:    cfg.Settings.Workers,
		CmdTimeout: cfg.Settings.CmdTimeout,
		Cancel:     &token,
		OnOutput:   formatter.StreamLine,
		OnError:    formatter.StreamError,
	}
	if showProgress && !cfg.Settings.Quiet {
		resolution, err := runner.ResolveTargets(opts.Target, opts.Prefer)
		if err == nil {
			tracker = progress.NewTracker(len(resolution.Devices), writer, true)
			opts.OnProgress = tracker.Message
		}
	}

	report, err := op(ctx, runner, opts)
	if err != nil {
		return classifyFatal(err)
	}
	if tracker != nil {
		for i := range report.Results {
			tracker.Update(report.Results[i].Success)
		}
		tracker.Finish()
	}

	if err := formatter.Render(report); err != nil {
		logger.Error("failed to render output", "error", err)
	}

	if report.Totals.Failed > 0 {
		return &ExecutionError{
			Message: fmt.Sprintf("%s failed on %d/%d devices",
				report.Operation, report.Totals.Failed, report.Totals.Total),
		}
	}
	return nil
}

// classifyFatal maps pre-fan-out errors to the setup exit code.
func classifyFatal(err error) error {
	var cfgErr *nwerrors.ConfigurationError
	var resErr *nwerrors.TargetResolutionError
	switch {
	case nwerrors.IsAmbiguity(err),
		stderrors.As(err, &cfgErr),
		stderrors.As(err, &resErr):
		return &SetupError{Message: err.Error()}
	default:
		return &ExecutionError{Message: err.Error()}
	}
}

func performDryRun(name string, runner *executor.Runner, writer io.Writer) error {
	resolution, err := runner.ResolveTargets(cfg.Settings.Target, cfg.Settings.Prefer)
	if err != nil {
		return classifyFatal(err)
	}

	fmt.Fprintf(writer, "Dry run: %s\n", name)
	fmt.Fprintf(writer, "  Target: %s\n", cfg.Settings.Target)
	if cfg.Settings.Prefer != "" {
		fmt.Fprintf(writer, "  Prefer: %s\n", cfg.Settings.Prefer)
	}
	fmt.Fprintf(writer, "  Resolved: %d device(s)\n", len(resolution.Devices))
	if resolution.IPMode {
		fmt.Fprintf(writer, "  Mode: IP targets, platform %s\n", cfg.Settings.Platform)
	}
	for i, device := range resolution.Devices {
		fmt.Fprintf(writer, "  %d. %s\n", i+1, device)
	}
	if len(resolution.Unknown) > 0 {
		fmt.Fprintf(writer, "  Unknown: %s\n", strings.Join(resolution.Unknown, ", "))
	}
	fmt.Fprintf(writer, "  Workers: %d\n", effectiveWorkers(len(resolution.Devices)))
	fmt.Fprintf(writer, "  Command timeout: %v\n", cfg.Settings.CmdTimeout)
	fmt.Fprintln(writer, "\nNo connections were made. Remove --dry-run to execute.")
	return nil
}

func effectiveWorkers(deviceCount int) int {
	if deviceCount <= 1 {
		return 1
	}
	w := cfg.Settings.Workers
	if w <= 0 {
		w = executor.DefaultWorkers
	}
	if w > deviceCount {
		w = deviceCount
	}
	return w
}

func listInventory(what string, writer io.Writer) error {
	switch what {
	case "devices":
		names := make([]string, 0, len(cfg.Devices))
		for name := range cfg.Devices {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			dev := cfg.Devices[name]
			fmt.Fprintf(writer, "%s\t%s\t%s\n", name, dev.Address(), dev.Platform)
		}
	case "groups":
		names := make([]string, 0, len(cfg.Groups))
		for name := range cfg.Groups {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			group := cfg.Groups[name]
			fmt.Fprintf(writer, "%s\t%d member(s)\n", name, len(group.Members))
		}
	case "sources":
		for _, ref := range cfg.Catalog.Sources() {
			fmt.Fprintf(writer, "%s\t%s\n", ref.SourceID, ref.Kind)
		}
	default:
		return &SetupError{Message: fmt.Sprintf("unknown list target %q (devices, groups, sources)", what)}
	}
	return nil
}

// ExecutionError represents a device-level failure (exit code 1)
type ExecutionError struct {
	Message string
}

func (e *ExecutionError) Error() string {
	return e.Message
}

// SetupError represents a configuration or resolution failure (exit code 2)
type SetupError struct {
	Message string
}

func (e *SetupError) Error() string {
	return e.Message
}

// getExitCode maps the error type to the process exit code:
//   - 0: all devices succeeded
//   - 1: one or more devices failed
//   - 2: setup error (configuration, resolution, ambiguity)
func getExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch err.(type) {
	case *SetupError:
		return 2
	case *ExecutionError:
		return 1
	default:
		return 2
	}
}
