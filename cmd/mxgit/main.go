// Command mxgit keeps the Mendix modeler working on a git repository by
// maintaining a shadow Subversion working copy next to .git.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mxgit/mxgit/internal/config"
	"github.com/mxgit/mxgit/internal/engine"
	"github.com/mxgit/mxgit/internal/logging"
	"github.com/mxgit/mxgit/internal/ui"
	_ "github.com/mxgit/mxgit/internal/vcs/git"
	_ "github.com/mxgit/mxgit/internal/vcs/gogit"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	installFlag    bool
	resetFlag      bool
	projectIDFlag  string
	preCommitFlag  bool
	postUpdateFlag bool
	mergeFlag      bool
	watchFlag      bool
	verboseFlag    bool
	yesFlag        bool
	configFlag     string
	backendFlag    string
)

// exitCode is what main exits with once the command returns.
var exitCode int

var rootCmd = &cobra.Command{
	Use:   "mxgit",
	Short: "Use git for Mendix projects",
	Long: `mxgit lets the Mendix modeler work on a project kept in git.

The modeler only understands Subversion working copies. mxgit maintains a
minimal one (.svn) next to .git, feeds it the committed version of the
project file and mirrors git merge conflicts into it.

Run without a mode flag for a synchronization pass. Git hooks installed by
--install call --precommit and --postupdate; git calls --merge as the merge
driver for project files.`,
	Version:       version,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		exitCode = run(cmd, args)
		return nil
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.BoolVar(&installFlag, "install", false, "install git hooks, merge driver and ignore rules")
	flags.BoolVar(&resetFlag, "reset", false, "remove everything mxgit installed or created")
	flags.StringVar(&projectIDFlag, "setprojectid", "", "set the Team Server project id of the shadow working copy")
	flags.BoolVar(&preCommitFlag, "precommit", false, "pre-commit hook mode: refuse while the model is open")
	flags.BoolVar(&postUpdateFlag, "postupdate", false, "post-update hook mode: an open model only warns")
	flags.BoolVar(&mergeFlag, "merge", false, "merge driver mode, expects <base> <mine> <theirs>")
	flags.BoolVar(&watchFlag, "watch", false, "keep running and sync whenever git changes the repository")
	flags.BoolVarP(&verboseFlag, "verbose", "v", false, "log debug output")
	flags.BoolVar(&yesFlag, "yes", false, "do not ask for confirmation")
	flags.StringVar(&configFlag, "config", "", "config file (default .git/mxgit.toml or .mxgit.toml)")
	flags.StringVar(&backendFlag, "backend", "cli", "git backend: cli or gogit")
	config.BindFlag(flags, "backend", "git.backend")
}

// buildRequest turns the mode flags and positional arguments into a request.
func buildRequest(cmd *cobra.Command, args []string) (engine.Request, error) {
	var modes []engine.Mode
	if installFlag {
		modes = append(modes, engine.ModeInstall)
	}
	if resetFlag {
		modes = append(modes, engine.ModeReset)
	}
	if cmd.Flags().Changed("setprojectid") {
		modes = append(modes, engine.ModeSetProjectID)
	}
	if preCommitFlag {
		modes = append(modes, engine.ModePreCommit)
	}
	if postUpdateFlag {
		modes = append(modes, engine.ModePostUpdate)
	}
	if mergeFlag {
		modes = append(modes, engine.ModeMerge)
	}
	if watchFlag {
		modes = append(modes, engine.ModeWatch)
	}

	req := engine.Request{Mode: engine.ModeSync}
	switch len(modes) {
	case 0:
	case 1:
		req.Mode = modes[0]
	default:
		return req, fmt.Errorf("only one mode flag may be given, got %s and %s", modes[0], modes[1])
	}

	if len(args) > 0 && req.Mode != engine.ModeMerge {
		return req, fmt.Errorf("unexpected arguments %q", args)
	}
	req.Args = args
	req.ProjectID = projectIDFlag
	return req, nil
}

// confirmReset asks before deleting anything when a person is at the
// terminal.
func confirmReset() (bool, error) {
	if yesFlag || !term.IsTerminal(int(os.Stdin.Fd())) {
		return true, nil
	}
	var ok bool
	err := huh.NewConfirm().
		Title("Remove mxgit from this repository?").
		Description("Deletes .svn and .mendix-cache, mxgit's git hooks and its merge driver.").
		Affirmative("Remove").
		Negative("Cancel").
		Value(&ok).
		Run()
	return ok, err
}

func run(cmd *cobra.Command, args []string) int {
	printer := ui.New(os.Stdout)

	req, err := buildRequest(cmd, args)
	if err != nil {
		printer.Error(err)
		return engine.ExitFailure
	}

	root, err := os.Getwd()
	if err != nil {
		printer.Error(err)
		return engine.ExitFailure
	}

	cfg, err := config.Load(root, configFlag, cmd.Flags())
	if err != nil {
		printer.Error(err)
		if errors.Is(err, config.ErrInvalid) {
			return engine.ExitInvalidConfig
		}
		return engine.ExitFailure
	}

	logOpts := logging.Options{
		Verbose:    verboseFlag,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}
	// the log file lives in the cache dir; never create it outside a
	// repository or while removing it
	if _, err := os.Stat(filepath.Join(root, ".git")); err == nil && req.Mode != engine.ModeReset {
		logOpts.File = cfg.LogPath()
	}
	logger := logging.New(logOpts)
	defer logger.Close()

	if req.Mode == engine.ModeReset {
		ok, err := confirmReset()
		if err != nil {
			printer.Error(err)
			return engine.ExitFailure
		}
		if !ok {
			printer.Done("reset cancelled")
			return engine.ExitOK
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := engine.New(cfg,
		engine.WithLogger(logger.Logger),
		engine.WithNotifier(printer),
	)

	out, err := eng.Run(ctx, req)
	if err != nil {
		logger.Debug("run failed", "error", err)
		printer.Error(err)
		return engine.ExitCode(err)
	}

	if out.ReloadRequired && req.Mode != engine.ModeWatch {
		printer.ReloadRequired(out.ReloadReasons)
	}
	if out.Message != "" {
		printer.Done(out.Message)
	}
	return out.ExitCode
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mxgit: %v\n", err)
		os.Exit(engine.ExitFailure)
	}
	os.Exit(exitCode)
}
