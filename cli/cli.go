// Package cli provides the command-line interface for evidence record
// validation, creation and renewal.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/georgepadayatti/goers/config"
	"github.com/georgepadayatti/goers/evidencerecord"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// errNotPassed signals a completed validation whose result is not PASSED.
// The report has been printed already.
var errNotPassed = errors.New("validation did not pass")

// app holds the state shared by the commands of one invocation.
type app struct {
	configFile string
	logLevel   string

	cfg    *config.AppConfig
	logger *zap.Logger
}

// NewRootCommand returns the goers command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "goers",
		Short: "Evidence record validation tool",
		Long: `Validate, create and renew RFC 4998 and RFC 6283 evidence records.

Commands:
  verify   Validate evidence records against documents or a signature
  digest   Compute the evidence record digest of a CAdES or XAdES signature
  create   Create an evidence record over documents
  renew    Renew the timestamp or the hash tree of an evidence record
  embed    Protect a signature with an embedded evidence record
  serve    Run the HTTP validation service
  version  Show version information

Examples:
  # Validate a detached evidence record
  goers verify --document contract.pdf --trust tsa-root.pem contract.ers

  # Validate the records embedded in a signature
  goers verify --signature contract.p7s --document contract.pdf --trust tsa-root.pem

  # Create a record with a remote timestamp authority
  goers create --tsa-url https://tsa.example.com -o contract.ers contract.pdf`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level override: debug, info, warn, error")

	root.AddCommand(
		newVerifyCmd(a),
		newDigestCmd(a),
		newCreateCmd(a),
		newRenewCmd(a),
		newEmbedCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads the configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if a.configFile != "" {
		cfg, err := config.LoadAppConfig(a.configFile)
		if err != nil {
			return err
		}
		a.cfg = cfg
	} else {
		a.cfg = config.DefaultAppConfig()
	}
	if a.logLevel != "" {
		a.cfg.Logging.Level = a.logLevel
		if err := a.cfg.Logging.Validate(); err != nil {
			return err
		}
	}
	logger, err := a.cfg.Logging.NewLogger()
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

// Execute runs the command tree with args and returns the exit code.
func Execute(args []string) int {
	root := NewRootCommand()
	root.SetArgs(args)
	return exitCode(root.Execute(), root.ErrOrStderr())
}

func exitCode(err error, stderr io.Writer) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errNotPassed):
		return 1
	default:
		color.New(color.FgRed).Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
}

// Run executes the CLI with os.Args and exits.
func Run() {
	os.Exit(Execute(os.Args[1:]))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "goers version %s\n", Version)
			fmt.Fprintf(out, "Build time: %s\n", BuildTime)
			return nil
		},
	}
}

func loadDocuments(paths []string) ([]*evidencerecord.Document, error) {
	docs := make([]*evidencerecord.Document, 0, len(paths))
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to open document: %w", err)
		}
		docs = append(docs, evidencerecord.NewFileDocument(path))
	}
	return docs, nil
}

func writeOutput(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

func success(w io.Writer, format string, args ...any) {
	color.New(color.FgGreen).Fprintf(w, format+"\n", args...)
}
