// Package commands implements the rsh and rtail command lines.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"rsh/pkg/auth"
	"rsh/pkg/config"
	"rsh/pkg/credentials"
	"rsh/pkg/logging"
	"rsh/pkg/output"
	"rsh/pkg/platform"
	"rsh/pkg/prompt"
)

// Version is set at build time.
var Version = "dev"

// errReported means the failure has already been printed.
var errReported = errors.New("failure reported")

// Streams are the process streams a command works on.
type Streams struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
}

// Stdio returns the process streams.
func Stdio() Streams {
	return Streams{In: os.Stdin, Out: os.Stdout, ErrOut: os.Stderr}
}

func isTerminal(v interface{}) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Execute runs cmd and returns the process exit status. Errors are printed
// as a single "<name>: <message>" line.
func Execute(cmd *cobra.Command, streams Streams) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.SetIn(streams.In)
	cmd.SetOut(streams.Out)
	cmd.SetErr(streams.ErrOut)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(streams.ErrOut, "%s: %v\n", cmd.Name(), err)
		}
		return 1
	}
	return 0
}

// globalFlags are shared by rsh and rtail.
type globalFlags struct {
	configFile  string
	overrides   []string
	port        string
	verbose     int
	quiet       bool
	logFile     string
	printConfig bool
}

func (g *globalFlags) register(cmd *cobra.Command, configShorthand string) {
	flags := cmd.Flags()
	flags.StringVarP(&g.configFile, "config", configShorthand, "", "Specifies an alternative configuration file (default is $HOME/.rsh/config.yaml)")
	flags.StringArrayVarP(&g.overrides, "option", "o", nil, "Set an option by name (key=value)")
	flags.StringVarP(&g.port, "port", "p", "", "Port to connect to on the remote host")
	flags.CountVarP(&g.verbose, "verbose", "v", "Verbose mode, multiples increase the verbosity")
	flags.StringVarP(&g.logFile, "log-file", "E", "", "Append debug logs to LOGFILE instead of standard error")
	flags.BoolVarP(&g.printConfig, "print-config", "G", false, "Print the configuration and exit")
	output.AddFormatFlag(cmd)
}

// level is the log level the command line asks for. -v wins over quiet.
func (g *globalFlags) level(quiet bool) zerolog.Level {
	switch {
	case g.verbose >= 2:
		return zerolog.TraceLevel
	case g.verbose == 1:
		return zerolog.DebugLevel
	case quiet:
		return zerolog.Disabled
	}
	return logging.DefaultLevel
}

// explicitLevel reports whether the command line fixed the level, in
// which case the configuration file's log_level is ignored.
func (g *globalFlags) explicitLevel(quiet bool) bool {
	return g.verbose > 0 || quiet
}

func (g *globalFlags) setupLogging(streams Streams, quiet bool) (*logging.Logger, error) {
	return logging.Setup(logging.Options{
		Level: g.level(quiet),
		File:  g.logFile,
		Out:   streams.ErrOut,
	})
}

// applyConfigLevel honours log_level from the configuration file.
func applyConfigLevel(log *logging.Logger, opts *config.Options, explicit bool) error {
	if explicit || opts.LogLevel == "" {
		return nil
	}
	level, err := logging.ParseLevel(opts.LogLevel)
	if err != nil {
		return &config.InputError{Field: "log_level", Msg: fmt.Sprintf("Bad configuration option: \"%s\" for log_level.", opts.LogLevel)}
	}
	log.Handle().SetLevel(level)
	return nil
}

func printConfig(cmd *cobra.Command, data interface{}) error {
	format, err := output.GetFormatFromCmd(cmd)
	if err != nil {
		return err
	}
	f := output.New(format)
	f.SetWriter(cmd.OutOrStdout())
	return f.Output(data)
}

// hosts hands out one API client and authenticator per platform so that a
// user logs in at most once per host.
type hosts struct {
	log      *logging.Logger
	prompter *prompt.Prompter
	store    *credentials.Store
	onLogin  func()
	entries  map[string]*hostEntry
}

type hostEntry struct {
	client *platform.Client
	auth   *auth.Authenticator
}

func newHosts(log *logging.Logger, prompter *prompt.Prompter) (*hosts, error) {
	dir, err := credentials.DefaultDir()
	if err != nil {
		return nil, err
	}
	return &hosts{
		log:      log,
		prompter: prompter,
		store:    credentials.NewStore(dir),
		entries:  make(map[string]*hostEntry),
	}, nil
}

func (h *hosts) get(opts *config.Options) *hostEntry {
	hostPort := opts.HostPort()
	if e, ok := h.entries[hostPort]; ok {
		return e
	}

	log := h.log.Logger.With().Str("host", hostPort).Logger()
	key, err := h.store.Load(hostPort)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("ignoring stored api key")
	case key != nil:
		log.Debug().Str("key", key.PublicValue).Str("path", h.store.Path(hostPort)).Msg("using stored api key")
	default:
		log.Debug().Str("path", h.store.Path(hostPort)).Msg("no stored api key")
	}

	client := platform.NewClient(opts.URL(),
		platform.WithAPIPath(opts.APIPath),
		platform.WithLogger(log),
		platform.WithAPIKey(key),
	)
	authOpts := []auth.Option{
		auth.WithAuthProvider(opts.AuthProvider),
		auth.WithLogger(log),
	}
	if h.onLogin != nil {
		authOpts = append(authOpts, auth.WithLoginHook(h.onLogin))
	}
	e := &hostEntry{
		client: client,
		auth:   auth.New(client, h.prompter, h.store, hostPort, authOpts...),
	}
	h.entries[hostPort] = e
	return e
}

func target(opts *config.Options) platform.Target {
	return platform.Target{
		Environment: opts.Environment,
		Stack:       opts.Stack,
		Service:     opts.Service,
	}
}
