package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"rsh/pkg/auth"
	"rsh/pkg/config"
	"rsh/pkg/escape"
	"rsh/pkg/logging"
	"rsh/pkg/platform"
	"rsh/pkg/prompt"
	"rsh/pkg/terminal"
)

type rshCommand struct {
	globalFlags
	streams Streams

	escapeChar string
	user       string
	forceTTY   int
	noTTY      bool
}

// NewRsh builds the rsh command.
func NewRsh(streams Streams) *cobra.Command {
	r := &rshCommand{streams: streams}
	cmd := &cobra.Command{
		Use:   "rsh [flags] [protocol://][user@]host[:port][[/env]/stack]/service [command]",
		Short: "Remote shell into a platform container",
		Long: `Open an interactive shell, or run a command, in a container of a service
running on a Rancher style container platform.

Escape sequences are recognized after a newline, see ~? in a session.`,
		Args:          cobra.MinimumNArgs(1),
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          r.run,
	}
	cmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")
	cmd.Flags().SetInterspersed(false)

	r.register(cmd, "F")
	flags := cmd.Flags()
	flags.StringVarP(&r.escapeChar, "escape", "e", "", "Sets the escape character (default: `~'), or none")
	flags.StringVarP(&r.user, "login", "l", "", "Specifies the user to log in as on the remote machine")
	flags.BoolVarP(&r.quiet, "quiet", "q", false, "Quiet mode")
	flags.CountVarP(&r.forceTTY, "tty", "t", "Force pseudo-terminal allocation, twice to force it without a local terminal")
	flags.BoolVarP(&r.noTTY, "no-tty", "T", false, "Disable pseudo-terminal allocation")
	return cmd
}

func (r *rshCommand) requestTTY() string {
	switch {
	case r.forceTTY > 1:
		return "force"
	case r.forceTTY == 1:
		return "yes"
	case r.noTTY:
		return "no"
	}
	return ""
}

func (r *rshCommand) run(cmd *cobra.Command, args []string) error {
	host, command := args[0], args[1:]
	quiet := r.quiet || len(command) > 0

	log, err := r.setupLogging(r.streams, quiet)
	if err != nil {
		return err
	}
	defer log.Close()
	log.Debug().Str("version", Version).Msg("rsh")

	cfg, err := config.Load(r.configFile, r.overrides)
	if err != nil {
		return err
	}
	if cfg.File != "" {
		log.Debug().Str("file", cfg.File).Msg("read configuration")
	}

	opts, err := config.Resolve(host, config.Flags{
		User:       r.user,
		Port:       r.port,
		EscapeChar: r.escapeChar,
		RequestTTY: r.requestTTY(),
		Command:    command,
	}, cfg)
	if err != nil {
		return err
	}
	if err := applyConfigLevel(log, opts, r.explicitLevel(quiet)); err != nil {
		return err
	}

	if r.printConfig {
		return printConfig(cmd, opts)
	}
	return r.connect(cmd.Context(), opts, log)
}

func (r *rshCommand) connect(ctx context.Context, opts *config.Options, log *logging.Logger) (err error) {
	lifecycle := terminal.NewLifecycle(log.Logger)
	defer func() { lifecycle.Finish(err) }()
	prompter := prompt.New(r.streams.In, r.streams.Out)

	hosts, err := newHosts(log, prompter)
	if err != nil {
		return err
	}
	hosts.onLogin = func() { _ = lifecycle.Transition(terminal.Authenticating) }
	h := hosts.get(opts)
	resolver := platform.NewResolver(h.client)

	containers, err := auth.Do(ctx, h.auth, func(ctx context.Context) ([]platform.Container, error) {
		if err := lifecycle.Transition(terminal.Resolving); err != nil {
			return nil, err
		}
		return resolver.Resolve(ctx, target(opts), platform.HasAction("execute"))
	})
	if err != nil {
		return err
	}

	tty, err := r.negotiateTTY(opts, log)
	if err != nil {
		return err
	}

	policy, err := terminal.ParseContainerPolicy(opts.Container)
	if err != nil {
		return err
	}
	container, err := terminal.Select(policy, containers, tty && prompter.Interactive(), prompter)
	if err != nil {
		return err
	}
	log.Debug().Str("container", container.DisplayName()).Msg("selected container")

	spec := terminal.CommandSpec{
		Command: opts.RemoteCommand,
		TTY:     tty,
		Env:     os.Environ(),
		SendEnv: opts.SendEnv,
	}
	if spec.Command == "" {
		spec.Command = terminal.DefaultRemoteCommand(opts.User)
	}
	if tty {
		spec.Cols, spec.Rows = r.terminalSize()
	}
	argv := terminal.BuildCommand(spec)
	log.Trace().Strs("command", argv).Bool("tty", tty).Msg("making execute request")

	access, err := auth.Do(ctx, h.auth, func(ctx context.Context) (*platform.HostAccess, error) {
		if err := lifecycle.Transition(terminal.Executing); err != nil {
			return nil, err
		}
		return h.client.Exec(ctx, container, platform.NewContainerExec(argv, tty))
	})
	if err != nil {
		return err
	}
	log.Debug().Str("url", access.URL).Msg("got websocket address")

	url, err := access.AuthedURL()
	if err != nil {
		return err
	}
	transport, err := terminal.Dial(ctx, url, terminal.DialOptions{
		Encoding: terminal.Base64,
		Logger:   log.Logger,
	})
	if err != nil {
		return err
	}

	c, enabled := opts.Escape()
	session := terminal.NewSession(transport, terminal.SessionConfig{
		Stdin:     r.streams.In,
		Pending:   prompter.Pending(),
		Stdout:    r.streams.Out,
		TTY:       tty && isTerminal(r.streams.In),
		Escape:    escape.New(c, enabled),
		Handle:    log.Handle(),
		Logger:    log.Logger,
		Lifecycle: lifecycle,
	})
	err = session.Run(ctx)
	if log.Handle().Enabled(zerolog.InfoLevel) {
		fmt.Fprintf(r.streams.ErrOut, "Connection to %s closed.\n", opts.URL())
	}
	return err
}

// negotiateTTY applies the TTY policy. A requested TTY is dropped when
// stdin is not a terminal, unless it was forced.
func (r *rshCommand) negotiateTTY(opts *config.Options, log *logging.Logger) (bool, error) {
	mode, err := terminal.ParseTTYMode(opts.RequestTTY)
	if err != nil {
		return false, err
	}
	tty := terminal.ResolveTTY(mode, opts.RemoteCommand != "", isTerminal(r.streams.Out))
	if tty && mode != terminal.TTYForce && !isTerminal(r.streams.In) {
		log.Warn().Msg("Pseudo-terminal will not be allocated because stdin is not a terminal.")
		return false, nil
	}
	return tty, nil
}

func (r *rshCommand) terminalSize() (cols, rows int) {
	f, ok := r.streams.Out.(*os.File)
	if !ok {
		return 0, 0
	}
	cols, rows, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0, 0
	}
	return cols, rows
}
