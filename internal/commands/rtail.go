package commands

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"rsh/pkg/auth"
	"rsh/pkg/config"
	"rsh/pkg/logging"
	"rsh/pkg/output"
	"rsh/pkg/platform"
	"rsh/pkg/prompt"
	"rsh/pkg/terminal"
)

const defaultTailLines = 10

type rtailCommand struct {
	globalFlags
	streams Streams

	follow    bool
	lines     int
	noHeaders bool
}

// NewRtail builds the rtail command.
func NewRtail(streams Streams) *cobra.Command {
	r := &rtailCommand{streams: streams}
	cmd := &cobra.Command{
		Use:   "rtail [flags] [protocol://][user@]host[:port][[/env]/stack]/service...",
		Short: "Print the logs of every container of platform services",
		Long: `Print the last lines of the logs of every container of one or more
services. With -f the logs are followed until interrupted.`,
		Args:          cobra.MinimumNArgs(1),
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          r.run,
	}
	cmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	r.register(cmd, "")
	flags := cmd.Flags()
	flags.BoolVarP(&r.follow, "follow", "f", false, "Do not stop at end of file, wait for additional data")
	flags.IntVarP(&r.lines, "lines", "n", defaultTailLines, "Number of lines")
	flags.BoolVarP(&r.noHeaders, "quiet", "q", false, "Suppress printing headers for multiple containers")
	return cmd
}

func (r *rtailCommand) run(cmd *cobra.Command, args []string) error {
	if r.lines < 0 {
		return &config.InputError{Field: "lines", Msg: fmt.Sprintf("Bad number of lines '%d'.", r.lines)}
	}

	log, err := r.setupLogging(r.streams, false)
	if err != nil {
		return err
	}
	defer log.Close()
	log.Debug().Str("version", Version).Msg("rtail")

	cfg, err := config.Load(r.configFile, r.overrides)
	if err != nil {
		return err
	}

	all := make([]*config.Options, 0, len(args))
	for _, host := range args {
		opts, err := config.Resolve(host, config.Flags{Port: r.port}, cfg)
		if err != nil {
			return fmt.Errorf("%s: %w", host, err)
		}
		if err := applyConfigLevel(log, opts, r.explicitLevel(false)); err != nil {
			return err
		}
		all = append(all, opts)
	}

	if r.printConfig {
		format, err := output.GetFormatFromCmd(cmd)
		if err != nil {
			return err
		}
		if format == output.FormatText {
			list := make([]fmt.Stringer, len(all))
			for i, o := range all {
				list[i] = o
			}
			return printConfig(cmd, list)
		}
		return printConfig(cmd, all)
	}
	return r.tail(cmd.Context(), all, log)
}

type logStream struct {
	name      string
	transport *terminal.Transport
}

func (r *rtailCommand) tail(ctx context.Context, all []*config.Options, log *logging.Logger) error {
	hosts, err := newHosts(log, prompt.New(r.streams.In, r.streams.ErrOut))
	if err != nil {
		return err
	}

	failed := false
	var streams []logStream
	for _, opts := range all {
		h := hosts.get(opts)
		resolver := platform.NewResolver(h.client)
		containers, err := auth.Do(ctx, h.auth, func(ctx context.Context) ([]platform.Container, error) {
			return resolver.Resolve(ctx, target(opts), platform.HasAction("logs"))
		})
		if err != nil {
			fmt.Fprintf(r.streams.ErrOut, "rtail: %s/%s: %v\n", opts.URL(), target(opts), err)
			failed = true
			continue
		}

		for _, c := range containers {
			access, err := auth.Do(ctx, h.auth, func(ctx context.Context) (*platform.HostAccess, error) {
				return h.client.Logs(ctx, c, platform.ContainerLogs{Follow: r.follow, Lines: r.lines})
			})
			if err != nil {
				fmt.Fprintf(r.streams.ErrOut, "rtail: %s: %v\n", c.DisplayName(), err)
				failed = true
				continue
			}
			url, err := access.AuthedURL()
			if err != nil {
				return err
			}
			t, err := terminal.Dial(ctx, url, terminal.DialOptions{
				Encoding: terminal.Lenient,
				Logger:   log.With().Str("container", c.DisplayName()).Logger(),
			})
			if err != nil {
				fmt.Fprintf(r.streams.ErrOut, "rtail: %s: %v\n", c.DisplayName(), err)
				failed = true
				continue
			}
			streams = append(streams, logStream{name: c.DisplayName(), transport: t})
		}
	}

	out := &headerWriter{w: r.streams.Out, headers: !r.noHeaders && len(streams) > 1}
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, s := range streams {
		wg.Add(1)
		go func(s logStream) {
			defer wg.Done()
			if err := copyStream(ctx, s, out, log.Logger); err != nil {
				mu.Lock()
				failed = true
				mu.Unlock()
				fmt.Fprintf(r.streams.ErrOut, "rtail: %s: %v\n", s.name, err)
			}
		}(s)
	}
	wg.Wait()

	if failed {
		return errReported
	}
	return nil
}

// copyStream writes a log stream until the server closes it or ctx ends.
func copyStream(ctx context.Context, s logStream, out *headerWriter, log zerolog.Logger) error {
	defer s.transport.Close()
	for {
		select {
		case r, ok := <-s.transport.Frames():
			if !ok {
				log.Debug().Str("container", s.name).Msg("log stream closed")
				return nil
			}
			if r.Err != nil {
				return r.Err
			}
			if err := out.write(s.name, r.Value.Data); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// headerWriter serializes output from several streams and, like tail,
// prints a "==> name <==" header whenever the source changes.
type headerWriter struct {
	mu      sync.Mutex
	w       io.Writer
	headers bool
	last    string
	started bool
}

func (h *headerWriter) write(name string, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.headers && (!h.started || name != h.last) {
		sep := ""
		if h.started {
			sep = "\n"
		}
		if _, err := fmt.Fprintf(h.w, "%s==> %s <==\n", sep, name); err != nil {
			return err
		}
	}
	h.started = true
	h.last = name
	_, err := h.w.Write(data)
	return err
}
