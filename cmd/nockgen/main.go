// nockgen sends one HTTP request and prints the nock script that replays it.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tangledfruit/rxfetch"
	"github.com/tangledfruit/rxfetch/cassette"
)

type flags struct {
	method   string
	headers  []string
	data     string
	fail     bool
	cassette string
	logLevel string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "nockgen [flags] URL",
		Short:         "Send a request and print a nock fixture for it",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], f, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	fl := cmd.Flags()
	fl.StringVarP(&f.method, "request", "X", http.MethodGet, "HTTP method")
	fl.StringArrayVarP(&f.headers, "header", "H", nil, `request header as "Name: value", repeatable`)
	fl.StringVarP(&f.data, "data", "d", "", "request body")
	fl.BoolVar(&f.fail, "fail", false, "exit with an error on HTTP error statuses")
	fl.StringVar(&f.cassette, "cassette", "", "also add the exchange to this YAML cassette")
	fl.StringVar(&f.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	return cmd
}

func run(ctx context.Context, url string, f flags, stdout, stderr io.Writer) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(f.logLevel)); err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	header := http.Header{}
	for _, h := range f.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("--header %q: want \"Name: value\"", h)
		}
		header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	sink := rxfetch.WriterSink(stdout)
	if f.cassette != "" {
		c := cassette.New(f.cassette)
		c.Logger = logger
		sink = rxfetch.MultiSink(sink, c)
	}

	opts := &rxfetch.Options{
		Method:   f.method,
		Header:   header,
		RecordTo: sink,
		Logger:   logger,
	}
	if f.data != "" {
		opts.Body = []byte(f.data)
	}
	fetch := rxfetch.New(url, opts)

	var text *rxfetch.Single[string]
	if f.fail {
		text = fetch.Text()
	} else {
		text = rxfetch.FlatMap(fetch.Single(), (*rxfetch.Response).Text)
	}
	_, err := text.Await(ctx)
	if cerr := sink.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func main() {
	cmd := newRootCmd(os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "nockgen:", err)
		os.Exit(1)
	}
}
