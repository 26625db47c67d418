package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/gaspardpetit/promptrelay/internal/config"
	"github.com/gaspardpetit/promptrelay/internal/logx"
	"github.com/gaspardpetit/promptrelay/sdk/relayclient"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		_, _ = fmt.Fprintf(out, "promptrelay-ask version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		_, _ = fmt.Fprintf(out, "usage: promptrelay-ask [flags] [prompt...]\n  reads the prompt from stdin when no arguments are given\n\n")
		flag.PrintDefaults()
	}
	var cfg config.ClientConfig
	if err := cfg.Load(flag.CommandLine, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *showVersion {
		fmt.Printf("promptrelay-ask version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	logx.Configure(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logx.Log.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	prompt, err := readPrompt(flag.Args(), os.Stdin)
	if err != nil {
		logx.Log.Error().Err(err).Msg("read prompt")
		os.Exit(1)
	}

	client, err := relayclient.New(cfg.BaseURL,
		relayclient.WithTimeout(cfg.Timeout),
		relayclient.WithLogger(logx.Component("relayclient")),
	)
	if err != nil {
		logx.Log.Error().Err(err).Msg("configure client")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	text, err := client.GenerateTextWithOpenAI(ctx, prompt)
	stop()
	if err != nil {
		var se *relayclient.StatusError
		if errors.As(err, &se) {
			fmt.Fprintf(os.Stderr, "relay returned %d: %s\n", se.StatusCode, strings.TrimSpace(se.Body))
		}
		os.Exit(1)
	}
	fmt.Println(text)
}

func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	p := strings.TrimSpace(string(b))
	if p == "" {
		return "", errors.New("empty prompt")
	}
	return p, nil
}
