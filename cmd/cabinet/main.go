package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	cabinet "github.com/Nhiaz/bedolaga-cabinet"
)

// Options are the command line flags of the cabinet CLI.
type Options struct {
	Config       string        `short:"c" long:"config" description:"config file (yaml, json or toml)"`
	Method       string        `short:"X" long:"method" default:"GET" description:"HTTP method"`
	Data         string        `short:"d" long:"data" description:"JSON request body"`
	InitData     string        `long:"init-data" env:"TELEGRAM_INIT_DATA" description:"Telegram WebApp init data"`
	AccessToken  string        `long:"access-token" description:"seed the store with this access token"`
	RefreshToken string        `long:"refresh-token" description:"seed the store with this refresh token"`
	MetricsAddr  string        `long:"metrics-addr" description:"serve Prometheus metrics on this address and keep running"`
	Repeat       int           `long:"repeat" default:"1" description:"send the request this many times"`
	Interval     time.Duration `long:"interval" default:"1s" description:"pause between repeated requests"`
	Version      bool          `short:"v" long:"version" description:"print version and exit"`
	Args         struct {
		Path string `positional-arg-name:"path" description:"request path, relative to base_url"`
	} `positional-args:"yes"`
}

func main() {
	if err := Run(os.Args[1:], os.Stdout); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Run parses args, performs the configured request and writes response
// bodies to out.
func Run(args []string, out io.Writer) error {
	options := &Options{}
	if _, err := flags.ParseArgs(options, args); err != nil {
		return err
	}
	if options.Version {
		_, err := fmt.Fprintln(out, cabinet.GetVersion())
		return err
	}
	if options.Args.Path == "" {
		return errors.New("path is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := cabinet.LoadConfig(options.Config)
	if err != nil {
		return err
	}

	var extra []cabinet.Option
	if options.InitData != "" {
		extra = append(extra, cabinet.WithIdentitySource(cabinet.StaticIdentity(options.InitData)))
	}
	if options.MetricsAddr != "" {
		extra = append(extra, cabinet.WithMetrics())
	}
	extra = append(extra, cabinet.WithOnSessionExpired(func(_ context.Context, err error) {
		fmt.Fprintf(os.Stderr, "session expired, log in again: %v\n", err)
	}))

	client, err := cabinet.NewFromConfig(cfg, extra...)
	if err != nil {
		return err
	}
	defer client.Close()

	if options.AccessToken != "" || options.RefreshToken != "" {
		seed := cabinet.Session{AccessToken: options.AccessToken, RefreshToken: options.RefreshToken}
		if err := cabinet.SeedSession(ctx, client.Store(), seed); err != nil {
			return err
		}
	}

	var metricsServer *http.Server
	if options.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: options.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintln(os.Stderr, err)
			}
		}()
	}

	repeat := options.Repeat
	if repeat < 1 {
		repeat = 1
	}
	for i := 0; i < repeat; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(options.Interval):
			}
		}
		if err := send(ctx, client, options, out); err != nil {
			return err
		}
	}

	if metricsServer == nil {
		return nil
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return metricsServer.Shutdown(shutdownCtx)
}

func send(ctx context.Context, client *cabinet.Client, options *Options, out io.Writer) error {
	var body io.Reader
	if options.Data != "" {
		body = strings.NewReader(options.Data)
	}
	req, err := client.NewRequest(ctx, strings.ToUpper(options.Method), options.Args.Path, body)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s", req.Method, req.URL, resp.Status)
	}
	return nil
}
