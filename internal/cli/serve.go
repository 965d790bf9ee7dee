// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - The "serve" command: runs the relay in the foreground.
//
// Examples:
//
//	relaychat serve
//	relaychat serve --port 9000 --host 0.0.0.0
//	relaychat serve --watch
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/relaychat/internal/config"
	"github.com/jeranaias/relaychat/internal/ollama"
	"github.com/jeranaias/relaychat/internal/server"
)

// shutdownTimeout bounds how long open streams may finish after a signal.
const shutdownTimeout = 10 * time.Second

// serveOptions maps the loaded config and flags to server options.
func serveOptions(cfg *config.Config, p *ArgParser) (server.Options, error) {
	opts := server.Options{
		Host:               p.FlagOrDefault("host", "127.0.0.1"),
		Port:               cfg.Server.Port,
		CORSOrigin:         cfg.Server.CORSOrigin,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		MaxBodyBytes:       cfg.Server.MaxBodyBytes,
		ReadTimeout:        cfg.Server.ReadTimeout(),
		IdleTimeout:        cfg.Server.IdleTimeout(),
	}
	if p.HasFlag("port") {
		port, err := p.FlagInt("port")
		if err != nil || port < 1 || port > 65535 {
			return opts, &ValidationError{Field: "port", Value: p.Flag("port"), Reason: "must be between 1 and 65535", Example: "relaychat serve --port 8080"}
		}
		opts.Port = port
	}
	return opts, nil
}

func settingsOf(cfg *config.Config) server.Settings {
	return server.Settings{Model: cfg.Upstream.Model, SystemPrompt: cfg.Upstream.SystemPrompt}
}

// HandleServe handles the "serve" command.
func HandleServe(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	opts, err := serveOptions(cfg, args.Parser)
	if err != nil {
		return err
	}

	upstream := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:        cfg.Upstream.OllamaURL,
		ConnectTimeout: cfg.Upstream.ConnectTimeout(),
	})
	srv := server.NewServer(upstream, opts, settingsOf(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !args.Quiet {
		fmt.Printf("%s listening on http://%s\n", TitleStyle.Render("relaychat relay"), srv.Addr())
		fmt.Printf("%s %s\n", RenderLabel("Upstream:"), ValueStyle.Render(upstream.BaseURL()))
		fmt.Printf("%s %s\n", RenderLabel("Model:"), ValueStyle.Render(cfg.Upstream.Model))
		fmt.Println(DimStyle.Render("Press Ctrl+C to stop."))
	}

	if args.Parser.BoolFlag("watch") {
		path := args.ConfigPath
		if path == "" {
			if path, err = config.ConfigPath(); err != nil {
				return err
			}
		}
		go func() {
			err := config.Watch(ctx, path, func(next *config.Config) {
				srv.UpdateSettings(settingsOf(next))
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				StderrPrint("%s config watch stopped: %v\n", WarningStyle.Render("[WARN]"), err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return NewCommandError("serve", "start", "relay stopped", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return NewCommandError("serve", "shutdown", "open streams did not finish in time", err)
	}
	return nil
}
