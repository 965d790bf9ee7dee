// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// status.go - Health of the relay and the model service behind it.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jeranaias/relaychat/internal/chat"
	"github.com/jeranaias/relaychat/internal/config"
	"github.com/jeranaias/relaychat/internal/ollama"
)

// StatusData is the JSON form of the status command.
type StatusData struct {
	Relay       string   `json:"relay"`
	RelayOK     bool     `json:"relay_ok"`
	RelayError  string   `json:"relay_error,omitempty"`
	Version     string   `json:"version,omitempty"`
	Model       string   `json:"model,omitempty"`
	Ollama      string   `json:"ollama"`
	OllamaOK    bool     `json:"ollama_ok"`
	OllamaError string   `json:"ollama_error,omitempty"`
	Models      []string `json:"models,omitempty"`
}

// OK reports whether both services answered.
func (d StatusData) OK() bool {
	return d.RelayOK && d.OllamaOK
}

// checkStatus queries the relay's /health and the model service directly.
func checkStatus(ctx context.Context, relay *chat.RelayClient, upstream *ollama.Client) StatusData {
	data := StatusData{Relay: relay.BaseURL(), Ollama: upstream.BaseURL()}

	if health, err := relay.Health(ctx); err != nil {
		data.RelayError = err.Error()
	} else {
		data.RelayOK = health.OK
		data.Version = health.Version
		data.Model = health.Model
		if !health.OK {
			data.RelayError = health.Message
		}
	}

	if models, err := upstream.ListModels(ctx); err != nil {
		data.OllamaError = err.Error()
	} else {
		data.OllamaOK = true
		for _, m := range models {
			data.Models = append(data.Models, m.Name)
		}
	}
	return data
}

// HandleStatus handles the "status" command.
func HandleStatus(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	relay := chat.NewRelayClient(args.Parser.FlagOrDefault("relay", cfg.Client.RelayURL))
	upstream := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:        cfg.Upstream.OllamaURL,
		ConnectTimeout: cfg.Upstream.ConnectTimeout(),
	})
	data := checkStatus(ctx, relay, upstream)

	if args.JSON {
		resp := NewJSONResponse("status", data)
		resp.Success = data.OK()
		return resp.Print()
	}
	printStatus(os.Stdout, cfg, data)
	return nil
}

func printStatus(w io.Writer, cfg *config.Config, data StatusData) {
	fmt.Fprintln(w, TitleStyle.Render("relaychat status"))

	relayState := "ok"
	if !data.RelayOK {
		relayState = "fail"
	}
	fmt.Fprintf(w, "%s %s %s\n", RenderLabel("Relay:"), RenderStatus(relayState), data.Relay)
	if data.RelayError != "" {
		fmt.Fprintf(w, "%s %s\n", RenderLabel(""), DimStyle.Render(data.RelayError))
	} else {
		fmt.Fprintf(w, "%s %s (v%s)\n", RenderLabel("Serving:"), data.Model, data.Version)
	}

	ollamaState := "ok"
	if !data.OllamaOK {
		ollamaState = "fail"
	}
	fmt.Fprintf(w, "%s %s %s\n", RenderLabel("Ollama:"), RenderStatus(ollamaState), data.Ollama)
	if data.OllamaError != "" {
		fmt.Fprintf(w, "%s %s\n", RenderLabel(""), DimStyle.Render(data.OllamaError))
	} else {
		fmt.Fprintf(w, "%s %d installed\n", RenderLabel("Models:"), len(data.Models))
		if !containsModel(data.Models, cfg.Upstream.Model) {
			fmt.Fprintf(w, "%s %s\n", RenderStatus("warn"),
				WarningStyle.Render(fmt.Sprintf("configured model %s is not installed (ollama pull %s)", cfg.Upstream.Model, cfg.Upstream.Model)))
		}
	}
}

// containsModel matches Ollama names, where "llama3.2" means "llama3.2:latest".
func containsModel(models []string, name string) bool {
	for _, m := range models {
		if m == name || m == name+":latest" {
			return true
		}
	}
	return false
}
