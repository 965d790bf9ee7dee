// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - The "config" command.
//
// Examples:
//
//	relaychat config           Show the effective configuration
//	relaychat config init      Write a default config file
//	relaychat config path      Print the config file location
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jeranaias/relaychat/internal/config"
)

const configUsage = "relaychat config [show|init|path]"

// HandleConfig handles the "config" command.
func HandleConfig(args Args) error {
	return runConfig(args, os.Stdout)
}

func runConfig(args Args, out io.Writer) error {
	path := args.ConfigPath
	if path == "" {
		var err error
		if path, err = config.ConfigPath(); err != nil {
			return err
		}
	}

	switch sub := args.Parser.Subcommand(); sub {
	case "", "show":
		cfg, err := loadConfig(args)
		if err != nil {
			return err
		}
		if args.JSON {
			return NewJSONResponse("config", cfg).Encode(out)
		}
		fmt.Fprintf(out, "# %s\n", path)
		fmt.Fprint(out, cfg.String())
		return nil

	case "path":
		fmt.Fprintln(out, path)
		return nil

	case "init":
		if _, err := os.Stat(path); err == nil && !args.Parser.BoolFlag("force") {
			return NewCommandError("config", "init", "config file already exists (use --force to overwrite)", nil)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return NewCommandError("config", "init", "could not check config file", err)
		}
		if err := config.SaveTOML(config.Default(), path); err != nil {
			return NewCommandError("config", "init", "could not write config file", err)
		}
		if !args.Quiet {
			fmt.Fprintf(out, "%s wrote %s\n", SuccessStyle.Render("[OK]"), path)
		}
		return nil

	default:
		return ErrUnknownSubcommand("config", sub, configUsage)
	}
}
