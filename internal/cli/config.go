// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation.
//
// Command: config [subcommand]
//
// Subcommands:
//   show (default)      Show the effective configuration
//   path                Print the config file path
//   init                Write a default config file
//   get KEY             Print one value
//   set KEY VALUE       Change one value and save
//   keys                List settable keys
//
// Examples:
//   billdash config set server.host analysis.local
//   billdash config set poll.stage_timeout 10m
//   billdash config get export.format

package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/billdash/internal/config"
)

// HandleConfig handles the "config" command.
func HandleConfig(args Args) error {
	applyColorFlag(args)
	p := NewArgParser(args.Raw, "force")

	cfg, path, err := loadConfig(args)
	if err != nil && p.Subcommand() != "init" && p.Subcommand() != "path" {
		return err
	}
	if path == "" {
		path, _ = config.ActivePath()
	}

	switch sub := p.Subcommand(); sub {
	case "", "show":
		return configShow(args, cfg, path)
	case "path":
		if args.JSON {
			return writeJSON(args, map[string]string{"path": path})
		}
		fmt.Fprintln(args.out(), path)
		return nil
	case "init":
		return configInit(args, path, p.BoolFlag("force"))
	case "get":
		key := p.Positional(1)
		if key == "" {
			return ErrMissingArgument("key", "billdash config get export.format")
		}
		v, err := cfg.Get(key)
		if err != nil {
			return NewValidationError("key", key, err.Error())
		}
		if args.JSON {
			return writeJSON(args, map[string]any{"key": key, "value": v})
		}
		fmt.Fprintln(args.out(), v)
		return nil
	case "set":
		return configSet(args, cfg, path, p.Positional(1), p.Positional(2))
	case "keys":
		keys := config.GetAllKeys()
		if args.JSON {
			return writeJSON(args, keys)
		}
		fmt.Fprintln(args.out(), strings.Join(keys, "\n"))
		return nil
	default:
		return NewValidationErrorWithExample("subcommand", sub, "unknown config subcommand",
			"billdash config [show|path|init|get|set|keys]")
	}
}

func configShow(args Args, cfg *config.Config, path string) error {
	if args.JSON {
		return writeJSON(args, map[string]any{"path": path, "config": cfg})
	}
	w := args.out()
	fmt.Fprintln(w, TitleStyle.Render("billdash configuration"))
	fmt.Fprintf(w, "%s%s\n", RenderLabel("File:"), DimStyle.Render(path))
	fmt.Fprintf(w, "%s%s\n", RenderLabel("API:"), cfg.APIURL())
	fmt.Fprintf(w, "%s%s\n\n", RenderLabel("Metrics:"), cfg.MetricsURL())
	for _, key := range config.GetAllKeys() {
		v, err := cfg.Get(key)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "%s%v\n", RenderLabel(key, 28), v)
	}
	return nil
}

func configInit(args Args, path string, force bool) error {
	if _, err := os.Stat(path); err == nil {
		ok, err := RequireConfirmation(args, force, "Overwrite "+path)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(args.out(), DimStyle.Render("Cancelled."))
			return nil
		}
	}
	cfg := config.Default()
	var err error
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = config.SaveJSON(cfg, path)
	} else {
		err = config.SaveTOML(cfg, path)
	}
	if err != nil {
		return err
	}
	if args.JSON {
		return writeJSON(args, map[string]string{"path": path})
	}
	fmt.Fprintf(args.out(), "%s Wrote %s\n", SuccessStyle.Render("[OK]"), path)
	return nil
}

func configSet(args Args, cfg *config.Config, path, key, value string) error {
	if key == "" || value == "" {
		return ErrMissingArgument("key and value", "billdash config set server.host analysis.local")
	}
	if err := cfg.Set(key, value); err != nil {
		return NewValidationError("key", key, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		var verrs config.ValidateErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return verrs[0]
		}
		return err
	}

	var err error
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = config.SaveJSON(cfg, path)
	} else {
		err = config.SaveTOML(cfg, path)
	}
	if err != nil {
		return err
	}
	if args.JSON {
		return writeJSON(args, map[string]string{"key": key, "value": value, "path": path})
	}
	if !args.Quiet {
		fmt.Fprintf(args.out(), "%s %s = %s\n", SuccessStyle.Render("[OK]"), key, value)
	}
	return nil
}
