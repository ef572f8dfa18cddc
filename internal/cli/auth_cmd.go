// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// auth_cmd.go - Account commands for the job service.
//
// Commands:
//   login [--user NAME]       Exchange credentials for a bearer token
//   logout                    Invalidate and forget the token
//   register [--user NAME]    Create an account
//
// The password is read from BILLDASH_PASSWORD when set, otherwise prompted
// for without echo. Tokens are stored encrypted at server.token_file.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/jeranaias/billdash/internal/auth"
)

// ErrPromptAborted is returned when the user cancels a credential prompt.
var ErrPromptAborted = errors.New("prompt aborted")

// credentials returns the username and password for login or register.
func credentials(p *ArgParser) (string, string, error) {
	user := p.Flag("user", "u")
	pass := os.Getenv("BILLDASH_PASSWORD")
	if user != "" && pass != "" {
		return user, pass, nil
	}
	if err := RequiresTTY("read credentials"); err != nil {
		return "", "", err
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	var err error
	if user == "" {
		if user, err = line.Prompt("Username: "); err != nil {
			return "", "", promptErr(err)
		}
	}
	if pass == "" {
		if pass, err = line.PasswordPrompt("Password: "); err != nil {
			return "", "", promptErr(err)
		}
	}
	return strings.TrimSpace(user), pass, nil
}

func promptErr(err error) error {
	if errors.Is(err, liner.ErrPromptAborted) {
		return ErrPromptAborted
	}
	return fmt.Errorf("read credentials: %w", err)
}

// HandleLogin logs in and stores the token.
func HandleLogin(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw)
	app, err := NewApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	user, pass, err := credentials(p)
	if err != nil {
		return err
	}
	if _, err := app.Client.Login(ctx, user, pass); err != nil {
		return err
	}
	if err := app.Tokens.Save(app.Client.Token()); err != nil {
		return NewCommandError("login", "store token", "could not write "+app.Tokens.Path(), err)
	}

	if args.JSON {
		return writeJSON(args, AuthData{User: user, TokenFile: app.Tokens.Path(), LoggedIn: true})
	}
	if !args.Quiet {
		fmt.Fprintf(args.out(), "%s Logged in as %s\n", SuccessStyle.Render("[OK]"), user)
	}
	return nil
}

// HandleLogout invalidates the token server-side, then removes it locally.
// The local token is removed even when the server cannot be reached.
func HandleLogout(ctx context.Context, args Args) error {
	app, err := NewApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	if app.Client.Token() == "" {
		return auth.ErrNoToken
	}
	if err := app.Client.Logout(ctx); err != nil {
		app.Log.Warn("server logout failed", zap.Error(err))
	}
	if err := app.Tokens.Clear(); err != nil {
		return err
	}

	if args.JSON {
		return writeJSON(args, AuthData{TokenFile: app.Tokens.Path()})
	}
	if !args.Quiet {
		fmt.Fprintf(args.out(), "%s Logged out\n", SuccessStyle.Render("[OK]"))
	}
	return nil
}

// HandleRegister creates an account. It does not log in.
func HandleRegister(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw)
	app, err := NewApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	user, pass, err := credentials(p)
	if err != nil {
		return err
	}
	if err := app.Client.Register(ctx, user, pass); err != nil {
		return err
	}

	if args.JSON {
		return writeJSON(args, AuthData{User: user})
	}
	if !args.Quiet {
		fmt.Fprintf(args.out(), "%s Registered %s. Log in with: billdash login --user %s\n",
			SuccessStyle.Render("[OK]"), user, user)
	}
	return nil
}
