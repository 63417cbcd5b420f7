// ABOUTME: The keys subcommand: create, list and revoke API keys in the key database
// ABOUTME: Plaintext keys are printed once at creation and never stored

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/mcp-runtime/internal/store"
)

func runKeys(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return configErr("usage: mcp-runtime keys create|list|revoke [flags]")
	}
	sub, args := args[0], args[1:]

	fs := flag.NewFlagSet("keys "+sub, flag.ContinueOnError)
	fs.SetOutput(stdout)
	configPath := fs.String("config", "", "config file path")
	dbPath := fs.String("db", "", "key database path (overrides config)")
	name := fs.String("name", "", "key name (create)")
	scopes := fs.String("scopes", "", "comma-separated scopes (create)")
	if err := fs.Parse(args); err != nil {
		return &configError{err: err}
	}

	path := *dbPath
	if path == "" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			return err
		}
		path = cfg.Auth.KeysDB
	}
	if path == "" {
		return configErr("no key database configured (auth.keys_db)")
	}

	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return fmt.Errorf("opening key store: %w", err)
	}
	defer s.Close()

	switch sub {
	case "create":
		return createKey(ctx, s, *name, splitScopes(*scopes), stdout)
	case "list":
		return listKeys(ctx, s, stdout)
	case "revoke":
		if fs.NArg() != 1 {
			return configErr("usage: mcp-runtime keys revoke KEY_ID")
		}
		return revokeKey(ctx, s, fs.Arg(0), stdout)
	default:
		return configErr("unknown keys command %q", sub)
	}
}

func splitScopes(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func createKey(ctx context.Context, s store.KeyStore, name string, scopes []string, w io.Writer) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return configErr("--name flag is required")
	}
	plaintext, key, err := s.CreateKey(ctx, name, scopes)
	if err != nil {
		return fmt.Errorf("creating key: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	green.Fprintf(w, "  ✓ Created key %s (%s)\n", key.ID, key.Name)
	fmt.Fprintf(w, "  Scopes: %s\n", strings.Join(key.Scopes, " "))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s\n", plaintext)
	fmt.Fprintln(w)
	yellow.Fprintln(w, "  Store this key now. It cannot be shown again.")
	return nil
}

func listKeys(ctx context.Context, s store.KeyStore, w io.Writer) error {
	keys, err := s.ListKeys(ctx)
	if err != nil {
		return fmt.Errorf("listing keys: %w", err)
	}
	if len(keys) == 0 {
		fmt.Fprintln(w, "No keys.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSCOPES\tCREATED\tLAST USED\tSTATUS")
	for _, k := range keys {
		status := "active"
		if k.Revoked() {
			status = "revoked"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			k.ID, k.Name, strings.Join(k.Scopes, ","),
			k.CreatedAt.Format(time.DateTime), formatOptional(k.LastUsedAt), status)
	}
	return tw.Flush()
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.DateTime)
}

func revokeKey(ctx context.Context, s store.KeyStore, id string, w io.Writer) error {
	if err := s.RevokeKey(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return configErr("no key with id %s", id)
		}
		return fmt.Errorf("revoking key: %w", err)
	}
	color.New(color.FgGreen).Fprintf(w, "  ✓ Revoked key %s\n", id)
	return nil
}
