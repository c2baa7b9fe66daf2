// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"codeberg.org/counselpoint/authcore/internal/config"
	"codeberg.org/counselpoint/authcore/internal/database"
	"codeberg.org/counselpoint/authcore/internal/models"
	"codeberg.org/counselpoint/authcore/internal/repository"
	"codeberg.org/counselpoint/authcore/internal/server"
	"codeberg.org/counselpoint/authcore/internal/services/passwordless"
	"codeberg.org/counselpoint/authcore/internal/services/ratelimit"
	"github.com/urfave/cli/v3"
)

func userCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage users",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a user or change the role of an existing one",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "Email address", Required: true},
					&cli.StringFlag{Name: "name", Usage: "Display name"},
					&cli.StringFlag{Name: "role", Value: string(models.RoleUser), Usage: "Role: user, admin, counselor"},
				},
				Action: createUser,
			},
			{
				Name:   "list",
				Usage:  "List all users",
				Action: listUsers,
			},
		},
	}
}

func ratelimitCommand() *cli.Command {
	return &cli.Command{
		Name:  "ratelimit",
		Usage: "Inspect and override code request limits",
		Commands: []*cli.Command{
			{
				Name:  "reset",
				Usage: "Clear the code request counter of an email address",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "Email address", Required: true},
				},
				Action: resetRateLimit,
			},
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Show configuration",
		Commands: []*cli.Command{
			{
				Name:  "print",
				Usage: "Print the effective configuration as TOML",
				Action: func(_ context.Context, cmd *cli.Command) error {
					return config.NewFromCLI(cmd).WriteTOML(cmd.Root().Writer)
				},
			},
		},
	}
}

// withRepository opens the configured database for the duration of fn.
func withRepository(cmd *cli.Command, fn func(cfg *config.Config, repo *repository.Repository) error) error {
	cfg := config.NewFromCLI(cmd)
	server.SetupLogger(cfg.Log.Level, cfg.Log.Format)

	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = database.Close(db) }()

	return fn(cfg, repository.New(db))
}

func createUser(ctx context.Context, cmd *cli.Command) error {
	email, err := passwordless.NormalizeEmail(cmd.String("email"))
	if err != nil {
		return err
	}
	role, err := models.ParseRole(cmd.String("role"))
	if err != nil {
		return err
	}

	return withRepository(cmd, func(_ *config.Config, repo *repository.Repository) error {
		out := cmd.Root().Writer

		existing, err := repo.GetUserByEmail(ctx, email)
		switch {
		case err == nil:
			if err := repo.SetUserRole(ctx, existing.ID, role); err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "updated user %d (%s): role %s\n", existing.ID, email, role)
			return err
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		user := &models.User{Email: email, Name: cmd.String("name"), Role: role}
		if err := repo.CreateUser(ctx, user); err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "created user %d (%s): role %s\n", user.ID, email, role)
		return err
	})
}

func listUsers(ctx context.Context, cmd *cli.Command) error {
	return withRepository(cmd, func(_ *config.Config, repo *repository.Repository) error {
		users, err := repo.ListUsers(ctx)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ID\tEMAIL\tNAME\tROLE\tCREATED")
		for _, u := range users {
			_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", u.ID, u.Email, u.Name, u.Role, u.CreatedAt.Format("2006-01-02"))
		}
		return tw.Flush()
	})
}

func resetRateLimit(ctx context.Context, cmd *cli.Command) error {
	email, err := passwordless.NormalizeEmail(cmd.String("email"))
	if err != nil {
		return err
	}

	return withRepository(cmd, func(cfg *config.Config, repo *repository.Repository) error {
		store, closeStore, err := server.NewRateLimitStore(ctx, cfg, repo)
		if err != nil {
			return err
		}
		defer func() { _ = closeStore() }()

		if err := ratelimit.New(store).Reset(ctx, email); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.Root().Writer, "rate limit reset for %s\n", email)
		return err
	})
}
