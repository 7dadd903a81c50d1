package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/rpattn/csvmodels/internal/auth"
	"github.com/rpattn/csvmodels/internal/db"
	"github.com/rpattn/csvmodels/internal/repository"
)

func newCreateUserCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "createuser <username>",
		Short: "Create an operator account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}

			cfg := a.loader.Config()
			conn, err := db.NewConnection(cmd.Context(), cfg.Database, a.logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			service := auth.NewService(
				repository.NewUserRepository(conn.Pool),
				repository.NewSessionRepository(conn.Pool),
				cfg.Session.TTL, cfg.Session.CookieSecure, a.logger,
			)
			user, err := service.CreateUser(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			a.logger.Info("created operator", zap.String("username", user.Username), zap.String("id", user.ID.String()))
			return nil
		},
	}
}

// readPassword prompts twice on a terminal, or reads one line from piped
// stdin.
func readPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		var line string
		if _, err := fmt.Fscanln(cmd.InOrStdin(), &line); err != nil {
			return "", fmt.Errorf("read password from stdin: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password (again): ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
