// ABOUTME: Offline account management subcommands for the credential store
// ABOUTME: Adds, lists, and deletes local users and groups directly in SQLite

package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/2389/deskgate/internal/auth"
	"github.com/2389/deskgate/internal/store"
)

// openStore loads config and opens the credential store it names.
func openStore(cmd *cobra.Command, opts *rootOptions) (*store.SQLiteStore, error) {
	cfg, _, err := loadConfig(opts, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

func newUserCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage local accounts",
	}
	cmd.AddCommand(
		newUserAddCmd(opts),
		newUserListCmd(opts),
		newUserDeleteCmd(opts),
		newGroupAddCmd(opts),
	)
	return cmd
}

func newUserAddCmd(opts *rootOptions) *cobra.Command {
	var (
		password string
		email    string
		group    string
		admin    bool
	)

	cmd := &cobra.Command{
		Use:   "add USERNAME",
		Short: "Create a local user",
		Long: `Create a local user that can log in with a password. When --password
is omitted a random password is generated and printed once.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := strings.TrimSpace(args[0])
			if username == "" {
				return errors.New("username cannot be empty")
			}

			generated := password == ""
			if generated {
				var err error
				if password, err = auth.GeneratePassword(); err != nil {
					return err
				}
			}

			hash, err := auth.NewBcryptHasher().Hash(password)
			if err != nil {
				return err
			}

			s, err := openStore(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			user := &store.User{
				ID:           uuid.New().String(),
				ExternalID:   username,
				Username:     username,
				PasswordHash: hash,
				Email:        email,
				IsAdmin:      admin,
				Group:        group,
				CreatedAt:    time.Now().UTC(),
			}
			if err := s.CreateUser(cmd.Context(), user); err != nil {
				switch {
				case errors.Is(err, store.ErrUserExists):
					return fmt.Errorf("user %q already exists", username)
				case errors.Is(err, store.ErrGroupNotFound):
					return fmt.Errorf("group %q does not exist", group)
				}
				return err
			}

			out := cmd.OutOrStdout()
			color.New(color.FgGreen).Fprintf(out, "  ✓ Created user: %s\n", username)
			fmt.Fprintf(out, "  ID:       %s\n", user.ID)
			fmt.Fprintf(out, "  Group:    %s\n", user.Group)
			fmt.Fprintf(out, "  Admin:    %t\n", user.IsAdmin)
			if generated {
				fmt.Fprintf(out, "  Password: %s\n", password)
				color.New(color.FgYellow).Fprintln(out, "  This password is not shown again.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "password to set (generated when empty)")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&group, "group", store.DefaultGroup, "group to place the user in")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant administrator rights")
	return cmd
}

func newUserListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			users, err := s.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			if len(users) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No users.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USERNAME\tGROUP\tADMIN\tPASSWORD\tCREATED")
			for _, u := range users {
				hasPassword := "no"
				if u.PasswordHash != "" {
					hasPassword = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
					u.Username, u.Group, u.IsAdmin, hasPassword, u.CreatedAt.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}
}

func newUserDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete USERNAME",
		Short: "Delete a user",
		Long: `Delete a user. Sessions the user already holds are rejected by a
running server on their next use.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			user, err := s.GetUserByUsername(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("user %q not found", args[0])
			}
			if err != nil {
				return err
			}
			if err := s.DeleteUser(cmd.Context(), user.ID); err != nil {
				return err
			}

			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "  ✓ Deleted user: %s\n", user.Username)
			return nil
		},
	}
}

func newGroupAddCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "group-add NAME",
		Short: "Create a user group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			group := &store.Group{Name: args[0], CreatedAt: time.Now().UTC()}
			if err := s.CreateGroup(cmd.Context(), group); err != nil {
				if errors.Is(err, store.ErrGroupExists) {
					return fmt.Errorf("group %q already exists", args[0])
				}
				return err
			}

			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "  ✓ Created group: %s\n", group.Name)
			return nil
		},
	}
}
