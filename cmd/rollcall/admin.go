package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rollcall/internal/account"
	"rollcall/internal/app"
	"rollcall/internal/auth"
	"rollcall/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, zl, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = zl.Sync() }()

			db, err := store.NewDB(cmd.Context(), cfg.DBDriver, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer db.Close()
			return store.RunMigrations(db.Client, cfg.DBDriver, zl)
		},
	}
}

func addUserCmd() *cobra.Command {
	var in account.NewUser
	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create a student, delegate or admin account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, zl, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = zl.Sync() }()

			a, err := app.Build(cmd.Context(), cfg, zl)
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := a.Accounts.CreateUser(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", u.Role, u.Email, u.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Email, "email", "", "login email")
	f.StringVar(&in.Name, "name", "", "display name")
	f.StringVar(&in.Role, "role", auth.RoleStudent, "student, delegate or admin")
	f.StringVar(&in.Password, "password", "", "initial password (at least 8 characters)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
