package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"rollcall/internal/attendance"
	"rollcall/internal/client"
	"rollcall/internal/report"
)

type credentials struct {
	url      string
	email    string
	password string
}

func (c *credentials) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&c.url, "url", "", "API base URL (default ROLLCALL_API_URL)")
	f.StringVar(&c.email, "email", os.Getenv("ROLLCALL_EMAIL"), "login email")
	f.StringVar(&c.password, "password", os.Getenv("ROLLCALL_PASSWORD"), "login password")
}

// login returns a client holding a fresh access token.
func (c *credentials) login(ctx context.Context) (*client.Client, error) {
	base := c.url
	if base == "" {
		cfg, _, err := setup()
		if err != nil {
			return nil, err
		}
		base = cfg.APIBaseURL
	}
	if c.email == "" || c.password == "" {
		return nil, errors.New("--email and --password (or ROLLCALL_EMAIL and ROLLCALL_PASSWORD) are required")
	}
	api := client.New(base)
	if _, err := api.Login(ctx, c.email, c.password); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return api, nil
}

func exportCmd() *cobra.Command {
	var (
		creds    credentials
		courseID string
		format   string
		out      string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download a course attendance report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			api, err := creds.login(cmd.Context())
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				file, err := os.Create(out)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}
			return api.Export(cmd.Context(), courseID, f, w)
		},
	}
	creds.bind(cmd)
	cmd.Flags().StringVar(&courseID, "course", "", "course id")
	cmd.Flags().StringVar(&format, "format", "csv", "json, csv, tsv or xlsx")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("course")
	return cmd
}

func watchCmd() *cobra.Command {
	var creds credentials
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll and print the sessions open for marking",
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := creds.login(cmd.Context())
			if err != nil {
				return err
			}
			stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
			p := client.NewPoller(client.SessionInterval, api.OpenSessions,
				func(views []attendance.SessionView) { printSessions(stdout, views) },
				func(err error) { fmt.Fprintln(stderr, "poll failed:", err) },
			)
			if err := p.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	creds.bind(cmd)
	return cmd
}

func markCmd() *cobra.Command {
	var (
		creds     credentials
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "mark",
		Short: "Mark attendance for an open session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			api, err := creds.login(ctx)
			if err != nil {
				return err
			}
			view, err := api.SessionStatus(ctx, sessionID)
			if err != nil {
				return err
			}

			m := client.NewMarker(api)
			if err := m.Sync(ctx, view.Session.SessionDate); err != nil {
				return err
			}
			rec, err := m.Submit(ctx, view.Session)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marked %s: %s at %s\n",
				view.Session.Label(), rec.Status, rec.MarkedAt.Format(time.RFC3339))
			return nil
		},
	}
	creds.bind(cmd)
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func printSessions(w io.Writer, views []attendance.SessionView) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tCOURSE\tDATE\tTIME\tSTATE")
	for _, v := range views {
		s := v.Session
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s-%s\t%s\n", s.ID, s.CourseCode, s.SessionDate, s.StartTime, s.EndTime, v.Lifecycle)
	}
	_ = tw.Flush()
	fmt.Fprintln(w)
}
