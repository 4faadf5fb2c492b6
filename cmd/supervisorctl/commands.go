package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Josh-XT/AGiXT-sub003/internal/handler"
	"github.com/Josh-XT/AGiXT-sub003/internal/httpclient"
	"github.com/Josh-XT/AGiXT-sub003/internal/model"
	"github.com/Josh-XT/AGiXT-sub003/internal/supervisor"
	"github.com/spf13/cobra"
)

type options struct {
	server   string
	token    string
	platform string
	output   string
	timeout  time.Duration
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "supervisorctl",
		Short:        "Inspect and control botsupervisor workers",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.server, "server", "s", envOr("BOTSUPERVISOR_SERVER", "http://localhost:8080"), "supervisor API URL")
	flags.StringVar(&opts.token, "token", os.Getenv("BOTSUPERVISOR_ADMIN_TOKEN"), "admin bearer token")
	flags.StringVarP(&opts.platform, "platform", "p", "", "platform name")
	flags.StringVarP(&opts.output, "output", "o", "table", "output format: table, json")
	flags.DurationVar(&opts.timeout, "timeout", 150*time.Second, "request timeout")

	root.AddCommand(
		newPlatformsCommand(opts),
		newStatusCommand(opts),
		newStartCommand(opts),
		newStopCommand(opts),
		newReconcileCommand(opts),
	)
	return root
}

func (o *options) client() *httpclient.Client {
	return httpclient.New(o.server, o.token, httpclient.Options{Timeout: o.timeout})
}

func (o *options) requirePlatform() error {
	if o.platform == "" {
		return fmt.Errorf("--platform is required")
	}
	return nil
}

func (o *options) platformPath(parts ...string) string {
	segments := []string{"/v1/platforms", url.PathEscape(o.platform)}
	for _, p := range parts {
		segments = append(segments, url.PathEscape(p))
	}
	return strings.Join(segments, "/")
}

func (o *options) call(ctx context.Context, method, path string, out any) error {
	if err := o.client().DoJSON(ctx, method, path, nil, nil, out); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

func (o *options) writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newPlatformsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "List configured platforms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Platforms []handler.PlatformSummary `json:"platforms"`
			}
			if err := opts.call(cmd.Context(), http.MethodGet, "/v1/platforms", &resp); err != nil {
				return err
			}
			if opts.output == "json" {
				return opts.writeJSON(cmd.OutOrStdout(), resp)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PLATFORM\tWORKERS\tLAST RECONCILE\tLAST ERROR")
			for _, p := range resp.Platforms {
				last := "-"
				if p.LastReconcile != nil {
					last = p.LastReconcile.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", p.Platform, p.Workers, last, p.LastError)
			}
			return tw.Flush()
		},
	}
}

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status [tenant]",
		Short: "Show every worker of a platform, or one tenant's worker",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requirePlatform(); err != nil {
				return err
			}

			var handles []model.WorkerHandle
			if len(args) == 1 {
				var handle model.WorkerHandle
				if err := opts.call(cmd.Context(), http.MethodGet, opts.platformPath("workers", args[0]), &handle); err != nil {
					return err
				}
				handles = append(handles, handle)
			} else {
				var resp handler.WorkersResponse
				if err := opts.call(cmd.Context(), http.MethodGet, opts.platformPath("workers"), &resp); err != nil {
					return err
				}
				handles = resp.Workers
			}

			if opts.output == "json" {
				return opts.writeJSON(cmd.OutOrStdout(), handles)
			}
			return writeHandles(cmd.OutOrStdout(), handles)
		},
	}
}

func writeHandles(w io.Writer, handles []model.WorkerHandle) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TENANT\tSTATUS\tSTARTED\tPROCESSED\tFAILED\tFINGERPRINT\tLAST ERROR")
	for _, h := range handles {
		started := "-"
		if h.StartedAt != nil {
			started = h.StartedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			h.TenantID, h.Status, started,
			h.Counters[model.CounterEventsProcessed], h.Counters[model.CounterEventsFailed],
			h.CredentialFingerprint, h.LastError)
	}
	return tw.Flush()
}

func newStartCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "start <tenant>",
		Short: "Start a tenant's worker, even when its config is disabled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requirePlatform(); err != nil {
				return err
			}
			var handle model.WorkerHandle
			if err := opts.call(cmd.Context(), http.MethodPost, opts.platformPath("workers", args[0], "start"), &handle); err != nil {
				return err
			}
			if opts.output == "json" {
				return opts.writeJSON(cmd.OutOrStdout(), handle)
			}
			return writeHandles(cmd.OutOrStdout(), []model.WorkerHandle{handle})
		},
	}
}

func newStopCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <tenant>",
		Short: "Stop a tenant's worker and keep it stopped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requirePlatform(); err != nil {
				return err
			}
			if err := opts.call(cmd.Context(), http.MethodPost, opts.platformPath("workers", args[0], "stop"), nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped %s/%s\n", opts.platform, args[0])
			return nil
		},
	}
}

func newReconcileCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconcile pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requirePlatform(); err != nil {
				return err
			}
			var report supervisor.Report
			if err := opts.call(cmd.Context(), http.MethodPost, opts.platformPath("reconcile"), &report); err != nil {
				return err
			}
			if opts.output == "json" {
				return opts.writeJSON(cmd.OutOrStdout(), report)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "started:   %s\n", joinOrDash(report.Started))
			fmt.Fprintf(out, "stopped:   %s\n", joinOrDash(report.Stopped))
			fmt.Fprintf(out, "restarted: %s\n", joinOrDash(report.Restarted))
			failed := make([]string, 0, len(report.Failed))
			for tenantID, reason := range report.Failed {
				failed = append(failed, tenantID+" ("+reason+")")
			}
			sort.Strings(failed)
			fmt.Fprintf(out, "failed:    %s\n", joinOrDash(failed))
			return nil
		},
	}
}

func joinOrDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ", ")
}
