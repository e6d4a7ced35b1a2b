package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/smartrecall/internal/app"
	"github.com/ashureev/smartrecall/internal/health"
)

func (c *cli) newHealthCmd() *cobra.Command {
	var (
		addr    string
		service string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check component health locally or probe a server over gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if addr != "" {
				status, err := health.Probe(ctx, addr, service)
				if err != nil {
					return err
				}
				return c.print(cmd, map[string]string{"addr": addr, "status": status.String()}, status.String())
			}

			return c.withApp(ctx, func(a *app.App) error {
				results := a.Health.CheckAll(ctx)
				overall := health.OverallStatus(results)
				names := make([]string, 0, len(results))
				for name := range results {
					names = append(names, name)
				}
				sort.Strings(names)

				resp := health.Response{
					Status:    overall.String(),
					Timestamp: time.Now().UTC().Format(time.RFC3339),
					Checks:    make(map[string]health.CheckResponse, len(results)),
				}
				var b strings.Builder
				fmt.Fprintf(&b, "status: %s", overall)
				for _, name := range names {
					r := results[name]
					check := health.CheckResponse{Status: r.Status.String(), Message: r.Message}
					if r.Error != nil {
						check.Error = r.Error.Error()
					}
					resp.Checks[name] = check
					fmt.Fprintf(&b, "\n%s: %s", name, r.Status)
				}
				if err := c.print(cmd, resp, b.String()); err != nil {
					return err
				}
				if overall == health.StatusUnhealthy {
					return errors.New("unhealthy")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "grpc", "", "address of a gRPC health endpoint to probe")
	cmd.Flags().StringVar(&service, "service", health.ServiceName, "service name to ask about")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "probe timeout")
	return cmd
}
