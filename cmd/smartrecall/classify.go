package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/smartrecall/internal/agent"
	"github.com/ashureev/smartrecall/internal/policy"
)

type classification struct {
	Query       string `json:"query"`
	Profile     string `json:"profile"`
	Topic       string `json:"topic"`
	TTLMillis   int64  `json:"ttlMillis"`
	SkipCaching bool   `json:"skipCaching"`
}

func (c *cli) newClassifyCmd() *cobra.Command {
	var (
		profile    string
		policyFile string
		export     bool
	)
	cmd := &cobra.Command{
		Use:   "classify [query]",
		Short: "Show the cache topic and TTL a query would get",
		Args: func(cmd *cobra.Command, args []string) error {
			if export {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var table *policy.Table
			switch {
			case policyFile != "":
				t, err := policy.LoadFile(policyFile)
				if err != nil {
					return err
				}
				table = t
			case profile == agent.ProfileGeneral:
				table = policy.General()
			case profile == agent.ProfileGrocery:
				table = policy.Grocery()
			default:
				return fmt.Errorf("unknown profile %q", profile)
			}

			if export {
				data, err := policy.Marshal(table)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			query := strings.Join(args, " ")
			pol := table.Classify(query)
			out := classification{
				Query:       query,
				Profile:     profile,
				Topic:       pol.Topic,
				TTLMillis:   pol.TTLMillis(),
				SkipCaching: policy.SkipCaching(query),
			}
			text := fmt.Sprintf("topic: %s\nttl: %s", pol.Topic, pol.TTL)
			if out.SkipCaching {
				text += "\nnot cached: cart operation"
			}
			return c.print(cmd, out, text)
		},
	}
	cmd.Flags().StringVar(&profile, keyProfile, agent.ProfileGeneral, "policy table to use (general or grocery)")
	cmd.Flags().StringVar(&policyFile, "policy-file", "", "YAML or TOML policy table to use instead")
	cmd.Flags().BoolVar(&export, "export", false, "print the selected table as YAML instead of classifying")
	return cmd
}
