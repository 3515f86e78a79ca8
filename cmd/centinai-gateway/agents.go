// ABOUTME: agents subcommands for registering and managing webhook agents
// ABOUTME: Operates on the database directly; secrets are printed once

package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/centinai-gateway/internal/agents"
	"github.com/2389/centinai-gateway/internal/store"
)

// agentFlags are shared by the agents subcommands.
type agentFlags struct {
	account string
	name    string
	channel string
	mode    string
	format  string
	mapping []string
}

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage webhook agents",
	}
	cmd.AddCommand(
		newAgentsRegisterCmd(),
		newAgentsListCmd(),
		newAgentsRotateCmd(),
		newAgentsSetMappingCmd(),
		newAgentsDeleteCmd(),
	)
	return cmd
}

// withAgents opens the configured store for the duration of fn.
func withAgents(fn func(svc *agents.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging, os.Stderr)

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	return fn(agents.NewService(s, cfg.Agents.MaxPerAccount, logger))
}

// parseMapping turns repeated field=path flags into a field mapping.
func parseMapping(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	mapping := make(map[string]string, len(pairs))
	for _, p := range pairs {
		field, path, ok := strings.Cut(p, "=")
		field, path = strings.TrimSpace(field), strings.TrimSpace(path)
		if !ok || field == "" || path == "" {
			return nil, fmt.Errorf("invalid --map %q: want field=path", p)
		}
		if _, dup := mapping[field]; dup {
			return nil, fmt.Errorf("field %q mapped twice", field)
		}
		mapping[field] = path
	}
	return mapping, nil
}

func newAgentsRegisterCmd() *cobra.Command {
	var f agentFlags
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an agent and print its secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mapping, err := parseMapping(f.mapping)
			if err != nil {
				return err
			}
			return withAgents(func(svc *agents.Service) error {
				agent, secret, err := svc.Register(cmd.Context(), agents.RegisterRequest{
					AccountID:     f.account,
					Name:          f.name,
					ChannelID:     f.channel,
					AuthMode:      store.AuthMode(f.mode),
					PayloadFormat: store.PayloadFormat(f.format),
					FieldMapping:  mapping,
				})
				if err != nil {
					return err
				}
				printAgent(cmd.OutOrStdout(), "Registered agent", agent)
				printSecret(cmd.OutOrStdout(), agent.AuthMode, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.account, "account", "", "owning account id")
	cmd.Flags().StringVar(&f.name, "name", "", "display name")
	cmd.Flags().StringVar(&f.channel, "channel", "", "agent channel id (e.g. the business phone number id)")
	cmd.Flags().StringVar(&f.mode, "auth-mode", string(store.AuthModeHeader), "where the secret is sent: query, header or body")
	cmd.Flags().StringVar(&f.format, "format", string(store.PayloadFormatStructured), "payload format: structured or custom")
	cmd.Flags().StringArrayVar(&f.mapping, "map", nil, "custom field mapping as field=dot.path (repeatable)")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func newAgentsListCmd() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an account's agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgents(func(svc *agents.Service) error {
				list, err := svc.List(cmd.Context(), account)
				if err != nil {
					return err
				}
				printAgentTable(cmd.OutOrStdout(), list)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "owning account id")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func newAgentsRotateCmd() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "rotate-secret AGENT_ID",
		Short: "Replace an agent's secret and print the new one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgents(func(svc *agents.Service) error {
				secret, err := svc.RotateSecret(cmd.Context(), account, args[0])
				if err != nil {
					return err
				}
				color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ Rotated secret for %s\n", args[0])
				fmt.Fprintf(cmd.OutOrStdout(), "  Secret:  %s\n", secret)
				color.New(color.FgYellow).Fprintln(cmd.OutOrStdout(), "  The previous secret no longer authenticates.")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "owning account id")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func newAgentsSetMappingCmd() *cobra.Command {
	var f agentFlags
	cmd := &cobra.Command{
		Use:   "set-mapping AGENT_ID",
		Short: "Change an agent's payload format and field mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mapping, err := parseMapping(f.mapping)
			if err != nil {
				return err
			}
			return withAgents(func(svc *agents.Service) error {
				agent, err := svc.UpdateMapping(cmd.Context(), f.account, args[0], store.PayloadFormat(f.format), mapping)
				if err != nil {
					return err
				}
				printAgent(cmd.OutOrStdout(), "Updated agent", agent)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.account, "account", "", "owning account id")
	cmd.Flags().StringVar(&f.format, "format", string(store.PayloadFormatCustom), "payload format: structured or custom")
	cmd.Flags().StringArrayVar(&f.mapping, "map", nil, "custom field mapping as field=dot.path (repeatable)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func newAgentsDeleteCmd() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "delete AGENT_ID",
		Short: "Delete an agent with its conversations and messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgents(func(svc *agents.Service) error {
				if err := svc.Delete(cmd.Context(), account, args[0]); err != nil {
					return err
				}
				color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ Deleted agent: %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "owning account id")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func printAgent(w io.Writer, title string, a *store.Agent) {
	color.New(color.FgGreen).Fprintf(w, "✓ %s: %s\n", title, a.ID)
	fmt.Fprintf(w, "  Name:      %s\n", a.Name)
	fmt.Fprintf(w, "  Account:   %s\n", a.AccountID)
	fmt.Fprintf(w, "  Channel:   %s\n", a.ChannelID)
	fmt.Fprintf(w, "  Auth:      %s\n", a.AuthMode)
	fmt.Fprintf(w, "  Format:    %s\n", a.PayloadFormat)
	if len(a.FieldMapping) > 0 {
		fmt.Fprintf(w, "  Mapping:   %s\n", formatMapping(a.FieldMapping))
	}
}

// printSecret shows the one-time secret and how to send it.
func printSecret(w io.Writer, mode store.AuthMode, secret string) {
	fmt.Fprintf(w, "  Secret:    %s\n", secret)
	yellow := color.New(color.FgYellow)
	switch mode {
	case store.AuthModeQuery:
		yellow.Fprintln(w, "  Send it as: POST /webhook?secret=<secret>")
	case store.AuthModeHeader:
		yellow.Fprintln(w, "  Send it as: x-agent-secret: <secret>")
	case store.AuthModeBody:
		yellow.Fprintln(w, `  Send it as: {"agentSecret": "<secret>", ...}`)
	}
	yellow.Fprintln(w, "  The secret is not stored and will not be shown again.")
}

func printAgentTable(w io.Writer, list []*store.Agent) {
	cyan := color.New(color.FgCyan)
	fmt.Fprintln(w)
	cyan.Fprintln(w, "  Agents")
	cyan.Fprintln(w, "  ------")

	if len(list) == 0 {
		fmt.Fprintln(w, "  (no agents registered)")
		fmt.Fprintln(w)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tNAME\tCHANNEL\tAUTH\tFORMAT\tCREATED")
	fmt.Fprintln(tw, "  --\t----\t-------\t----\t------\t-------")
	for _, a := range list {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, truncate(a.Name, 24), a.ChannelID, a.AuthMode, a.PayloadFormat, a.CreatedAt.Format("Jan 02 15:04"))
	}
	tw.Flush()
	fmt.Fprintln(w)
}

// formatMapping renders a mapping as sorted field=path pairs.
func formatMapping(m map[string]string) string {
	pairs := make([]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, k+"="+v)
	}
	slices.Sort(pairs)
	return strings.Join(pairs, " ")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
