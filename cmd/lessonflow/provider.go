package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rendis/lessonflow/pkg/schema"
)

var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Manage AI, messaging and calendar provider settings",
}

var providerSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Create or update a provider; API keys are sealed in the vault",
	Long: `Set stores the settings of a provider such as openrouter, openai,
perplexity, telegram, whatsapp, email, google or outlook. Flags that are not
given keep their stored value. --api-key - reads the key from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close(context.WithoutCancel(cmd.Context()))
		pcs, err := a.requireProviders()
		if err != nil {
			return err
		}

		pc, err := pcs.GetProviderConfig(cmd.Context(), args[0])
		switch {
		case err == nil:
		case schema.CodeOf(err) == schema.ErrCodeNotFound:
			pc = &schema.ProviderConfig{ID: args[0], Enabled: true}
		default:
			return err
		}
		if err := applyProviderFlags(cmd, pc); err != nil {
			return err
		}
		if err := pcs.SetProviderConfig(cmd.Context(), pc); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "provider %s saved (enabled=%t)\n", pc.ID, pc.Enabled)
		return nil
	},
}

var providerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured providers with masked keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close(context.WithoutCancel(cmd.Context()))
		pcs, err := a.requireProviders()
		if err != nil {
			return err
		}
		list, err := pcs.List(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tENABLED\tKEY\tBASE URL\tMODEL")
		for _, p := range list {
			fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", p.ID, p.Enabled, orDash(p.APIKey), orDash(p.BaseURL), orDash(p.DefaultModel))
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(providerCmd)
	providerCmd.AddCommand(providerSetCmd, providerListCmd)

	f := providerSetCmd.Flags()
	f.String("api-key", "", "API key or bot token; empty removes the stored key")
	f.String("base-url", "", "override the vendor endpoint")
	f.String("model", "", "default model for AI providers")
	f.Bool("enabled", true, "whether nodes may use this provider")
	f.StringToString("setting", nil, "provider setting as key=value, repeatable (e.g. chat_id=42)")
}

// applyProviderFlags copies the flags that were given onto pc.
func applyProviderFlags(cmd *cobra.Command, pc *schema.ProviderConfig) error {
	f := cmd.Flags()
	if f.Changed("api-key") {
		key, _ := f.GetString("api-key")
		if key == "-" {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read api key: %w", err)
			}
			key = line
		}
		pc.APIKey = strings.TrimSpace(key)
	}
	if f.Changed("base-url") {
		pc.BaseURL, _ = f.GetString("base-url")
	}
	if f.Changed("model") {
		pc.DefaultModel, _ = f.GetString("model")
	}
	if f.Changed("enabled") {
		pc.Enabled, _ = f.GetBool("enabled")
	}
	if f.Changed("setting") {
		kv, _ := f.GetStringToString("setting")
		if pc.Settings == nil {
			pc.Settings = make(map[string]any, len(kv))
		}
		for k, v := range kv {
			if v == "" {
				delete(pc.Settings, k)
				continue
			}
			pc.Settings[k] = v
		}
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
