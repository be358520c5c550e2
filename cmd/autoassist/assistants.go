package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nstogner/autoassist/pkg/config"
)

func newAssistantsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assistants",
		Short: "Manage assistants",
	}
	cmd.AddCommand(newAssistantsListCmd(flags))
	cmd.AddCommand(newAssistantsImportCmd(flags))
	return cmd
}

func newAssistantsListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List assistants",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			cfg.SetupLogging(os.Stderr)

			s, closeStore, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			all, err := s.LoadAll(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tMESSAGES\tAPIS\tSUMMARY")
			for _, a := range all {
				apis := "-"
				if a.EnableAPI {
					apis = fmt.Sprint(len(a.APIConfigs))
				}
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", a.ID, a.Title, len(a.Messages), apis, a.Summary)
			}
			return tw.Flush()
		},
	}
}

func newAssistantsImportCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Create the assistants listed in the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			cfg.SetupLogging(os.Stderr)
			if len(cfg.Assistants) == 0 {
				return fmt.Errorf("no assistants in config; pass --config or set AUTOASSIST_CONFIG")
			}

			s, closeStore, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			created, skipped, err := config.ImportAssistants(cmd.Context(), s, cfg.Assistants)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d assistant(s), skipped %d existing\n", created, skipped)
			return err
		},
	}
}
