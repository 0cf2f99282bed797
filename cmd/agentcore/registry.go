package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentos-io/agentcore/pkg/skills"
)

// newRegistryCmd maintains the skill registry the pipeline verifies
// before running the local executor.
func newRegistryCmd(flags *rootFlags) *cobra.Command {
	var (
		dir     string
		out     string
		regPath string
	)

	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Generate or verify the skill registry",
	}

	generate := &cobra.Command{
		Use:   "generate",
		Short: "Hash every skill file and write the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := skills.GenerateRegistry(dir, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d entries)\n", out, len(reg.Skills))
			return nil
		},
	}
	generate.Flags().StringVar(&dir, "dir", "skills", "Directory of skill files to hash")
	generate.Flags().StringVar(&out, "out", "skills/registry.json", "Registry output path")

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check every registry entry against the file on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			path := regPath
			if !cmd.Flags().Changed("registry") {
				path = cfg.Risk.RegistryPath
			}
			if err := skills.VerifyRegistry(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "registry verified")
			return nil
		},
	}
	verify.Flags().StringVar(&regPath, "registry", "skills/registry.json", "Registry path to verify")

	cmd.AddCommand(generate, verify)
	return cmd
}
