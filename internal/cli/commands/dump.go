package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcloak/pkg/image"
)

// NewDumpCommand creates the dump command.
func NewDumpCommand() *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "dump <module>",
		Short: "Print a module image as YAML",
		Long: `Decode a module image and print its YAML document: assembly metadata,
types, members and method bodies with labelled instructions.

The document is the same format pack reads, so a module can be dumped,
edited and packed again.`,
		Example: `  # Inspect a protected module
  leapcloak dump out/bin/App.lcim

  # Save the document
  leapcloak dump bin/App.lcim --out App.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mod, err := image.ReadFile(args[0])
			if err != nil {
				return err
			}
			doc, err := image.Marshal(mod)
			if err != nil {
				return err
			}
			if outFile != "" {
				if err := os.WriteFile(outFile, doc, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", outFile, err)
				}
				return nil
			}
			_, err = cmd.OutOrStdout().Write(doc)
			return err
		},
	}

	cmd.Flags().StringVar(&outFile, "out", "", "Write the document to a file instead of stdout")

	return cmd
}

// NewPackCommand creates the pack command.
func NewPackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pack <document> <module>",
		Short: "Build a module image from a YAML document",
		Long: `Read a module YAML document, as printed by dump, validate it and write
the compressed module image.`,
		Example: `  leapcloak pack App.yaml bin/App.lcim`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			mod, err := image.Unmarshal(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if err := image.WriteFile(args[1], mod); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s)\n", args[1], mod.Name)
			return nil
		},
	}
}
