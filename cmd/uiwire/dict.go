package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vango-dev/uiwire/pkg/protocol"
)

func dictCmd() *cobra.Command {
	var appOnly bool

	cmd := &cobra.Command{
		Use:   "dict",
		Short: "Print the tag dictionary",
		Long:  `Print every tag of the dictionary built from uiwire.json, reserved tags included.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			dict, err := cfg.BuildDictionary()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-6s %-20s %-8s %s\n", "TAG", "NAME", "KIND", "WIDTH")
			for _, tag := range dict.Tags() {
				e, _ := dict.Lookup(tag)
				if appOnly && tag >= protocol.TagErrorCode {
					continue
				}
				width := "var"
				if n := e.Size(); n != protocol.VariableSize {
					width = fmt.Sprintf("%d", n)
				}
				kind := e.Kind.String()
				if e.Compressed {
					kind += "*"
				}
				fmt.Fprintf(w, "0x%02X   %-20s %-8s %s\n", uint8(tag), e.Name, kind, width)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&appOnly, "app", false, "Only print application tags")
	return cmd
}
