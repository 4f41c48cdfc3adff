package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/akosev/camnode/internal/config"
)

// CreateValidateCmd creates the validate command. It parses and
// validates a camera definitions file without starting any workers,
// for CI and pre-deploy checks.
func CreateValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a camera definitions file",
		Long:  `Parses the camera definitions file and reports every validation problem without starting any processes. Exits non-zero when the file is rejected.`,
		Run: func(cmd *cobra.Command, args []string) {
			file, _ := cmd.Flags().GetString("cameras")

			snap, err := config.Load(file)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", file, err)
				os.Exit(1)
			}

			outputs := 0
			for _, cam := range snap.Cameras {
				outputs += cam.OutputCount()
			}
			fmt.Printf("%s: ok (%d cameras, %d outputs)\n", file, len(snap.Cameras), outputs)
		},
	}

	cmd.Flags().StringP("cameras", "f", "cameras.yaml", "Camera definitions file to validate")
	return cmd
}
