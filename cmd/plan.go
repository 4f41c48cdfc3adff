package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/akosev/camnode/internal/config"
	"github.com/akosev/camnode/internal/ffmpeg"
)

// CreatePlanCmd creates the plan command. It prints the engine command
// line for every output a config would produce, credentials redacted,
// without starting anything.
func CreatePlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan [camera]",
		Short: "Print the engine commands a camera file produces",
		Long:  `Builds the per-output process plans from the camera definitions file and prints each command line with credentials redacted. Nothing is started. An optional camera name limits the output to one camera.`,
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			file, _ := cmd.Flags().GetString("cameras")
			restream, _ := cmd.Flags().GetString("restream")

			snap, err := config.Load(file)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", file, err)
				os.Exit(1)
			}

			cameras := snap.Cameras
			if len(args) == 1 {
				spec, exists := snap.Camera(args[0])
				if !exists {
					fmt.Fprintf(os.Stderr, "camera %q not found in %s\n", args[0], file)
					os.Exit(1)
				}
				cameras = []config.CameraSpec{spec}
			}

			for _, cam := range cameras {
				for _, plan := range ffmpeg.BuildPlans(cam, restream) {
					fmt.Printf("# %s -> %s\n", plan.Camera, plan.Output)
					fmt.Println(ffmpeg.Sanitize(ffmpeg.BuildCommand(plan)))
				}
			}
		},
	}

	cmd.Flags().StringP("cameras", "f", "cameras.yaml", "Camera definitions file")
	cmd.Flags().String("restream", "rtsp://localhost:8554", "Restream server publish base URL")
	return cmd
}
