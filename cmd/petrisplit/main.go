// Command petrisplit splits a local two-dish photograph into two JPEG files.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/petri-split/internal/splitter"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "petrisplit",
		Short:         "Split petri dish photographs into one image per dish",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newSplitCmd())
	return root
}

func newSplitCmd() *cobra.Command {
	var (
		outDir        string
		portraitRatio float64
	)

	cmd := &cobra.Command{
		Use:   "split <image>",
		Short: "Write <name>_left.jpg and <name>_right.jpg next to the source or into --out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := args[0]
			data, err := os.ReadFile(source)
			if err != nil {
				return fmt.Errorf("read %s: %w", source, err)
			}

			policy := splitter.DefaultPolicy()
			policy.PortraitRatio = portraitRatio
			result, err := splitter.New(policy).Split(data)
			if err != nil {
				return err
			}

			if outDir == "" {
				outDir = filepath.Dir(source)
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}

			base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
			leftPath := filepath.Join(outDir, base+"_left.jpg")
			rightPath := filepath.Join(outDir, base+"_right.jpg")
			if err := os.WriteFile(leftPath, result.Left, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", leftPath, err)
			}
			if err := os.WriteFile(rightPath, result.Right, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", rightPath, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %dx%d -> %s (%d px), %s (%d px)\n",
				result.Method, result.Width, result.Height, leftPath, result.LeftWidth, rightPath, result.RightWidth)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (defaults to the source directory)")
	cmd.Flags().Float64Var(&portraitRatio, "portrait-ratio", splitter.DefaultPortraitRatio, "height/width ratio above which the photo is rotated before splitting")
	return cmd
}
