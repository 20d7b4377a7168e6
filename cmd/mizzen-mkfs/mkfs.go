// mizzen-mkfs writes the built-in program set into a bootable disk
// image, the same file mizzend mounts with --disk-image.
package main

import (
	"fmt"
	"os"

	"github.com/containerd/log"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mizzen-os/mizzen/userland"
	"github.com/mizzen-os/mizzen/vfs"
)

type mkfsOptions struct {
	output string
	force  bool
	list   bool
}

func newMkfsCommand() *cobra.Command {
	var opts mkfsOptions
	cmd := &cobra.Command{
		Use:           "mizzen-mkfs [OPTIONS]",
		Short:         "Build a bootable mizzen disk image.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.list {
				return runList(cmd, &opts)
			}
			return runMkfs(cmd, &opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.output, "output", "o", "mizzen.img", "Where to write the image")
	flags.BoolVarP(&opts.force, "force", "f", false, "Overwrite an existing image")
	flags.BoolVar(&opts.list, "list", false, "List the programs in an existing image instead of writing one")
	return cmd
}

func runMkfs(cmd *cobra.Command, opts *mkfsOptions) error {
	if _, err := os.Stat(opts.output); err == nil {
		if !opts.force {
			return fmt.Errorf("%s already exists, use --force to overwrite", opts.output)
		}
		// Start from scratch so entries gone from the program set do
		// not survive in the new image.
		if err := os.Remove(opts.output); err != nil {
			return err
		}
	}

	bfs, err := vfs.OpenBolt(opts.output)
	if err != nil {
		return err
	}
	defer bfs.Close()

	images := userland.Images()
	for p, img := range images {
		if err := bfs.Create(p, img); err != nil {
			return err
		}
		log.L.WithFields(log.Fields{"path": p, "bytes": len(img)}).Debug("wrote program")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d programs to %s\n", len(images), opts.output)
	return nil
}

func runList(cmd *cobra.Command, opts *mkfsOptions) error {
	bfs, err := vfs.OpenBolt(opts.output)
	if err != nil {
		return err
	}
	defer bfs.Close()

	paths, err := bfs.List()
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	return nil
}

func main() {
	logrus.SetOutput(os.Stderr)

	cmd := newMkfsCommand()
	cmd.SetOut(os.Stdout)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
