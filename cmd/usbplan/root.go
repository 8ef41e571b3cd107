package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/mcusb/device/layout"
	"github.com/ardnew/mcusb/pkg"
	"github.com/ardnew/mcusb/pkg/prof"
	"github.com/ardnew/mcusb/pkg/usbid"
)

type options struct {
	verbose    bool
	json       bool
	output     string
	check      string
	pkgName    string
	usbIDs     string
	cpuProfile string
	memProfile string
}

func newRootCmd() *cobra.Command {
	var opts options
	root := &cobra.Command{
		Use:           "usbplan",
		Short:         "Plan USB endpoint buffer layouts",
		Long:          "usbplan checks endpoint declarations and computes the packet memory or FIFO layout a device will use.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			pkg.LogTo(cmd.ErrOrStderr(), opts.json)
			if opts.verbose {
				pkg.SetLogLevel(slog.LevelDebug)
			}
			if opts.cpuProfile != "" {
				return prof.StartCPU(opts.cpuProfile)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if err := prof.StopCPU(); err != nil {
				return err
			}
			if opts.memProfile != "" {
				return prof.WriteHeap(opts.memProfile)
			}
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&opts.json, "log-json", false, "Log as JSON")
	root.PersistentFlags().StringVar(&opts.cpuProfile, "cpuprofile", "", "Write a CPU profile (profile builds only)")
	root.PersistentFlags().StringVar(&opts.memProfile, "memprofile", "", "Write a heap profile (profile builds only)")
	root.CompletionOptions.DisableDefaultCmd = true

	plan := &cobra.Command{
		Use:   "plan FILE...",
		Short: "Print the layout of each declaration",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.OutOrStdout(), args, opts)
		},
	}
	plan.Flags().StringVar(&opts.usbIDs, "usb-ids", "", "usb.ids database for naming declared IDs (default: system copy)")
	root.AddCommand(plan)

	image := &cobra.Command{
		Use:   "image FILE",
		Short: "Write or verify the encoded plan image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImage(cmd.OutOrStdout(), args[0], opts)
		},
	}
	image.Flags().StringVarP(&opts.output, "output", "o", "", "Image file to write (default stdout)")
	image.Flags().StringVar(&opts.check, "check", "", "Verify an existing image instead of writing one")
	root.AddCommand(image)

	gen := &cobra.Command{
		Use:   "gen FILE",
		Short: "Generate Go source holding the declaration and its plan image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGen(cmd.OutOrStdout(), args[0], opts)
		},
	}
	gen.Flags().StringVarP(&opts.output, "output", "o", "", "Go file to write (default stdout)")
	gen.Flags().StringVarP(&opts.pkgName, "package", "p", "main", "Package name of the generated file")
	root.AddCommand(gen)

	return root
}

func load(path string) (*layout.Declaration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d, err := layout.LoadDeclaration(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

func planFile(path string) (*layout.Declaration, *layout.Image, error) {
	log := pkg.Logger(pkg.ComponentLayout).With("file", path)
	d, err := load(path)
	if err != nil {
		return nil, nil, err
	}
	log.Debug("loaded", "name", d.Name, "endpoints", len(d.Endpoints))
	img, err := d.Plan()
	if err != nil {
		log.Warn("plan failed", "error", err)
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debug("planned", "backend", img.Backend, "used", img.Used)
	return d, img, nil
}

// names opens the ID database named on the command line, or the system
// copy. A missing system copy is not an error.
func names(opts options) (*usbid.Database, error) {
	if opts.usbIDs != "" {
		return usbid.Open(opts.usbIDs)
	}
	db, err := usbid.Open(usbid.DefaultPaths...)
	if err != nil {
		pkg.LogDebug(pkg.ComponentLayout, "no usb.ids database", "error", err)
		return nil, nil
	}
	return db, nil
}

// runPlan plans every file concurrently, then prints the tables in
// argument order.
func runPlan(w io.Writer, paths []string, opts options) error {
	decls := make([]*layout.Declaration, len(paths))
	images := make([]*layout.Image, len(paths))
	var db *usbid.Database
	var g errgroup.Group
	g.Go(func() error {
		var err error
		db, err = names(opts)
		return err
	})
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			d, img, err := planFile(path)
			decls[i], images[i] = d, img
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, img := range images {
		if i > 0 {
			fmt.Fprintln(w)
		}
		name := decls[i].Name
		if name == "" {
			name = paths[i]
		}
		fmt.Fprintf(w, "%s (%s)", name, img.Backend)
		if d := decls[i]; d.VendorID != 0 || d.ProductID != 0 {
			fmt.Fprintf(w, " %s", db.Describe(d.VendorID, d.ProductID))
		}
		fmt.Fprintln(w)
		if err := img.WriteTable(w); err != nil {
			return err
		}
	}
	return nil
}

func runImage(w io.Writer, path string, opts options) error {
	_, img, err := planFile(path)
	if err != nil {
		return err
	}
	if opts.check != "" {
		data, err := os.ReadFile(opts.check)
		if err != nil {
			return err
		}
		if err := img.Matches(data); err != nil {
			return fmt.Errorf("%s: %w", opts.check, err)
		}
		fmt.Fprintf(w, "%s: ok\n", opts.check)
		return nil
	}
	data, err := img.MarshalBinary()
	if err != nil {
		return err
	}
	return writeOutput(w, opts.output, data)
}

func runGen(w io.Writer, path string, opts options) error {
	d, img, err := planFile(path)
	if err != nil {
		return err
	}
	eps, err := d.Configs()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := layout.WriteGo(&buf, opts.pkgName, eps, img); err != nil {
		return err
	}
	return writeOutput(w, opts.output, buf.Bytes())
}

func writeOutput(w io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := w.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
