// Command chassisctl is a small inspector around a chassis.Chassis backed
// by the in-memory scheme, exercising bootstrap end-to-end: load, unload,
// list, and inspect a component.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coriolis-rt/chassis"
	"github.com/coriolis-rt/chassis/schemes/mem"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// demoChassis wires a Chassis with the mem scheme registered and seeded
// with a couple of self-contained demo components, so chassisctl has
// something to load without a real plugin on disk.
func demoChassis(logger *zap.Logger) (*chassis.Chassis, *mem.Handler, error) {
	c, err := chassis.New(logger)
	if err != nil {
		return nil, nil, err
	}
	handler := mem.New()
	if err := c.Loader.RegisterScheme("mem", handler); err != nil {
		return nil, nil, err
	}

	handler.Register("mem://greeter", func() *chassis.Descriptor {
		return &chassis.Descriptor{
			Name: "greeter",
			Provides: []chassis.ProvidedService{
				{Name: "greeter.default", Interface: greeterImpl{}},
			},
			Metadata: map[string]string{"demo": "true"},
		}
	})
	return c, handler, nil
}

type greeterImpl struct{}

func (greeterImpl) Greet() string { return "hello from chassisctl" }

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "chassisctl",
		Short: "Inspect a demo chassis runtime",
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	newLogger := func() *zap.Logger {
		cfg := zap.NewDevelopmentConfig()
		if !verbose {
			cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		}
		logger, _ := cfg.Build()
		return logger
	}

	root.AddCommand(
		loadCmd(newLogger),
		unloadCmd(newLogger),
		listCmd(newLogger),
		inspectCmd(newLogger),
	)
	return root
}

func loadCmd(newLogger func() *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "load <urn>...",
		Short: "Load one or more demo component URNs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer logger.Sync()

			c, _, err := demoChassis(logger)
			if err != nil {
				return err
			}
			defer c.Close(context.Background())

			handles, err := c.Loader.Load(context.Background(), args)
			if err != nil {
				return err
			}
			for _, h := range handles {
				fmt.Printf("loaded %s (%s)\n", h.URN(), h.Name())
			}
			return nil
		},
	}
}

func unloadCmd(newLogger func() *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "unload <urn>...",
		Short: "Unload one or more component URNs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer logger.Sync()

			c, _, err := demoChassis(logger)
			if err != nil {
				return err
			}
			defer c.Close(context.Background())

			if _, err := c.Loader.Load(context.Background(), args); err != nil {
				return err
			}
			return c.Loader.Unload(context.Background(), args)
		},
	}
}

func listCmd(newLogger func() *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List currently loaded component URNs",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer logger.Sync()

			c, _, err := demoChassis(logger)
			if err != nil {
				return err
			}
			defer c.Close(context.Background())

			if _, err := c.Loader.Load(context.Background(), []string{"mem://greeter"}); err != nil {
				return err
			}

			it := c.Loader.IteratorCreate()
			for it.IsValid() {
				urn, _ := it.Get()
				fmt.Println(urn)
				if it.Next() {
					break
				}
			}
			it.Release()
			return nil
		},
	}
}

func inspectCmd(newLogger func() *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <urn>",
		Short: "Show provided/required services and metadata for one component",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer logger.Sync()

			c, _, err := demoChassis(logger)
			if err != nil {
				return err
			}
			defer c.Close(context.Background())

			urn := args[0]
			if _, err := c.Loader.Load(context.Background(), []string{urn}); err != nil {
				return err
			}

			handle, ok := c.Loader.Find(urn)
			if !ok {
				return fmt.Errorf("%s: not loaded", urn)
			}
			fmt.Printf("name:     %s\n", handle.Name())
			fmt.Printf("provides: %v\n", handle.ProvidedNames())
			fmt.Printf("requires: %v\n", handle.RequiredNames())

			meta := handle.Metadata()
			it := meta.CreateIterator(nil)
			for it.IsValid() {
				k, v, _ := it.Get()
				fmt.Printf("metadata: %s=%s\n", k, v)
				if it.Next() {
					break
				}
			}
			return nil
		},
	}
}
