package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kprusa/servicecast/internal/driver"
	"github.com/kprusa/servicecast/internal/dot"
	"github.com/kprusa/servicecast/internal/logx"
	"github.com/kprusa/servicecast/internal/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Args:  cobra.NoArgs,
	Short: "Build a scenario and run the simulation",
	Long:  `Loads a scenario YAML file, wires the simulation, and runs it to a given horizon.`,
	RunE:  runSimulation,
}

func init() {
	runCmd.Flags().String("scenario", "", "path to scenario YAML file (required)")
	runCmd.Flags().Float64("until", 100, "simulated time to run until")
	runCmd.Flags().String("dot-out", "", "if set, write a graphviz dot export of the topology to this path and exit")
	runCmd.Flags().String("metrics-addr", "", "if set, serve prometheus metrics on this address for the duration of the run (e.g. :9090)")
	runCmd.Flags().Bool("dry-run", false, "load and validate the scenario without running it")
}

func runSimulation(cmd *cobra.Command, args []string) error {
	scenarioPath, _ := cmd.Flags().GetString("scenario")
	if scenarioPath == "" {
		return fmt.Errorf("--scenario flag is required")
	}
	until, _ := cmd.Flags().GetFloat64("until")
	dotOut, _ := cmd.Flags().GetString("dot-out")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	logLevel := "info"
	if verbose {
		logLevel = "debug"
	}
	logger := logx.New(logx.Config{Level: logLevel})

	scenario, err := driver.LoadScenario(scenarioPath)
	if err != nil {
		return fmt.Errorf("loading scenario: %w", err)
	}
	if cfgFile != "" {
		scenario.ConfigPath = cfgFile
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	d, err := driver.Build(scenario, logger, m)
	if err != nil {
		return fmt.Errorf("building simulation: %w", err)
	}

	if dotOut != "" {
		f, err := os.Create(dotOut)
		if err != nil {
			return fmt.Errorf("creating %s: %w", dotOut, err)
		}
		defer f.Close()
		roles := make(map[string]dot.Role, len(d.Graph.Nodes()))
		for id, kind := range d.NodeKinds() {
			switch kind {
			case driver.KindClient:
				roles[id] = dot.RoleClient
			case driver.KindServer:
				roles[id] = dot.RoleServer
			default:
				roles[id] = dot.RoleRouter
			}
		}
		if err := dot.Write(f, d.Graph, roles); err != nil {
			return fmt.Errorf("writing dot export: %w", err)
		}
		fmt.Printf("wrote topology to %s\n", dotOut)
		return nil
	}

	if dryRun {
		fmt.Println("scenario is valid (dry-run mode)")
		return nil
	}

	if metricsAddr == "" {
		d.Run(until)
		fmt.Printf("simulation ran to t=%v\n", until)
		return nil
	}

	// The metrics server and the (synchronous, single-threaded) event
	// loop run concurrently in an errgroup: the run's completion always
	// tears the server back down. d.Run takes no context, so a
	// server-side failure does not stop the run; its error is returned
	// once the run has completed.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: metricsAddr, Handler: mux}

	eg, _ := errgroup.WithContext(context.Background())
	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		defer srv.Close()
		d.Run(until)
		return nil
	})

	if err := eg.Wait(); err != nil {
		return err
	}
	fmt.Printf("simulation ran to t=%v\n", until)
	return nil
}
