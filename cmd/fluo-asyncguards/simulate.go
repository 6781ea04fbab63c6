package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	fluo "github.com/anggasct/fluo-asyncguards"
	"github.com/anggasct/fluo-asyncguards/asyncguard"
	"github.com/anggasct/fluo-asyncguards/observers"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate [events...]",
	Short: "Run the compiled statechart against a sequence of events",
	Long: `Starts the compiled machine and sends each event in order, waiting for pending
async guards to settle in between. Guard outcomes are fixed with --guard name=bool.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSimulate(cmd, args); err != nil {
			fmt.Printf("Simulation failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	simulateCmd.Flags().StringSlice("guard", nil, "guard outcome as name=true|false")
	simulateCmd.Flags().Duration("delay", 10*time.Millisecond, "time each async guard takes to resolve")
	simulateCmd.Flags().Duration("settle", 500*time.Millisecond, "how long to wait for guards after each event")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, events []string) error {
	specs, _ := cmd.Flags().GetStringSlice("guard")
	delay, _ := cmd.Flags().GetDuration("delay")
	settle, _ := cmd.Flags().GetDuration("settle")

	registry, err := parseGuardOutcomes(specs, delay)
	if err != nil {
		return err
	}

	logger := newLogger(cmd)
	compiled, err := loadChart(cmd, registry)
	if err != nil {
		return err
	}

	definition, err := fluo.NewDefinition(compiled)
	if err != nil {
		return err
	}

	machine := definition.CreateInstance()
	machine.AddObserver(observers.NewLoggingObserver(logger))
	if err := machine.Start(); err != nil {
		return err
	}
	defer machine.Stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "start: %s\n", machine.CurrentState())

	for _, event := range events {
		result := machine.HandleEvent(event, nil)
		if !result.Success() {
			reason := result.RejectionReason
			if reason == "" && result.Error != nil {
				reason = result.Error.Error()
			}
			fmt.Fprintf(out, "%s: rejected (%s)\n", event, reason)
			continue
		}
		waitIdle(machine, settle)
		fmt.Fprintf(out, "%s: %s\n", event, machine.CurrentState())
	}
	return nil
}

// parseGuardOutcomes builds a registry of guards that resolve after delay
func parseGuardOutcomes(pairs []string, delay time.Duration) (asyncguard.Registry, error) {
	registry := asyncguard.Registry{}
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("guard outcome %q must be name=true|false", pair)
		}
		outcome, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("guard outcome %q: %w", pair, err)
		}
		registry[name] = delayedGuard(outcome, delay)
	}
	return registry, nil
}

// waitIdle polls until no guard step is active or the timeout passes
func waitIdle(machine fluo.Machine, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !pending(machine) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func pending(machine fluo.Machine) bool {
	for _, id := range machine.GetActiveStates() {
		if strings.Contains(id, ".async-guards-") && !strings.HasSuffix(id, ".async-guards-init") {
			return true
		}
	}
	return false
}
