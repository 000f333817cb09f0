package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/credalabs/credence/pkg/governance"
)

// demoClock steps time manually so the decay effects are visible and
// the run is reproducible.
type demoClock struct{ now time.Time }

func (c *demoClock) Now() time.Time { return c.now }

// runDemo walks a security-response scenario through the kernel:
// healthy evaluation, approval gating, decay after silence, and state
// escalation after repeated failures.
func runDemo(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	clk := &demoClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	kernel, err := governance.NewKernel(governance.DefaultConfig(),
		governance.WithClock(clk),
		governance.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		fmt.Fprintf(stderr, "demo: %v\n", err)
		return 1
	}

	step := func(format string, args ...any) {
		fmt.Fprintf(stdout, "\n== "+format+"\n", args...)
	}
	must := func(err error) bool {
		if err != nil {
			fmt.Fprintf(stderr, "demo: %v\n", err)
		}
		return err == nil
	}

	step("Registering assumptions")
	if _, err := kernel.AddAssumption("net_telemetry", "network telemetry feed is current", 0.95, governance.CategoryCritical); !must(err) {
		return 1
	}
	if _, err := kernel.AddAssumption("edr_agents", "EDR agents report from all hosts", 0.90, governance.CategoryImportant); !must(err) {
		return 1
	}
	if _, err := kernel.AddAssumption("asset_inventory", "asset inventory is up to date", 0.80, governance.CategorySupporting); !must(err) {
		return 1
	}
	for _, a := range kernel.Assumptions() {
		fmt.Fprintf(stdout, "  %-16s %-10s confidence %.2f\n", a.ID, a.Category, a.Confidence)
	}

	step("Registering actions")
	if _, err := kernel.RegisterAction("block_ip", "block a single source IP at the edge",
		[]string{"net_telemetry"}, 2); !must(err) {
		return 1
	}
	if _, err := kernel.RegisterAction("isolate_node", "cut a production node off the network",
		[]string{"net_telemetry", "edr_agents", "asset_inventory"}, 4); !must(err) {
		return 1
	}

	printEval := func(ev governance.Evaluation) {
		fmt.Fprintf(stdout, "  %-14s -> %-17s aggregate %.3f threshold %.3f\n",
			ev.ActionID, ev.Decision, ev.AggregateConfidence, ev.Threshold)
		for _, reason := range ev.Reasons {
			fmt.Fprintf(stdout, "      %s\n", reason)
		}
	}

	step("Evaluating with fresh assumptions")
	ev, err := kernel.EvaluateAction("block_ip", clk.Now())
	if !must(err) {
		return 1
	}
	printEval(ev)
	ev, err = kernel.EvaluateAction("isolate_node", clk.Now())
	if !must(err) {
		return 1
	}
	printEval(ev)

	step("Executing isolate_node with sign-off from soc-lead")
	if _, err := kernel.ExecuteAction("isolate_node", "soc-lead", nil); !must(err) {
		return 1
	}
	if _, err := kernel.RecordOutcome("isolate_node", governance.OutcomeSuccess, "", clk.Now()); !must(err) {
		return 1
	}
	fmt.Fprintf(stdout, "  outcome SUCCESS recorded, state %s\n", kernel.State().State)

	step("Six hours of silence: telemetry confidence decays")
	clk.now = clk.now.Add(6 * time.Hour)
	eff, err := kernel.EffectiveConfidence("net_telemetry", clk.Now())
	if !must(err) {
		return 1
	}
	fmt.Fprintf(stdout, "  net_telemetry effective confidence now %.3f\n", eff)
	ev, err = kernel.EvaluateAction("isolate_node", clk.Now())
	if !must(err) {
		return 1
	}
	printEval(ev)

	step("Revalidating telemetry and failing repeatedly")
	if _, err := kernel.RevalidateAssumption("net_telemetry", 0.95, "feed verified manually", clk.Now()); !must(err) {
		return 1
	}
	for i := 0; i < 4; i++ {
		clk.now = clk.now.Add(time.Minute)
		if _, err := kernel.EvaluateAction("block_ip", clk.Now()); !must(err) {
			return 1
		}
		if _, err := kernel.ExecuteAction("block_ip", "", nil); err != nil {
			// Degraded state demands sign-off even for low criticality.
			if _, err := kernel.ExecuteAction("block_ip", "soc-lead", nil); !must(err) {
				return 1
			}
		}
		snap, err := kernel.RecordOutcome("block_ip", governance.OutcomeFailure, "soc-lead", clk.Now())
		if !must(err) {
			return 1
		}
		fmt.Fprintf(stdout, "  failure %d recorded, state %s (failure rate %.2f)\n",
			i+1, snap.State, snap.FailureRate)
	}

	step("Evaluating under degraded state")
	ev, err = kernel.EvaluateAction("isolate_node", clk.Now())
	if !must(err) {
		return 1
	}
	printEval(ev)

	step("Audit trail")
	trail := kernel.AuditTrail()
	fmt.Fprintf(stdout, "  %d entries, head %s\n", len(trail), kernel.AuditLog().Head()[:16])
	if err := kernel.AuditLog().VerifyChain(); err != nil {
		fmt.Fprintf(stderr, "demo: chain verification failed: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "  hash chain verified")
	return 0
}
