package kernel

import "github.com/docker/go-metrics"

var (
	syscallActions  metrics.LabeledTimer
	syscallFailures metrics.LabeledCounter
	terminations    metrics.LabeledCounter
	processRecords  metrics.Gauge
	pagesInUse      metrics.Gauge
)

func init() {
	ns := metrics.NewNamespace("mizzen", "kernel", nil)
	syscallActions = ns.NewLabeledTimer("syscall_actions", "The number of seconds it takes to process each syscall", "action")
	for _, a := range []string{
		"fork",
		"exec",
		"wait4",
		"exit",
		"kill",
	} {
		syscallActions.WithValues(a).Update(0)
	}
	syscallFailures = ns.NewLabeledCounter("syscall_failures", "The total number of syscalls that returned an error", "action")
	terminations = ns.NewLabeledCounter("terminations", "The total number of process terminations", "cause")
	processRecords = ns.NewGauge("process_records", "The number of live and zombie process records", metrics.Unit("records"))
	pagesInUse = ns.NewGauge("pages_in_use", "The number of user memory pages currently reserved", metrics.Unit("pages"))
	metrics.Register(ns)
}
