package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/partition"
)

// PartitionSummary describes one component's share of the log.
type PartitionSummary struct {
	Component string   `json:"component_id"`
	Traces    int      `json:"traces"`
	Events    int      `json:"events"`
	Alphabet  []string `json:"alphabet"`
}

// HandOff is one witness pair.
type HandOff struct {
	TraceID string `json:"trace_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	FromSeq int64  `json:"from_sequence_index"`
	ToSeq   int64  `json:"to_sequence_index"`
}

// PartitionResult is the output of the partition command.
type PartitionResult struct {
	Components []PartitionSummary `json:"components"`
	Witness    []HandOff          `json:"witness"`
}

// WriteText renders the result for terminals.
func (r PartitionResult) WriteText(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "%d component(s), %d hand-off(s)\n", len(r.Components), len(r.Witness))
	for _, c := range r.Components {
		fmt.Fprintf(w, "  %s: %d trace(s), %d event(s), alphabet %v\n", c.Component, c.Traces, c.Events, c.Alphabet)
	}
	if !verbose {
		return
	}
	for _, h := range r.Witness {
		fmt.Fprintf(w, "  %s: %s(%d) -> %s(%d)\n", h.TraceID, h.From, h.FromSeq, h.To, h.ToSeq)
	}
}

// NewPartitionCommand creates the partition command.
func NewPartitionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "partition <log>",
		Short: "Split a log per component and show the hand-offs",
		Long: `Split a log per component without running inference.

Shows each component's traces, events and alphabet. With --verbose (or
--format json) every cross-component hand-off is listed as well.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPartition(rootOpts, args[0], cmd)
		},
	}
}

func runPartition(opts *RootOptions, logPath string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	log, err := readLog(cmd, logPath)
	if err != nil {
		return f.Fail("failed to read log", err)
	}
	res, err := partition.Split(log)
	if err != nil {
		return f.Fail("failed to partition log", err)
	}
	return f.Success(summarizePartition(res))
}

func summarizePartition(res *partition.Result) PartitionResult {
	out := PartitionResult{
		Components: make([]PartitionSummary, 0, len(res.Components)),
		Witness:    make([]HandOff, 0, len(res.Witness.Pairs)),
	}
	for _, c := range res.Components {
		p := res.Partitions[c]
		out.Components = append(out.Components, PartitionSummary{
			Component: c,
			Traces:    len(p.Traces),
			Events:    p.EventCount(),
			Alphabet:  p.Alphabet(),
		})
	}
	for _, pair := range res.Witness.Pairs {
		out.Witness = append(out.Witness, HandOff{
			TraceID: pair.From.TraceID,
			From:    pair.From.ComponentID + ":" + pair.From.Label,
			To:      pair.To.ComponentID + ":" + pair.To.Label,
			FromSeq: pair.From.Seq,
			ToSeq:   pair.To.Seq,
		})
	}
	return out
}
