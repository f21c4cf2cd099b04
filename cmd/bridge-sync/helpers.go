package main

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/nucleus/bridge-sync/internal/controlplane"
	"github.com/nucleus/bridge-sync/internal/model"
	"github.com/nucleus/bridge-sync/internal/obslog"
	"github.com/nucleus/bridge-sync/internal/uploader"
)

func uploaderFor(cp *controlplane.Client, logger obslog.LoggerI) *uploader.Uploader {
	return uploader.New(cp, logger)
}

func newRunID() string {
	return uuid.NewString()
}

// filterMappings narrows the loaded mapping set to --all or the explicit
// --mapping list; an id named on the CLI that matches nothing is dropped
// silently here — the empty-result case surfaces as exit code 4 (spec §6).
func filterMappings(mappings []*model.Mapping, all bool, ids []string) []*model.Mapping {
	if all {
		return mappings
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []*model.Mapping
	for _, m := range mappings {
		if want[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

func printReport(report model.RunReport) {
	for id, outcome := range report.Outcomes {
		switch {
		case outcome.Succeeded != nil:
			fmt.Printf("%s\tsucceeded\trecords=%d\tbatches=%d\tduration=%s\n", id, outcome.Succeeded.Records, outcome.Succeeded.Batches, outcome.Succeeded.Duration)
		case outcome.Skipped != nil:
			fmt.Printf("%s\tskipped\treason=%s\n", id, outcome.Skipped.Reason)
		case outcome.Failed != nil:
			fmt.Printf("%s\tfailed\tkind=%s\tmessage=%s\n", id, outcome.Failed.ErrorKind, outcome.Failed.Message)
		}
	}
}
