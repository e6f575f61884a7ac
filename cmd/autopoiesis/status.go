package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/davehusk/millennium-qecc/internal/population"
)

func printStatus(w io.Writer, h population.Health) {
	fmt.Fprint(w, formatStatus(h))
}

func formatStatus(h population.Health) string {
	compliance := "ok"
	if !h.AxiomCompliance {
		compliance = "violated"
	}
	return fmt.Sprintf(
		"  agents:          %s\n"+
			"  total energy:    %s\n"+
			"  pool:            %s\n"+
			"  tasks processed: %s\n"+
			"  agents created:  %s\n"+
			"  insights:        %s\n"+
			"  axioms:          %s\n"+
			"  uptime:          %s\n",
		humanize.Comma(int64(h.TotalAgents)),
		humanize.CommafWithDigits(h.TotalEnergy, 1),
		humanize.CommafWithDigits(h.Pool, 1),
		humanize.Comma(int64(h.TasksProcessed)),
		humanize.Comma(int64(h.AgentsCreated)),
		humanize.Comma(int64(h.InsightsCount)),
		compliance,
		h.Uptime.Round(time.Second),
	)
}
