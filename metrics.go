package serenpair

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// pipelineMetrics holds OTel instruments for the pipeline's long-running
// stages. Instruments are registered against the global provider at init
// time, so they forward to a real exporter once the host process installs
// one and stay safe no-ops otherwise.
var pipelineMetrics struct {
	miningRounds     metric.Int64Counter
	candidatesScored metric.Int64Counter
	candidatesFailed metric.Int64Counter
	essaysGenerated  metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/corpusloom/serenpair")

	pipelineMetrics.miningRounds, _ = m.Int64Counter("serenpair.mining.rounds",
		metric.WithDescription("Mining rounds executed"),
		metric.WithUnit("{round}"),
	)
	pipelineMetrics.candidatesScored, _ = m.Int64Counter("serenpair.scoring.candidates_scored",
		metric.WithDescription("Candidate pairs scored by the LLM judge"),
		metric.WithUnit("{candidate}"),
	)
	pipelineMetrics.candidatesFailed, _ = m.Int64Counter("serenpair.scoring.candidates_failed",
		metric.WithDescription("Candidate pairs that failed scoring"),
		metric.WithUnit("{candidate}"),
	)
	pipelineMetrics.essaysGenerated, _ = m.Int64Counter("serenpair.essay.generated",
		metric.WithDescription("Essays generated from thought pairs"),
		metric.WithUnit("{essay}"),
	)
}
