package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"jctledger/ledger"
	"jctledger/ledger/ledgertest"
	"jctledger/native/schedule"
	jctotel "jctledger/observability/otel"
)

func TestLedgerSpansCarryScheduleAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	inst, err := jctotel.NewScheduleInstruments(mp)
	require.NoError(t, err)

	h := ledgertest.New(t, ledgertest.Options{Ledger: []ledger.Option{
		ledger.WithTracer(tp.Tracer("test")),
		ledger.WithInstruments(inst),
	}})
	origin := h.Origin("1000", "10")
	issued := h.Issue(origin)
	linearID := origin.LinearID().String()

	halfway := startJob(t, origin, "50", schedule.JobStatusInProgress)
	v1, err := h.Propose(issued, schedule.Command{Type: schedule.CommandStartJob}, halfway)
	require.NoError(t, err)
	// The job is already running, so a second start is refused by the rules.
	_, err = h.Propose(v1, schedule.Command{Type: schedule.CommandStartJob}, startJob(t, halfway, "60", schedule.JobStatusInProgress))
	var rejection *schedule.Rejection
	require.True(t, errors.As(err, &rejection), "expected rejection, got %v", err)

	ended := recorder.Ended()
	require.Len(t, ended, 3)
	attrs := func(span sdktrace.ReadOnlySpan) map[string]string {
		out := map[string]string{}
		for _, kv := range span.Attributes() {
			out[string(kv.Key)] = kv.Value.Emit()
		}
		return out
	}

	require.Equal(t, "ledger.Issue", ended[0].Name())
	require.Equal(t, linearID, attrs(ended[0])[string(jctotel.AttrLinearID)])
	require.Equal(t, "0", attrs(ended[0])[string(jctotel.AttrSequence)])

	accepted := attrs(ended[1])
	require.Equal(t, "START_JOB", accepted[string(jctotel.AttrCommand)])
	require.Equal(t, "1", accepted[string(jctotel.AttrSequence)])
	require.Equal(t, codes.Ok, ended[1].Status().Code)

	rejected := attrs(ended[2])
	require.Equal(t, string(rejection.Reason), rejected[string(jctotel.AttrReason)])
	require.Equal(t, codes.Error, ended[2].Status().Code)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	outcomes := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				outcome, _ := dp.Attributes.Value(jctotel.AttrOutcome)
				outcomes[outcome.AsString()] += dp.Value
			}
		}
	}
	require.Equal(t, int64(2), outcomes[jctotel.OutcomeAccepted])
	require.Equal(t, int64(1), outcomes[jctotel.OutcomeRejected])
}
