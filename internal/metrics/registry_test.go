package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %q not found", name)
	return nil
}

// metricFor returns the single metric within fam whose label set matches
// the given key/value pairs, failing the test if none (or more than one) match.
func metricFor(t *testing.T, fam *dto.MetricFamily, pairs ...string) *dto.Metric {
	t.Helper()
	require.Equal(t, 0, len(pairs)%2, "pairs must be key/value")
	for _, m := range fam.GetMetric() {
		if labelsMatch(m, pairs) {
			return m
		}
	}
	t.Fatalf("no metric in family %q matched labels %v", fam.GetName(), pairs)
	return nil
}

func labelsMatch(m *dto.Metric, pairs []string) bool {
	for i := 0; i < len(pairs); i += 2 {
		want := pairs[i+1]
		var got string
		for _, lp := range m.GetLabel() {
			if lp.GetName() == pairs[i] {
				got = lp.GetValue()
			}
		}
		if got != want {
			return false
		}
	}
	return true
}

func TestOrderAccepted_IncrementsCounterForSymbol(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.OrderAccepted("BTC-PERP")
	r.OrderAccepted("BTC-PERP")
	r.OrderAccepted("ETH-PERP")

	fam := findFamily(t, reg, "fenrir_orders_accepted_total")
	assert.Equal(t, float64(2), metricFor(t, fam, "symbol", "BTC-PERP").GetCounter().GetValue())
	assert.Equal(t, float64(1), metricFor(t, fam, "symbol", "ETH-PERP").GetCounter().GetValue())
}

func TestOrderRejected_LabelsBySymbolAndReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.OrderRejected("BTC-PERP", "insufficient_margin")

	fam := findFamily(t, reg, "fenrir_orders_rejected_total")
	got := metricFor(t, fam, "symbol", "BTC-PERP", "reason", "insufficient_margin")
	assert.Equal(t, float64(1), got.GetCounter().GetValue())
}

func TestTradeExecuted_IncrementsCountAndAccumulatesVolume(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.TradeExecuted("BTC-PERP", 1.5)
	r.TradeExecuted("BTC-PERP", 0.5)

	countFam := findFamily(t, reg, "fenrir_trades_executed_total")
	assert.Equal(t, float64(2), metricFor(t, countFam, "symbol", "BTC-PERP").GetCounter().GetValue())

	volumeFam := findFamily(t, reg, "fenrir_trades_volume_base_total")
	assert.Equal(t, 2.0, metricFor(t, volumeFam, "symbol", "BTC-PERP").GetCounter().GetValue())
}

func TestLiquidationTriggered_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.LiquidationTriggered("BTC-PERP")

	fam := findFamily(t, reg, "fenrir_liquidations_triggered_total")
	assert.Equal(t, float64(1), metricFor(t, fam, "symbol", "BTC-PERP").GetCounter().GetValue())
}

func TestSnapshot_ReturnsGatheredFamilies(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)
	r.OrderAccepted("BTC-PERP")

	mfs, err := r.Snapshot(reg)
	require.NoError(t, err)

	var found bool
	for _, mf := range mfs {
		if mf.GetName() == "fenrir_orders_accepted_total" {
			found = true
		}
	}
	assert.True(t, found)
}
