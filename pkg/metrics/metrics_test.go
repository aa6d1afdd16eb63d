package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry and custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithPrometheusRegistry(registry),
			)
			manager.roundsCompleted.Inc()

			Convey("Then collectors should be registered under the namespace", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if strings.HasPrefix(f.GetName(), "test_namespace_test_subsystem_") {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When two managers share a registry", func() {
			registry := prometheus.NewRegistry()
			_ = NewManager(WithPrometheusRegistry(registry))

			Convey("Then the duplicate registration should panic", func() {
				So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
			})
		})
	})
}

func TestGlobalRecorders(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording lane outcomes", func() {
			before := testutil.ToFloat64(globalManager.laneOutcomes.WithLabelValues(OutcomePromoted))
			RecordLaneOutcome(OutcomePromoted, 0.4)
			RecordLaneOutcome(OutcomeStalled, 0)

			Convey("Then the outcome counter should advance", func() {
				So(testutil.ToFloat64(globalManager.laneOutcomes.WithLabelValues(OutcomePromoted)), ShouldEqual, before+1)
			})
		})

		Convey("When recording a failed external call", func() {
			before := testutil.ToFloat64(globalManager.externalErrors.WithLabelValues("propose"))
			RecordExternalCall("propose", 12, errors.New("boom"))
			RecordExternalCall("propose", 8, nil)

			Convey("Then only the failure should be counted as an error", func() {
				So(testutil.ToFloat64(globalManager.externalErrors.WithLabelValues("propose")), ShouldEqual, before+1)
			})
		})

		Convey("When updating gauges", func() {
			UpdateHubSubscribers(3)
			UpdateQueueSize(7)

			Convey("Then they should hold the latest values", func() {
				So(testutil.ToFloat64(globalManager.hubSubscribers), ShouldEqual, 3)
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 7)
			})
		})

		Convey("Then the registry should be exposed", func() {
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}
