package aggregate_test

import (
	"testing"

	aggregate "github.com/muselab/aura/internal/domain/aggregate"
	. "github.com/smartystreets/goconvey/convey"
)

func TestAggregator_Compute(t *testing.T) {
	Convey("Given an aggregator with defaults", t, func() {
		agg := aggregate.NewAggregator()

		Convey("When an item has no signals at all", func() {
			res := agg.Compute(aggregate.Inputs{
				RatingMean:     1200,
				RatingSigma:    350,
				AvgReliability: 1.0,
			})

			Convey("Then the slider component defaults to the midpoint", func() {
				So(res.Components.Signal, ShouldEqual, 50)
			})

			Convey("And the boost component is zero", func() {
				So(res.Components.Boost, ShouldEqual, 0)
			})

			Convey("And confidence reflects maximal uncertainty", func() {
				So(res.Confidence, ShouldEqual, 0)
			})
		})

		Convey("When the inputs are extreme", func() {
			cases := []aggregate.Inputs{
				{RatingMean: 1e9, RatingSigma: 0, SignalAvg: 1e9, SignalCount: 1, BoostCount: 1 << 20, AvgReliability: 1.5},
				{RatingMean: -1e9, RatingSigma: 1e9, SignalAvg: -5, SignalCount: 3, AvgReliability: 0.5},
				{RatingMean: 1200, RatingSigma: 350, AvgReliability: 0},
				{},
			}

			Convey("Then every score and confidence stays in [0, 100]", func() {
				for _, in := range cases {
					res := agg.Compute(in)
					So(res.Score, ShouldBeBetweenOrEqual, 0, 100)
					So(res.Confidence, ShouldBeBetweenOrEqual, 0, 100)
				}
			})
		})

		Convey("When comparisons accumulate at a fixed sigma", func() {
			prev := -1.0
			for _, votes := range []int{0, 1, 5, 20, 100, 1000} {
				res := agg.Compute(aggregate.Inputs{
					RatingMean:     1400,
					RatingSigma:    120,
					Comparisons:    votes,
					AvgReliability: 1.0,
				})
				So(res.Confidence, ShouldBeGreaterThanOrEqualTo, prev)
				prev = res.Confidence
			}
		})

		Convey("When sigma falls at a fixed vote count", func() {
			prev := -1.0
			for _, sigma := range []float64{350, 300, 200, 100, 50, 0} {
				res := agg.Compute(aggregate.Inputs{
					RatingMean:     1400,
					RatingSigma:    sigma,
					Comparisons:    10,
					AvgReliability: 1.0,
				})
				So(res.Confidence, ShouldBeGreaterThanOrEqualTo, prev)
				prev = res.Confidence
			}
		})

		Convey("When boosts pile up", func() {
			few := agg.Compute(aggregate.Inputs{RatingMean: 1200, RatingSigma: 200, BoostCount: 2, AvgReliability: 1})
			many := agg.Compute(aggregate.Inputs{RatingMean: 1200, RatingSigma: 200, BoostCount: 200, AvgReliability: 1})

			Convey("Then returns diminish but never exceed the bound", func() {
				So(many.Components.Boost, ShouldBeGreaterThan, few.Components.Boost)
				So(many.Components.Boost, ShouldBeLessThanOrEqualTo, 100)
			})
		})

		Convey("When reliability is below one", func() {
			full := agg.Compute(aggregate.Inputs{RatingMean: 1600, RatingSigma: 100, AvgReliability: 1.0})
			discounted := agg.Compute(aggregate.Inputs{RatingMean: 1600, RatingSigma: 100, AvgReliability: 0.5})

			Convey("Then the final score is discounted", func() {
				So(discounted.Score, ShouldBeLessThan, full.Score)
			})
		})
	})
}

func TestTier(t *testing.T) {
	Convey("Given the tier boundaries", t, func() {
		Convey("Then scores map onto the expected tiers", func() {
			So(aggregate.Tier(10), ShouldEqual, aggregate.TierEmerging)
			So(aggregate.Tier(40), ShouldEqual, aggregate.TierSolid)
			So(aggregate.Tier(79.9), ShouldEqual, aggregate.TierNotable)
			So(aggregate.Tier(95), ShouldEqual, aggregate.TierCanon)
		})
	})
}
