package calibration_test

import (
	"math/rand"
	"testing"

	calibration "github.com/muselab/aura/internal/domain/calibration"
	. "github.com/smartystreets/goconvey/convey"
)

func TestStats_Observe(t *testing.T) {
	Convey("Given empty rater stats", t, func() {
		stats := calibration.Stats{}

		Convey("When observing 40, 50 and 60", func() {
			for _, raw := range []float64{40, 50, 60} {
				stats = stats.Observe(raw)
			}

			Convey("Then the mean is 50", func() {
				So(stats.Mean, ShouldAlmostEqual, 50.0)
			})

			Convey("And the sample variance matches the textbook value", func() {
				// (100 + 0 + 100) / (3 - 1) = 100 with the n-1 convention.
				So(stats.Variance(), ShouldAlmostEqual, 100.0)
			})
		})

		Convey("When observing fewer than two values", func() {
			stats = stats.Observe(7)

			Convey("Then the variance is zero", func() {
				So(stats.Variance(), ShouldEqual, 0)
			})
		})

		Convey("When observing the same set in any order", func() {
			values := []float64{3, 9, 1, 7, 5, 2, 8, 4, 6, 10}

			final := calibration.Stats{}
			for _, v := range values {
				final = final.Observe(v)
			}

			rng := rand.New(rand.NewSource(1))
			for trial := 0; trial < 20; trial++ {
				shuffled := append([]float64(nil), values...)
				rng.Shuffle(len(shuffled), func(i, j int) {
					shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
				})

				permuted := calibration.Stats{}
				for _, v := range shuffled {
					permuted = permuted.Observe(v)
				}

				So(permuted.Mean, ShouldAlmostEqual, final.Mean, 1e-9)
				So(permuted.Variance(), ShouldAlmostEqual, final.Variance(), 1e-9)
			}
		})
	})
}

func TestCalibrator_Normalize(t *testing.T) {
	Convey("Given a calibrator and settled rater stats", t, func() {
		cal := calibration.NewCalibrator()

		stats := calibration.Stats{}
		for _, raw := range []float64{20, 30, 40, 50, 60, 70, 80} {
			stats = stats.Observe(raw)
		}

		Convey("When normalizing the rater's own mean", func() {
			Convey("Then it lands at the midpoint", func() {
				So(cal.Normalize(stats.Mean, stats), ShouldAlmostEqual, 50.0)
			})
		})

		Convey("When normalizing twice with unchanged stats", func() {
			first := cal.Normalize(65, stats)
			second := cal.Normalize(65, stats)

			Convey("Then the result is identical (idempotent)", func() {
				So(second, ShouldEqual, first)
			})
		})

		Convey("When normalizing wild outliers", func() {
			low := cal.Normalize(-1e6, stats)
			high := cal.Normalize(1e6, stats)

			Convey("Then the z-clamp bounds the output", func() {
				So(low, ShouldEqual, 0)
				So(high, ShouldEqual, 100)
			})
		})

		Convey("When the rater has near-zero spread", func() {
			flat := calibration.Stats{}
			for i := 0; i < 5; i++ {
				flat = flat.Observe(50)
			}

			Convey("Then the variance floor keeps the output finite", func() {
				got := cal.Normalize(50, flat)
				So(got, ShouldAlmostEqual, 50.0)
			})
		})
	})
}

func TestCalibrator_AlignReliability(t *testing.T) {
	Convey("Given a calibrator with default bounds", t, func() {
		cal := calibration.NewCalibrator()
		floor, cap := cal.ReliabilityBounds()

		Convey("When a rater repeatedly disagrees with consensus", func() {
			rel := 1.0
			for i := 0; i < 200; i++ {
				rel = cal.AlignReliability(rel, 90, 20)
			}

			Convey("Then reliability falls but never below the floor", func() {
				So(rel, ShouldBeLessThan, 1.0)
				So(rel, ShouldBeGreaterThanOrEqualTo, floor)
			})
		})

		Convey("When a rater repeatedly agrees with consensus", func() {
			rel := 0.6
			for i := 0; i < 200; i++ {
				rel = cal.AlignReliability(rel, 52, 50)
			}

			Convey("Then reliability recovers but never above the cap", func() {
				So(rel, ShouldBeGreaterThan, 0.6)
				So(rel, ShouldBeLessThanOrEqualTo, cap)
			})
		})
	})
}
