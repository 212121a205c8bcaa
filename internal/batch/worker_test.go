package batch_test

import (
	"context"
	"math"
	"testing"
	"time"

	repository "github.com/muselab/aura/internal/adapters/repository"
	"github.com/muselab/aura/internal/batch"
	"github.com/muselab/aura/internal/domain/aggregate"
	"github.com/muselab/aura/internal/domain/calibration"
	"github.com/muselab/aura/internal/domain/model"
	"github.com/muselab/aura/internal/domain/rating"
	"github.com/muselab/aura/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func newWorker(store repository.Store, opts ...batch.Option) *batch.Worker {
	return batch.NewWorker(
		store,
		rating.NewEngine(),
		calibration.NewCalibrator(),
		aggregate.NewAggregator(),
		opts...,
	)
}

func seedComparison(ctx context.Context, store repository.Store, eventID, a, b, winner string) {
	So(store.PutItem(ctx, model.NewItem(a)), ShouldBeNil)
	So(store.PutItem(ctx, model.NewItem(b)), ShouldBeNil)
	So(store.PutRater(ctx, model.NewRater("r1")), ShouldBeNil)
	So(store.AppendEvent(ctx, model.Event{
		EventID: eventID, Kind: model.KindComparison,
		ItemA: a, ItemB: b, WinnerID: winner, RaterID: "r1",
		CreatedAt: time.Now(),
	}), ShouldBeNil)
	So(store.MarkDirty(ctx, a, 10), ShouldBeNil)
	So(store.MarkDirty(ctx, b, 10), ShouldBeNil)
}

func TestWorker_Comparison(t *testing.T) {
	Convey("Given a worker and one pending comparison", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		w := newWorker(store)

		seedComparison(ctx, store, "e1", "a", "b", "a")
		w.Drain(ctx)

		Convey("Then the winner gained what the loser lost", func() {
			a, err := store.GetItem(ctx, "a")
			So(err, ShouldBeNil)
			b, err := store.GetItem(ctx, "b")
			So(err, ShouldBeNil)

			So(a.Mean, ShouldEqual, 1216)
			So(b.Mean, ShouldEqual, 1184)
			So(a.Mean+b.Mean, ShouldEqual, 2*model.DefaultMean)
		})

		Convey("Then the event was applied to both sides exactly once", func() {
			a, err := store.GetItem(ctx, "a")
			So(err, ShouldBeNil)
			b, err := store.GetItem(ctx, "b")
			So(err, ShouldBeNil)

			So(a.Comparisons, ShouldEqual, 1)
			So(b.Comparisons, ShouldEqual, 1)

			pending, err := store.UnappliedEvents(ctx, "a")
			So(err, ShouldBeNil)
			So(pending, ShouldBeEmpty)
		})

		Convey("Then sigma shrank for both sides", func() {
			a, err := store.GetItem(ctx, "a")
			So(err, ShouldBeNil)
			So(a.Sigma, ShouldBeLessThan, model.DefaultSigma)
		})

		Convey("Then both items got a published projection", func() {
			pa, err := store.GetPublished(ctx, "a")
			So(err, ShouldBeNil)
			pb, err := store.GetPublished(ctx, "b")
			So(err, ShouldBeNil)
			So(pa.Score, ShouldBeGreaterThan, pb.Score)
			So(pa.Tier, ShouldNotBeBlank)
		})

		Convey("Then the dirty backlog is empty", func() {
			backlog, err := store.DirtyBacklog(ctx)
			So(err, ShouldBeNil)
			So(backlog, ShouldEqual, 0)
		})
	})
}

func TestWorker_Rating(t *testing.T) {
	Convey("Given a worker and a pending rating", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		w := newWorker(store)

		So(store.PutItem(ctx, model.NewItem("a")), ShouldBeNil)
		So(store.PutRater(ctx, model.NewRater("r1")), ShouldBeNil)
		So(store.AppendEvent(ctx, model.Event{
			EventID: "e1", Kind: model.KindRating,
			ItemA: "a", RaterID: "r1", RawValue: 7,
			CreatedAt: time.Now(),
		}), ShouldBeNil)
		So(store.MarkDirty(ctx, "a", 20), ShouldBeNil)

		w.Drain(ctx)

		Convey("Then the rater's running stats absorbed the value", func() {
			rater, err := store.GetRater(ctx, "r1")
			So(err, ShouldBeNil)
			So(rater.Count, ShouldEqual, 1)
			So(rater.Mean, ShouldEqual, 7)
		})

		Convey("Then the first value calibrates to the midpoint", func() {
			item, err := store.GetItem(ctx, "a")
			So(err, ShouldBeNil)
			So(item.SignalCount, ShouldEqual, 1)
			So(item.SignalAvg(), ShouldAlmostEqual, 50, 1e-9)
		})

		Convey("Then reliability stays neutral without a consensus", func() {
			rater, err := store.GetRater(ctx, "r1")
			So(err, ShouldBeNil)
			So(rater.Reliability, ShouldEqual, model.DefaultReliability)
			So(rater.ReliabilitySamples, ShouldEqual, 0)
		})
	})
}

func TestWorker_ReliabilityAveragesRaterHistory(t *testing.T) {
	Convey("Given a historically aligned rater with one outlier rating", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		w := newWorker(store)

		// Item consensus sits at the midpoint.
		item := model.NewItem("a")
		item.SignalSum = 150
		item.SignalCount = 3
		So(store.PutItem(ctx, item), ShouldBeNil)

		// Five applied raw-5 ratings shaped the rater's stats.
		rater := model.NewRater("r1")
		rater.Count = 5
		rater.Mean = 5
		rater.M2 = 0
		So(store.PutRater(ctx, rater), ShouldBeNil)
		for _, id := range []string{"p1", "p2", "p3", "p4", "p5"} {
			So(store.AppendEvent(ctx, model.Event{
				EventID: id, Kind: model.KindRating,
				ItemA: "a", RaterID: "r1", RawValue: 5,
				CreatedAt: time.Now(),
			}), ShouldBeNil)
			So(store.ApplyEvent(ctx, id, nil, nil), ShouldBeNil)
		}

		So(store.AppendEvent(ctx, model.Event{
			EventID: "e-outlier", Kind: model.KindRating,
			ItemA: "a", RaterID: "r1", RawValue: 0,
			CreatedAt: time.Now(),
		}), ShouldBeNil)
		So(store.MarkDirty(ctx, "a", 20), ShouldBeNil)

		w.Drain(ctx)

		Convey("Then the rater's history outweighs the single outlier", func() {
			got, err := store.GetRater(ctx, "r1")
			So(err, ShouldBeNil)

			// Calibrated history averages to the consensus, so the
			// rater counts as aligned despite the outlier alone
			// calibrating outside the agreement band.
			So(got.ReliabilitySamples, ShouldEqual, 1)
			So(got.Reliability, ShouldBeGreaterThan, model.DefaultReliability)
			So(got.Reliability, ShouldAlmostEqual, 1.025, 1e-9)
		})
	})
}

func TestWorker_Boost(t *testing.T) {
	Convey("Given a worker and a pending boost", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		w := newWorker(store)

		So(store.PutItem(ctx, model.NewItem("a")), ShouldBeNil)
		So(store.AppendEvent(ctx, model.Event{
			EventID: "e1", Kind: model.KindBoost,
			ItemA: "a", RaterID: "curator", CreatedAt: time.Now(),
		}), ShouldBeNil)
		So(store.MarkDirty(ctx, "a", model.MaxPriority), ShouldBeNil)

		w.Drain(ctx)

		Convey("Then the boost count and published score reflect it", func() {
			item, err := store.GetItem(ctx, "a")
			So(err, ShouldBeNil)
			So(item.Boosts, ShouldEqual, 1)

			published, err := store.GetPublished(ctx, "a")
			So(err, ShouldBeNil)
			So(published.Score, ShouldBeGreaterThan, 0)
		})
	})
}

func TestWorker_PublishDebounce(t *testing.T) {
	Convey("Given a worker with publish thresholds", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		w := newWorker(store, batch.WithPublishThresholds(1.0, 5.0))

		seedComparison(ctx, store, "e1", "a", "b", "a")
		w.Drain(ctx)

		first, err := store.GetPublished(ctx, "a")
		So(err, ShouldBeNil)

		Convey("When the item is redirtied with nothing new to apply", func() {
			So(store.MarkDirty(ctx, "a", 10), ShouldBeNil)
			w.Drain(ctx)

			Convey("Then the unchanged projection is not rewritten", func() {
				second, err := store.GetPublished(ctx, "a")
				So(err, ShouldBeNil)
				So(second.PublishedAt.Equal(first.PublishedAt), ShouldBeTrue)
			})
		})

		Convey("When a high-weight rematch moves the score enough", func() {
			So(store.AppendEvent(ctx, model.Event{
				EventID: "e2", Kind: model.KindComparison,
				ItemA: "a", ItemB: "b", WinnerID: "a", RaterID: "r1",
				HighWeight: true, CreatedAt: time.Now(),
			}), ShouldBeNil)
			So(store.MarkDirty(ctx, "a", model.MaxPriority), ShouldBeNil)
			So(store.MarkDirty(ctx, "b", model.MaxPriority), ShouldBeNil)
			w.Drain(ctx)

			Convey("Then the projection is republished", func() {
				second, err := store.GetPublished(ctx, "a")
				So(err, ShouldBeNil)
				So(second.Score, ShouldBeGreaterThan, first.Score)
			})
		})
	})
}

func TestWorker_FailureIsolation(t *testing.T) {
	Convey("Given a batch with one poisoned item", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		w := newWorker(store)

		seedComparison(ctx, store, "e1", "good-a", "good-b", "good-a")

		poisoned := model.NewItem("bad")
		poisoned.Mean = math.NaN()
		So(store.PutItem(ctx, poisoned), ShouldBeNil)
		So(store.PutItem(ctx, model.NewItem("peer")), ShouldBeNil)
		So(store.AppendEvent(ctx, model.Event{
			EventID: "e2", Kind: model.KindComparison,
			ItemA: "bad", ItemB: "peer", WinnerID: "bad", RaterID: "r1",
			CreatedAt: time.Now(),
		}), ShouldBeNil)
		So(store.MarkDirty(ctx, "bad", 50), ShouldBeNil)

		w.Drain(ctx)

		Convey("Then the healthy items were processed and published", func() {
			published, err := store.GetPublished(ctx, "good-a")
			So(err, ShouldBeNil)
			So(published.Score, ShouldBeGreaterThan, 0)
		})

		Convey("Then the poisoned item has no published score", func() {
			_, err := store.GetPublished(ctx, "bad")
			So(err, ShouldEqual, repository.ErrNotScored)
		})

		Convey("Then the poisoned entry is parked at the bottom of the queue", func() {
			entries, err := store.ClaimDirty(ctx, "probe", 10)
			So(err, ShouldBeNil)
			So(entries, ShouldHaveLength, 1)
			So(entries[0].ItemID, ShouldEqual, "bad")
			So(entries[0].Priority, ShouldEqual, 0)
			So(entries[0].Attempts, ShouldEqual, 1)
		})
	})
}

func TestWorker_AttemptCap(t *testing.T) {
	Convey("Given a worker with a single-attempt cap", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		w := newWorker(store, batch.WithMaxAttempts(1))

		poisoned := model.NewItem("bad")
		poisoned.Mean = math.NaN()
		So(store.PutItem(ctx, poisoned), ShouldBeNil)
		So(store.PutItem(ctx, model.NewItem("peer")), ShouldBeNil)
		So(store.AppendEvent(ctx, model.Event{
			EventID: "e1", Kind: model.KindComparison,
			ItemA: "bad", ItemB: "peer", WinnerID: "bad", RaterID: "r1",
			CreatedAt: time.Now(),
		}), ShouldBeNil)
		So(store.MarkDirty(ctx, "bad", 50), ShouldBeNil)

		w.Drain(ctx)

		Convey("Then the entry is dropped instead of requeued", func() {
			backlog, err := store.DirtyBacklog(ctx)
			So(err, ShouldBeNil)
			So(backlog, ShouldEqual, 0)
		})
	})
}

func TestWorker_Budget(t *testing.T) {
	Convey("Given a worker with an exhausted budget", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		w := newWorker(store, batch.WithBudget(time.Nanosecond))

		seedComparison(ctx, store, "e1", "a", "b", "a")
		time.Sleep(time.Millisecond)

		w.Drain(ctx)

		Convey("Then nothing is processed and the claims are released", func() {
			backlog, err := store.DirtyBacklog(ctx)
			So(err, ShouldBeNil)
			So(backlog, ShouldEqual, 2)

			_, err = store.GetPublished(ctx, "a")
			So(err, ShouldEqual, repository.ErrNotScored)
		})
	})
}

func TestWorker_Scheduler(t *testing.T) {
	Convey("Given a running worker with a wake channel", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		store := repository.NewMemStore()
		wake := make(chan struct{}, 1)
		w := newWorker(store,
			batch.WithTickInterval(time.Hour),
			batch.WithWake(wake),
		)
		go w.Run(ctx)

		seedComparison(ctx, store, "e1", "a", "b", "a")
		wake <- struct{}{}

		Convey("Then a wake signal drains the backlog without a tick", func() {
			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				if n, _ := store.DirtyBacklog(ctx); n == 0 {
					break
				}
				time.Sleep(5 * time.Millisecond)
			}
			backlog, err := store.DirtyBacklog(ctx)
			So(err, ShouldBeNil)
			So(backlog, ShouldEqual, 0)
		})

		So(w.Shutdown(context.Background()), ShouldBeNil)
	})
}

func TestWorker_IdleSigmaSweep(t *testing.T) {
	Convey("Given a running worker with a fast tick", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		store := repository.NewMemStore()
		stale := model.NewItem("stale")
		stale.Sigma = 100
		stale.LastMatchAt = time.Now().Add(-time.Hour)
		So(store.PutItem(ctx, stale), ShouldBeNil)

		w := newWorker(store, batch.WithTickInterval(20*time.Millisecond))
		go w.Run(ctx)

		Convey("Then idle items grow more uncertain over ticks", func() {
			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				item, err := store.GetItem(ctx, "stale")
				So(err, ShouldBeNil)
				if item.Sigma > 100 {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}
			item, err := store.GetItem(ctx, "stale")
			So(err, ShouldBeNil)
			So(item.Sigma, ShouldBeGreaterThan, 100)
		})

		So(w.Shutdown(context.Background()), ShouldBeNil)
	})
}
