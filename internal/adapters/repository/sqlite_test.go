package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	repository "github.com/muselab/aura/internal/adapters/repository"
	"github.com/muselab/aura/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func openTestDB(t *testing.T) *repository.SQLStore {
	t.Helper()
	store, err := repository.OpenSQL(filepath.Join(t.TempDir(), "aura.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLStore_EventLifecycle(t *testing.T) {
	convey.Convey("Given a sqlite-backed store", t, func() {
		ctx := context.Background()
		store := openTestDB(t)

		e := model.Event{
			EventID:  "e1",
			Kind:     model.KindComparison,
			ItemA:    "a",
			ItemB:    "b",
			WinnerID: "b",
			RaterID:  "r1",
		}
		convey.So(store.AppendEvent(ctx, e), convey.ShouldBeNil)

		convey.Convey("Then a duplicate append is rejected", func() {
			err := store.AppendEvent(ctx, e)
			convey.So(errors.Is(err, repository.ErrDuplicateEvent), convey.ShouldBeTrue)
		})

		convey.Convey("Then the event is pending for both sides", func() {
			forA, err := store.UnappliedEvents(ctx, "a")
			convey.So(err, convey.ShouldBeNil)
			convey.So(forA, convey.ShouldHaveLength, 1)
			convey.So(forA[0].WinnerID, convey.ShouldEqual, "b")

			forB, err := store.UnappliedEvents(ctx, "b")
			convey.So(err, convey.ShouldBeNil)
			convey.So(forB, convey.ShouldHaveLength, 1)
		})

		convey.Convey("When applying the event with updated state", func() {
			a := model.NewItem("a")
			a.Mean = 1184
			a.Comparisons = 1
			b := model.NewItem("b")
			b.Mean = 1216
			b.Comparisons = 1
			r := model.NewRater("r1")
			r.Count = 1

			err := store.ApplyEvent(ctx, "e1", []model.Item{a, b}, []model.Rater{r})
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then state and pending set reflect the apply", func() {
				pending, err := store.UnappliedEvents(ctx, "a")
				convey.So(err, convey.ShouldBeNil)
				convey.So(pending, convey.ShouldBeEmpty)

				got, err := store.GetItem(ctx, "b")
				convey.So(err, convey.ShouldBeNil)
				convey.So(got.Mean, convey.ShouldEqual, 1216)

				rater, err := store.GetRater(ctx, "r1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(rater.Count, convey.ShouldEqual, 1)
			})

			convey.Convey("Then the raters of an item are recoverable from the log", func() {
				raters, err := store.RatersForItem(ctx, "a")
				convey.So(err, convey.ShouldBeNil)
				convey.So(raters, convey.ShouldHaveLength, 1)
				convey.So(raters[0].ID, convey.ShouldEqual, "r1")
			})
		})
	})
}

func TestSQLStore_DirtyClaims(t *testing.T) {
	convey.Convey("Given a sqlite-backed store with dirty entries", t, func() {
		ctx := context.Background()
		store := openTestDB(t)

		convey.So(store.MarkDirty(ctx, "a", 10), convey.ShouldBeNil)
		convey.So(store.MarkDirty(ctx, "b", 90), convey.ShouldBeNil)
		convey.So(store.MarkDirty(ctx, "a", 100), convey.ShouldBeNil)

		convey.Convey("Then a re-mark keeps the highest priority", func() {
			claimed, err := store.ClaimDirty(ctx, "w1", 1)
			convey.So(err, convey.ShouldBeNil)
			convey.So(claimed, convey.ShouldHaveLength, 1)
			convey.So(claimed[0].ItemID, convey.ShouldEqual, "a")
			convey.So(claimed[0].Priority, convey.ShouldEqual, 100)
		})

		convey.Convey("When one worker holds a claim", func() {
			first, err := store.ClaimDirty(ctx, "w1", 2)
			convey.So(err, convey.ShouldBeNil)
			convey.So(first, convey.ShouldHaveLength, 2)

			convey.Convey("Then a second worker sees nothing claimable", func() {
				second, err := store.ClaimDirty(ctx, "w2", 2)
				convey.So(err, convey.ShouldBeNil)
				convey.So(second, convey.ShouldBeEmpty)
			})

			convey.Convey("Then a re-mark while claimed survives completion", func() {
				convey.So(store.MarkDirty(ctx, "a", 40), convey.ShouldBeNil)
				convey.So(store.CompleteDirty(ctx, "w1", "a"), convey.ShouldBeNil)
				convey.So(store.CompleteDirty(ctx, "w1", "b"), convey.ShouldBeNil)

				backlog, err := store.DirtyBacklog(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(backlog, convey.ShouldEqual, 1)
			})

			convey.Convey("Then releasing the claim returns the entries", func() {
				convey.So(store.ReleaseClaims(ctx, "w1"), convey.ShouldBeNil)
				second, err := store.ClaimDirty(ctx, "w2", 2)
				convey.So(err, convey.ShouldBeNil)
				convey.So(second, convey.ShouldHaveLength, 2)
			})

			convey.Convey("Then requeueing bumps the attempt counter", func() {
				convey.So(store.RequeueDirty(ctx, "w1", "a", 1), convey.ShouldBeNil)
				second, err := store.ClaimDirty(ctx, "w2", 1)
				convey.So(err, convey.ShouldBeNil)
				convey.So(second, convey.ShouldHaveLength, 1)
				convey.So(second[0].Attempts, convey.ShouldEqual, 1)
			})
		})
	})
}

func TestSQLStore_PublishedScores(t *testing.T) {
	convey.Convey("Given a sqlite-backed store", t, func() {
		ctx := context.Background()
		store := openTestDB(t)

		convey.Convey("Then an unpublished item reads as not scored", func() {
			_, err := store.GetPublished(ctx, "ghost")
			convey.So(errors.Is(err, repository.ErrNotScored), convey.ShouldBeTrue)
		})

		convey.Convey("When publishing twice", func() {
			convey.So(store.PublishScore(ctx, model.PublishedScore{
				ItemID: "a", Score: 50, Confidence: 20, Tier: "solid",
			}), convey.ShouldBeNil)
			convey.So(store.PublishScore(ctx, model.PublishedScore{
				ItemID: "a", Score: 62, Confidence: 35, Tier: "notable",
			}), convey.ShouldBeNil)

			convey.Convey("Then the latest projection wins", func() {
				got, err := store.GetPublished(ctx, "a")
				convey.So(err, convey.ShouldBeNil)
				convey.So(got.Score, convey.ShouldEqual, 62)
				convey.So(got.Tier, convey.ShouldEqual, "notable")
			})
		})
	})
}
