package scoring_test

import (
	"testing"

	"github.com/okian/stresstrack/internal/domain/model"
	scoring "github.com/okian/stresstrack/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func TestWeightedScorer_Score(t *testing.T) {
	Convey("Given a scorer with default weights", t, func() {
		scorer := scoring.New()

		Convey("When scoring the merged example.com document", func() {
			b := model.Behavior{
				Clicks:        5,
				ScrollSpeed:   5,
				TimeSpent:     15,
				MovementCount: 3,
				MovementMinX:  0,
				MovementMaxX:  80,
			}

			Convey("Then it should reproduce the published value", func() {
				So(scorer.Score(scoring.InputOf(b)), ShouldEqual, 20.65)
			})
		})

		Convey("When the document has a single mouse sample", func() {
			in := scoring.Input{
				Clicks:    1,
				Movements: model.StatsOf([]model.MouseMovement{{X: 500}}),
			}

			Convey("Then spread contributes nothing", func() {
				So(scorer.Score(in), ShouldEqual, 2)
			})
		})

		Convey("When the document has no mouse samples", func() {
			in := scoring.Input{ScrollSpeed: 3, TimeSpent: 7}

			Convey("Then only speed and dwell count", func() {
				So(scorer.Score(in), ShouldEqual, 1.57)
			})
		})

		Convey("When everything is zero", func() {
			So(scorer.Score(scoring.Input{}), ShouldEqual, 0)
		})

		Convey("When the raw value has more than two decimals", func() {
			in := scoring.Input{TimeSpent: 1234}

			Convey("Then it is rounded to two", func() {
				So(scorer.Score(in), ShouldEqual, 12.34)
			})
		})
	})
}

func TestWeightedScorer_Weights(t *testing.T) {
	Convey("Given custom weights", t, func() {
		Convey("When all weights are valid", func() {
			scorer := scoring.New(scoring.WithWeights(scoring.Weights{
				ScrollSpeed:    1,
				Clicks:         1,
				MovementSpread: 1,
				TimeSpent:      1,
			}))

			Convey("Then the score is the plain sum", func() {
				in := scoring.Input{
					ScrollSpeed: 1,
					Clicks:      2,
					Movements:   model.StatsOf([]model.MouseMovement{{X: 1}, {X: 4}}),
					TimeSpent:   4,
				}
				So(scorer.Score(in), ShouldEqual, 10)
			})
		})

		Convey("When a weight is negative", func() {
			scorer := scoring.New(scoring.WithWeights(scoring.Weights{
				ScrollSpeed:    -1,
				Clicks:         3,
				MovementSpread: 0.1,
				TimeSpent:      0.01,
			}))

			Convey("Then the default is kept for it", func() {
				So(scorer.Weights().ScrollSpeed, ShouldEqual, scoring.DefaultScrollSpeedWeight)
				So(scorer.Weights().Clicks, ShouldEqual, 3)
			})
		})
	})
}

func TestRound2(t *testing.T) {
	Convey("Given values to round", t, func() {
		So(scoring.Round2(20.649999999), ShouldEqual, 20.65)
		So(scoring.Round2(1.005), ShouldBeBetweenOrEqual, 1.0, 1.01)
		So(scoring.Round2(-2.346), ShouldEqual, -2.35)
		So(scoring.Round2(0), ShouldEqual, 0)
	})
}
