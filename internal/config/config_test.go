package config_test

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/repute/internal/config"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with defaults", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.DBDSN, convey.ShouldEqual, "memory")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 10_000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*2)
			convey.So(cfg.PriorMean, convey.ShouldEqual, 60)
			convey.So(cfg.ConfidenceK, convey.ShouldEqual, 10)
			convey.So(cfg.SpecializationK, convey.ShouldEqual, 5)
			convey.So(cfg.MinReviewThreshold, convey.ShouldEqual, 5)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then durations are derived from the numeric fields", func() {
			convey.So(cfg.RecomputeTimeout(), convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.RetryInitialInterval(), convey.ShouldEqual, 100*time.Millisecond)
			convey.So(cfg.BreakerOpenTimeout(), convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.SweepInterval(), convey.ShouldEqual, time.Minute)
			convey.So(cfg.ShutdownTimeout(), convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.DedupeWindow(), convey.ShouldEqual, 24*time.Hour)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a valid config", t, func() {
		cfg := config.New()

		convey.Convey("When the weights do not sum to one", func() {
			cfg.QualityWeight = 0.7

			convey.Convey("Then validation fails", func() {
				err := cfg.Validate()
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(errors.Is(err, config.ErrWeightsSum), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "must be 1")
			})
		})

		convey.Convey("When a confidence constant is not positive", func() {
			cfg.ConfidenceK = 0

			convey.Convey("Then validation names the field", func() {
				err := cfg.Validate()
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "ConfidenceK")
			})
		})

		convey.Convey("When the dedupe window is zero", func() {
			cfg.DedupeWindowH = 0

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the log format is unknown", func() {
			cfg.LogFormat = "xml"

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the sweep rate is zero", func() {
			cfg.SweepRatePerSecond = 0

			convey.Convey("Then it is accepted as unlimited", func() {
				convey.So(cfg.Validate(), convey.ShouldBeNil)
			})
		})
	})
}
