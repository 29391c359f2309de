package constants

import "time"

const (
	// Execution engine defaults
	DefaultPendingLeadMin    = 30 // a slot turns pending this long before its scheduled start
	DefaultTimeMultiplier    = 1.0
	DefaultLoiterDelay       = 0 * time.Second
	DefaultDwellAfter        = 5 * time.Minute
	DefaultTickInterval      = 15 * time.Second
	DefaultSubscriberBuffer  = 64
	DefaultPromptCooldownMin = 10

	// Constraint engine defaults
	DefaultIdealActivitiesPerDay = 6
	DefaultDensityCeiling        = 8
	DefaultMinTravelBufferMin    = 10
	DefaultAutoAdjustMaxMin      = 15
	DefaultUndoLimit             = 50

	// Event pipeline defaults
	DefaultMinGap             = 2 * time.Minute
	DefaultMaxPerHour         = 8
	DefaultQuietStart         = "22:00"
	DefaultQuietEnd           = "07:00"
	DefaultBatchWindow        = 90 * time.Second
	DefaultDuplicateTTL       = 10 * time.Minute
	DefaultMaxEventAge        = 30 * time.Minute
	DefaultAmpleBufferMin     = 30
	DefaultRecommenderTimeout = 10 * time.Second
	DefaultPollInterval       = 3 * time.Second
	DefaultQueueSize          = 128
	DefaultQuickCacheSize     = 256
	DefaultStartOffsetMin     = 10
	DefaultEndOffsetMin       = 10
	DefaultLateGraceMin       = 5
	DefaultTimezone           = "Local"

	// Recommender defaults
	DefaultRecommenderModel   = "gpt-4o-mini"
	DefaultBreakerFailures    = 3
	DefaultBreakerCooldown    = 60 * time.Second
	DefaultRecommenderMaxToks = 600

	// Metrics
	DefaultMetricsAddr = "127.0.0.1:9464"
)
