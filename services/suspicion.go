package services

import (
	"math"
	"strings"
	"time"

	"github.com/alphabatem/common/context"

	"github.com/aria-access/aria_api/dto"
)

// SuspicionService classifies sessions as bot-like or human using additive
// point scoring over recent activity. The thresholds are deliberately
// generous: users of assistive technology can look repetitive or bursty, so
// no single ambiguous signal may block anyone. Only several independent
// bot-like signals compounding past the threshold flag a session, trading
// missed bots for zero false positives against disabled users. Thresholds
// are static constants with no feedback loop yet.
type SuspicionService struct {
	context.DefaultService

	rules []suspicionRule

	sqlSvc *PostgresService
}

const SUSPICION_SVC = "suspicion_svc"

const (
	suspicionThreshold = 5
	graceRecordCount   = 5
	activityLookback   = time.Hour
	volumeWindow       = 5 * time.Minute
	burstSessionSpan   = 6 * time.Minute
)

// activityStats is everything the rules need, computed once per scoring run.
type activityStats struct {
	deltaCount  int
	deltaMeanMs float64
	deltaStdMs  float64
	rapidDeltas int

	fiveMinCount   int64
	ipSessionCount int64
	sessionSpan    time.Duration
}

type suspicionRule struct {
	points int
	reason string
	match  func(s *activityStats) bool
}

func (svc SuspicionService) Id() string {
	return SUSPICION_SVC
}

func (svc *SuspicionService) Configure(ctx *context.Context) error {
	svc.rules = defaultRules()
	return svc.DefaultService.Configure(ctx)
}

func (svc *SuspicionService) Start() error {
	svc.sqlSvc = svc.Service(POSTGRES_SVC).(*PostgresService)
	return nil
}

// defaultRules is the scoring policy as data: each entry is one independent
// signal with its weight. The paired strong/weak variants carry exclusive
// predicates so at most one of a pair fires.
func defaultRules() []suspicionRule {
	return []suspicionRule{
		{
			points: 3,
			reason: "extremely consistent request timing",
			match: func(s *activityStats) bool {
				return s.deltaCount > 0 && s.deltaStdMs < 100 && s.deltaMeanMs < 1000
			},
		},
		{
			points: 1,
			reason: "unusually consistent request timing",
			match: func(s *activityStats) bool {
				if s.deltaCount == 0 || (s.deltaStdMs < 100 && s.deltaMeanMs < 1000) {
					return false
				}
				return s.deltaStdMs < 200 && s.deltaMeanMs < 2000
			},
		},
		{
			points: 2,
			reason: "repeated rapid-fire requests",
			match: func(s *activityStats) bool {
				return s.rapidDeltas >= 3
			},
		},
		{
			points: 2,
			reason: "very high request volume in 5 minutes",
			match: func(s *activityStats) bool {
				return s.fiveMinCount > 50
			},
		},
		{
			points: 1,
			reason: "elevated request volume in 5 minutes",
			match: func(s *activityStats) bool {
				return s.fiveMinCount > 30 && s.fiveMinCount <= 50
			},
		},
		{
			points: 3,
			reason: "many sessions sharing source IP",
			match: func(s *activityStats) bool {
				return s.ipSessionCount > 20
			},
		},
		{
			points: 1,
			reason: "several sessions sharing source IP",
			match: func(s *activityStats) bool {
				return s.ipSessionCount > 10 && s.ipSessionCount <= 20
			},
		},
		{
			points: 2,
			reason: "short burst session",
			match: func(s *activityStats) bool {
				return s.sessionSpan < burstSessionSpan && s.fiveMinCount > 20
			},
		},
	}
}

// Score evaluates a session's recent behavior. Sessions with fewer than five
// logged requests overall are never flagged, regardless of their timing
// pattern: a brand-new session has not earned suspicion yet.
func (svc *SuspicionService) Score(sessionID, endpoint, ipAddress string) (*dto.SuspicionResult, error) {
	total, err := svc.sqlSvc.CountSessionRequests(sessionID, time.Time{})
	if err != nil {
		return nil, err
	}
	if total < graceRecordCount {
		return &dto.SuspicionResult{IsSuspicious: false, Score: 0}, nil
	}

	stats, err := svc.collectStats(sessionID, ipAddress)
	if err != nil {
		return nil, err
	}

	score := 0
	var reasons []string
	for _, rule := range svc.rules {
		if rule.match(stats) {
			score += rule.points
			reasons = append(reasons, rule.reason)
		}
	}

	result := &dto.SuspicionResult{
		IsSuspicious: score >= suspicionThreshold,
		Score:        score,
	}
	if result.IsSuspicious {
		result.Reason = strings.Join(reasons, "; ")
	}
	return result, nil
}

func (svc *SuspicionService) collectStats(sessionID, ipAddress string) (*activityStats, error) {
	now := time.Now()

	records, err := svc.sqlSvc.GetRecentSessionActivity(sessionID, now.Add(-activityLookback), 20)
	if err != nil {
		return nil, err
	}

	fiveMinCount, err := svc.sqlSvc.CountSessionRequests(sessionID, now.Add(-volumeWindow))
	if err != nil {
		return nil, err
	}

	ipSessionCount, err := svc.sqlSvc.CountDistinctSessionsByIP(ipAddress, now.Add(-volumeWindow))
	if err != nil {
		return nil, err
	}

	stats := &activityStats{
		fiveMinCount:   fiveMinCount,
		ipSessionCount: ipSessionCount,
	}

	if len(records) > 0 {
		oldest := records[len(records)-1].CreatedAt
		stats.sessionSpan = now.Sub(oldest)
	}

	// Pairwise oldest-to-newest deltas across the ten most recent records.
	recent := records
	if len(recent) > 10 {
		recent = recent[:10]
	}
	var deltas []float64
	for i := len(recent) - 1; i > 0; i-- {
		delta := recent[i-1].CreatedAt.Sub(recent[i].CreatedAt)
		ms := float64(delta) / float64(time.Millisecond)
		deltas = append(deltas, ms)
		if ms < 200 {
			stats.rapidDeltas++
		}
	}

	stats.deltaCount = len(deltas)
	if stats.deltaCount > 0 {
		var sum float64
		for _, d := range deltas {
			sum += d
		}
		mean := sum / float64(len(deltas))

		var variance float64
		for _, d := range deltas {
			variance += (d - mean) * (d - mean)
		}
		variance /= float64(len(deltas))

		stats.deltaMeanMs = mean
		stats.deltaStdMs = math.Sqrt(variance)
	}

	return stats, nil
}
