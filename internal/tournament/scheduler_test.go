package tournament

import (
	"context"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/deepreason/gateway/internal/remote"
	"github.com/deepreason/gateway/internal/secureread"
	"github.com/deepreason/gateway/internal/session"
)

const generationResponse = `Here are four theories:

1. Theory alpha: a race condition in the cache invalidation path.
Approach: add instrumented logging around the map access.
Category: bug. Priority: 0.7

2. Theory beta: an unindexed query slows requests under load.
Approach: profile the query planner.
Category: performance. Priority: 0.5

3. Theory gamma: stale configuration causes incorrect values.
Approach: diff the config across environments.
Category: architecture. Priority: 0.3

4. Theory delta: a typo in error handling swallows exceptions.
Approach: grep recent diffs for catch blocks.
Category: bug. Priority: 0.2
`

type scriptedChat struct{}

func (scriptedChat) Send(_ context.Context, text string) (string, error) {
	switch {
	case strings.Contains(text, "List 4 distinct"):
		return generationResponse, nil
	case strings.Contains(text, "alpha"):
		return "We certainly confirmed the race condition in cache.go:10. This pattern is system-wide across related services.", nil
	case strings.Contains(text, "beta"):
		return "We likely validated the slow query degrades performance.\nHowever it rules out a missing index as the cause.", nil
	case strings.Contains(text, "gamma"):
		return "This possibly contradicts the stale config theory.", nil
	case strings.Contains(text, "delta"):
		return "This contradicts the typo theory entirely.\nNo evidence found for it elsewhere.", nil
	case strings.Contains(text, "reproduction steps"):
		return "1. Run the service under load.\n2. Observe the cache invalidation race in the logs.", nil
	case strings.Contains(text, "Respond with a single JSON object"):
		return `{"summary": "analysis complete", "confidence": 0.2, "recommendations": []}`, nil
	default:
		return "no signal", nil
	}
}

type scriptedClient struct{}

func (scriptedClient) NewChat(_ context.Context) (remote.Chat, error) { return scriptedChat{}, nil }

var _ = Describe("Scheduler", func() {
	var (
		sched  *Scheduler
		mgr    *session.Manager
		reader *secureread.Reader
	)

	BeforeEach(func() {
		var err error
		reader, err = secureread.New(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())

		mgr = session.New(time.Hour, time.Hour)
		adapter := remote.New(scriptedClient{}, reader)
		sched = New(mgr, scriptedClient{}, adapter, reader)
	})

	AfterEach(func() {
		mgr.Destroy()
	})

	It("eliminates low-confidence hypotheses and keeps the top half through to the winner", func() {
		cfg := Config{
			MaxHypotheses:           4,
			MaxRounds:               2,
			EliminationThreshold:    0.3,
			Parallelism:             2,
			CrossPollinationEnabled: true,
		}

		result, err := sched.Run(context.Background(), session.RequestContext{}, "requests intermittently time out", cfg)
		Expect(err).NotTo(HaveOccurred())

		Expect(result.TotalHypotheses).To(Equal(4))
		Expect(len(result.Rounds)).To(BeNumerically(">=", 1))

		firstRound := result.Rounds[0]
		Expect(firstRound.EliminatedIDs).To(HaveLen(2), "gamma (below threshold) and delta (outside the top half) should be eliminated")

		Expect(result.Winner).NotTo(BeNil())
		Expect(result.Winner.Hypothesis.Theory).To(ContainSubstring("race condition"))
		Expect(result.Winner.Confidence).To(BeNumerically(">", 0.7))

		foundCritical := false
		for _, a := range result.PrimaryActions {
			if a.Priority == "critical" {
				foundCritical = true
			}
		}
		Expect(foundCritical).To(BeTrue(), "a winner above 0.7 confidence must yield a critical primary action")
	})

	It("raises a classified parse error when no hypotheses can be extracted", func() {
		failingClient := unparsableClient{}
		sched := New(mgr, failingClient, remote.New(failingClient, reader), reader)

		_, err := sched.Run(context.Background(), session.RequestContext{}, "vague issue", DefaultConfig())
		Expect(err).To(HaveOccurred())
	})
})

type unparsableChat struct{}

func (unparsableChat) Send(_ context.Context, _ string) (string, error) {
	return "I have no idea what's wrong.", nil
}

type unparsableClient struct{}

func (unparsableClient) NewChat(_ context.Context) (remote.Chat, error) { return unparsableChat{}, nil }
