package tournament

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleHypothesesResponse = `Here are three theories:

1. The cache layer has a race condition under concurrent writes.
Approach: add instrumented logging around the map access.
Category: bug. Priority: 0.8

2. The service is slow because of an unindexed database query.
Approach: profile the query planner.
Category: performance. Priority: 0.6

3. A recent deploy introduced an architecture regression in the queue consumer.
Approach: bisect recent deploys.
Category: architecture, priority high
`

func TestParseHypothesesExtractsCategoryAndPriority(t *testing.T) {
	hyps, err := ParseHypotheses(sampleHypothesesResponse, 6)
	require.NoError(t, err)
	require.Len(t, hyps, 3)

	require.Equal(t, CategoryBug, hyps[0].Category)
	require.InDelta(t, 0.8, hyps[0].PriorPriority, 1e-9)

	require.Equal(t, CategoryPerformance, hyps[1].Category)
	require.InDelta(t, 0.6, hyps[1].PriorPriority, 1e-9)

	require.Equal(t, CategoryArchitecture, hyps[2].Category)
	require.InDelta(t, 0.75, hyps[2].PriorPriority, 1e-9)
}

func TestParseHypothesesTruncatesToMax(t *testing.T) {
	hyps, err := ParseHypotheses(sampleHypothesesResponse, 2)
	require.NoError(t, err)
	require.Len(t, hyps, 2)
}

func TestParseHypothesesOrdinalsAreSequential(t *testing.T) {
	hyps, err := ParseHypotheses(sampleHypothesesResponse, 6)
	require.NoError(t, err)
	for i, h := range hyps {
		require.Equal(t, i, h.Ordinal)
	}
}

func TestParseHypothesesRejectsUnparsableResponse(t *testing.T) {
	_, err := ParseHypotheses("I'm not sure what's causing this issue.", 6)
	require.Error(t, err)
}
