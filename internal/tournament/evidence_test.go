package tournament

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyLineSupportingAndContradicting(t *testing.T) {
	polarity, matched := classifyLine("We confirmed the race condition in cache.go:42")
	require.True(t, matched)
	require.Equal(t, PolaritySupporting, polarity)

	polarity, matched = classifyLine("This rules out a deadlock as the cause")
	require.True(t, matched)
	require.Equal(t, PolarityContradicting, polarity)

	_, matched = classifyLine("just a plain observation with no signal words")
	require.False(t, matched)
}

func TestWordStrengthConfidence(t *testing.T) {
	require.InDelta(t, 0.85, wordStrengthConfidence("This is certainly the cause"), 1e-9)
	require.InDelta(t, 0.6, wordStrengthConfidence("This is likely the cause"), 1e-9)
	require.InDelta(t, 0.3, wordStrengthConfidence("This might possibly be the cause"), 1e-9)
	require.InDelta(t, 0.5, wordStrengthConfidence("This is the cause"), 1e-9)
}

func TestExtractEvidenceAttachesCodeReference(t *testing.T) {
	evidence := extractEvidence("We confirmed the issue, found in cache.go:42 definitely.")
	require.Len(t, evidence, 1)
	require.Equal(t, PolaritySupporting, evidence[0].Polarity)
	require.NotNil(t, evidence[0].Location)
	require.Equal(t, "cache.go", evidence[0].Location.File)
	require.Equal(t, 42, evidence[0].Location.Line)
}

func TestAggregateConfidenceWeightedSum(t *testing.T) {
	evidence := []Evidence{
		{Polarity: PolaritySupporting, Confidence: 0.8},
		{Polarity: PolarityContradicting, Confidence: 0.2},
	}
	conf := aggregateConfidence(evidence, true)
	require.Greater(t, conf, 0.5)
	require.LessOrEqual(t, conf, 1.0)
}

func TestAggregateConfidenceNoEvidence(t *testing.T) {
	require.Equal(t, 0.5, aggregateConfidence(nil, true))
	require.Equal(t, 0.0, aggregateConfidence(nil, false))
}

func TestAggregateConfidenceAllContradicting(t *testing.T) {
	evidence := []Evidence{
		{Polarity: PolarityContradicting, Confidence: 0.9},
		{Polarity: PolarityContradicting, Confidence: 0.9},
	}
	conf := aggregateConfidence(evidence, false)
	require.Less(t, conf, 0.1)
}
