package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

func TestReportFramesSkipsQuietTopics(t *testing.T) {
	frames := reportFrames(domain.PassReport{
		ID:             "p1",
		HedgeDecisions: []domain.HedgeDecision{{Symbol: "ETH", Action: domain.HedgeInRange}},
	})
	require.Len(t, frames, 1)
	assert.Equal(t, TopicPassReport, frames[0].topic)
}

func TestReportFramesSplitsActions(t *testing.T) {
	frames := reportFrames(domain.PassReport{
		ID: "p2",
		HedgeDecisions: []domain.HedgeDecision{
			{Symbol: "ETH", Action: domain.HedgeInRange},
			{Symbol: "BTC", Action: domain.HedgeClose, DeltaUSD: 40},
		},
		StopLosses: []domain.StopLossDecision{{PositionID: "x", LossPct: 0.6}},
	})
	require.Len(t, frames, 3)
	assert.Equal(t, TopicHedges, frames[1].topic)
	assert.Equal(t, TopicStopLosses, frames[2].topic)

	var env struct {
		Type    string                 `json:"type"`
		PassID  string                 `json:"pass_id"`
		Payload []domain.HedgeDecision `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(frames[1].data, &env))
	assert.Equal(t, "p2", env.PassID)
	require.Len(t, env.Payload, 1)
	assert.Equal(t, "BTC", env.Payload[0].Symbol)
}

func TestClientTopicSelection(t *testing.T) {
	c := newClient(nil, nil, []string{TopicHedges, " stop_losses"})
	assert.True(t, c.wants(TopicHedges))
	assert.True(t, c.wants(TopicStopLosses))
	assert.False(t, c.wants(TopicPassReport))

	c.apply(subscribeMsg{Action: "unsubscribe", Topics: []string{TopicHedges}})
	c.apply(subscribeMsg{Action: "subscribe", Topics: []string{TopicPassReport}})
	assert.False(t, c.wants(TopicHedges))
	assert.True(t, c.wants(TopicPassReport))
}
