package livetrack

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ayamte/chronogaz-tracking/internal/broker/messages"
)

func TestBroadcaster_DualKeyUnion(t *testing.T) {
	r := NewRegistry()
	defer r.Close()
	b := NewBroadcaster(r)

	// Subscribed before the livraison existed, under the planification id.
	early := &fakeSession{id: "early"}
	r.Subscribe("plan-1", early, RoleCustomer)
	// Subscribed after, under the livraison id.
	late := &fakeSession{id: "late"}
	r.Subscribe("liv-1", late, RoleCustomer)

	n := b.BroadcastPosition(messages.PositionUpdated{
		LivraisonID:     "liv-1",
		PlanificationID: "plan-1",
		Latitude:        33.58,
		Longitude:       -7.60,
		Timestamp:       time.Now().UTC(),
	})

	require.Equal(t, 2, n)
	require.Len(t, early.received(), 1, "planification-key subscriber must be bridged")
	require.Len(t, late.received(), 1)

	var got messages.PositionUpdated
	require.NoError(t, json.Unmarshal(early.received()[0].Payload, &got))
	require.Equal(t, "liv-1", got.LivraisonID)
	require.Equal(t, messages.KindPositionUpdated, early.received()[0].Kind)
}

func TestBroadcaster_DeduplicatesDoubleSubscription(t *testing.T) {
	r := NewRegistry()
	defer r.Close()
	b := NewBroadcaster(r)

	both := &fakeSession{id: "both"}
	r.Subscribe("plan-1", both, RoleCustomer)
	r.Subscribe("liv-1", both, RoleCustomer)

	n := b.BroadcastPosition(messages.PositionUpdated{
		LivraisonID:     "liv-1",
		PlanificationID: "plan-1",
	})

	require.Equal(t, 1, n)
	require.Len(t, both.received(), 1, "a session under both keys gets exactly one copy")
}

func TestBroadcaster_StatusTripleKey(t *testing.T) {
	r := NewRegistry()
	defer r.Close()
	b := NewBroadcaster(r)

	byOrder := &fakeSession{id: "by-order"}
	byPlan := &fakeSession{id: "by-plan"}
	byLiv := &fakeSession{id: "by-liv"}
	r.Subscribe("cmd-1", byOrder, RoleCustomer)
	r.Subscribe("plan-1", byPlan, RoleCustomer)
	r.Subscribe("liv-1", byLiv, RoleLivreur)

	n := b.BroadcastStatus(messages.StatusUpdated{
		CommandeID:      "cmd-1",
		PlanificationID: "plan-1",
		LivraisonID:     "liv-1",
		Statut:          "LIVRE",
	})

	require.Equal(t, 3, n)
	for _, s := range []*fakeSession{byOrder, byPlan, byLiv} {
		require.Len(t, s.received(), 1)
		require.Equal(t, messages.KindStatusUpdated, s.received()[0].Kind)
	}
}

func TestBroadcaster_EmptyLivraisonKeySkipped(t *testing.T) {
	r := NewRegistry()
	defer r.Close()
	b := NewBroadcaster(r)

	sess := &fakeSession{id: "s"}
	r.Subscribe("", sess, RoleCustomer)

	// A StatusUpdated with no livraison id yet must not match the "" key.
	n := b.BroadcastStatus(messages.StatusUpdated{
		CommandeID:      "cmd-1",
		PlanificationID: "plan-1",
	})
	require.Zero(t, n)
}
