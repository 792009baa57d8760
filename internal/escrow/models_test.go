package escrow_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"escrowd/internal/escrow"
	"escrowd/pkg/domain"
)

var allStates = []escrow.State{
	escrow.StateNone,
	escrow.StateProposed,
	escrow.StateAccepted,
	escrow.StateFunded,
	escrow.StateToRefundTimeout,
	escrow.StateDisputed,
	escrow.StateCompleted,
	escrow.StateCancelled,
	escrow.StateRejected,
}

// TestTransitionGraph pins the full lifecycle graph: every pair of states is
// checked, so adding or removing an edge breaks this test.
func TestTransitionGraph(t *testing.T) {
	legal := map[escrow.State][]escrow.State{
		escrow.StateProposed:        {escrow.StateAccepted, escrow.StateFunded, escrow.StateRejected, escrow.StateCancelled},
		escrow.StateAccepted:        {escrow.StateFunded, escrow.StateRejected, escrow.StateCancelled},
		escrow.StateFunded:          {escrow.StateToRefundTimeout, escrow.StateDisputed, escrow.StateCompleted},
		escrow.StateToRefundTimeout: {escrow.StateDisputed, escrow.StateCancelled},
		escrow.StateDisputed:        {escrow.StateCompleted},
	}

	for _, from := range allStates {
		allowed := map[escrow.State]bool{}
		for _, next := range legal[from] {
			allowed[next] = true
		}
		for _, to := range allStates {
			assert.Equal(t, allowed[to], from.CanTransition(to),
				"transition %q -> %q", from, to)
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, state := range allStates {
		if !state.IsTerminal() {
			continue
		}
		for _, to := range allStates {
			assert.False(t, state.CanTransition(to),
				"terminal state %q must not transition to %q", state, to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := map[escrow.State]bool{
		escrow.StateCompleted: true,
		escrow.StateCancelled: true,
		escrow.StateRejected:  true,
	}
	for _, state := range allStates {
		assert.Equal(t, terminal[state], state.IsTerminal(), "state %q", state)
	}
}

func TestRecordHelpers(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := &escrow.Record{
		Initiator:    domain.PartyID("alice"),
		Counterparty: domain.PartyID("bob"),
		ExpiresAt:    now.Add(time.Hour),
	}

	assert.True(t, rec.IsParticipant("alice"))
	assert.True(t, rec.IsParticipant("bob"))
	assert.False(t, rec.IsParticipant("carol"))
	assert.True(t, rec.IsInitiator("alice"))
	assert.Equal(t, domain.PartyID("bob"), rec.Other("alice"))
	assert.Equal(t, domain.PartyID("alice"), rec.Other("bob"))

	assert.False(t, rec.Expired(now))
	assert.False(t, rec.Expired(now.Add(time.Hour-time.Second)))
	assert.True(t, rec.Expired(now.Add(time.Hour)))

	rec.AssignRoles("bob", "alice")
	assert.Equal(t, domain.PartyID("bob"), rec.Seller)
	assert.Equal(t, domain.PartyID("alice"), rec.Buyer)
}
