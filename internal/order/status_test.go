package order

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kopi-pos/internal/payment"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusPending, StatusPaid},
		{StatusPending, StatusFailed},
		{StatusPending, StatusExpired},
		{StatusPaid, StatusPreparing},
		{StatusPreparing, StatusReady},
		{StatusReady, StatusCompleted},
	}
	for _, tc := range allowed {
		require.True(t, CanTransition(tc[0], tc[1]), "%s -> %s", tc[0], tc[1])
	}
	denied := [][2]Status{
		{StatusPaid, StatusReady},
		{StatusPreparing, StatusPaid},
		{StatusPaid, StatusFailed},
		{StatusFailed, StatusPaid},
		{StatusExpired, StatusPaid},
		{StatusCancelled, StatusPreparing},
		{StatusCompleted, StatusPaid},
		{StatusPending, StatusPreparing},
	}
	for _, tc := range denied {
		require.False(t, CanTransition(tc[0], tc[1]), "%s -> %s", tc[0], tc[1])
	}
}

func TestNotifies(t *testing.T) {
	require.True(t, Notifies(StatusPaid, StatusPreparing))
	require.False(t, Notifies(StatusPreparing, StatusReady))
	require.True(t, Notifies(StatusReady, StatusCompleted))
	require.False(t, Notifies(StatusPending, StatusPaid))
}

func TestTargetFor(t *testing.T) {
	require.Equal(t, StatusPaid, TargetFor(payment.OutcomePaid))
	require.Equal(t, StatusFailed, TargetFor(payment.OutcomeFailed))
	require.Equal(t, Status(""), TargetFor(payment.OutcomeNone))
}
