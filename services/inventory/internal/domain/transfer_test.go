package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
)

func TestCanTransitionTransfer(t *testing.T) {
	legal := [][2]string{
		{TransferStatusDraft, TransferStatusApproved},
		{TransferStatusDraft, TransferStatusCancelled},
		{TransferStatusApproved, TransferStatusInTransit},
		{TransferStatusApproved, TransferStatusCancelled},
		{TransferStatusInTransit, TransferStatusCompleted},
		{TransferStatusInTransit, TransferStatusCancelled},
	}
	for _, tr := range legal {
		assert.True(t, CanTransitionTransfer(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	illegal := [][2]string{
		{TransferStatusDraft, TransferStatusCompleted},
		{TransferStatusDraft, TransferStatusInTransit},
		{TransferStatusApproved, TransferStatusCompleted},
		{TransferStatusCompleted, TransferStatusCancelled},
		{TransferStatusCancelled, TransferStatusApproved},
		{TransferStatusInTransit, TransferStatusApproved},
	}
	for _, tr := range illegal {
		assert.False(t, CanTransitionTransfer(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestTransition_StampsTimestamps(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr := &Transfer{Status: TransferStatusDraft}

	require.NoError(t, tr.Transition(TransferStatusApproved, now))
	require.NoError(t, tr.Transition(TransferStatusInTransit, now.Add(time.Hour)))
	require.NoError(t, tr.Transition(TransferStatusCompleted, now.Add(2*time.Hour)))

	assert.Equal(t, TransferStatusCompleted, tr.Status)
	require.NotNil(t, tr.ApprovedAt)
	require.NotNil(t, tr.ShippedAt)
	require.NotNil(t, tr.CompletedAt)
	assert.Equal(t, now, *tr.ApprovedAt)
	assert.Nil(t, tr.CancelledAt)
	assert.True(t, tr.IsTerminal())
}

func TestTransition_IllegalLeavesTransferUntouched(t *testing.T) {
	tr := &Transfer{Status: TransferStatusDraft}

	err := tr.Transition(TransferStatusCompleted, time.Now())

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
	assert.Equal(t, TransferStatusDraft, tr.Status)
	assert.Nil(t, tr.CompletedAt)
}

func TestTransferValidate(t *testing.T) {
	valid := Transfer{
		FromLocationID: "l1",
		ToLocationID:   "l2",
		Items:          []TransferItem{{ProductID: "p1", QuantityRequested: 5}},
	}
	assert.NoError(t, valid.Validate())

	same := valid
	same.ToLocationID = "l1"
	assert.Error(t, same.Validate())

	empty := valid
	empty.Items = nil
	assert.Error(t, empty.Validate())

	dup := valid
	dup.Items = []TransferItem{{ProductID: "p1", QuantityRequested: 1}, {ProductID: "p1", QuantityRequested: 2}}
	assert.Error(t, dup.Validate())

	zero := valid
	zero.Items = []TransferItem{{ProductID: "p1"}}
	assert.Error(t, zero.Validate())
}

func TestSourceLines(t *testing.T) {
	tr := &Transfer{
		FromLocationID: "l1",
		ToLocationID:   "l2",
		Items: []TransferItem{
			{ProductID: "p1", VariantID: "v1", QuantityRequested: 5},
			{ProductID: "p2", QuantityRequested: 1},
		},
	}

	lines := tr.SourceLines()

	require.Len(t, lines, 2)
	assert.Equal(t, StockLine{ProductID: "p1", VariantID: "v1", LocationID: "l1", Quantity: 5}, lines[0])
	assert.Equal(t, "l1", lines[1].LocationID)
}

func TestAggregateStatus(t *testing.T) {
	assert.Equal(t, "", AggregateStatus(nil))
	assert.Equal(t, ReservationStatusActive, AggregateStatus([]ReservationLine{
		{Status: ReservationStatusReleased}, {Status: ReservationStatusActive},
	}))
	assert.Equal(t, ReservationStatusCommitted, AggregateStatus([]ReservationLine{
		{Status: ReservationStatusReleased}, {Status: ReservationStatusCommitted},
	}))
	assert.Equal(t, ReservationStatusExpired, AggregateStatus([]ReservationLine{
		{Status: ReservationStatusExpired},
	}))
}

func TestReservationLine_IsExpired(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, (&ReservationLine{Status: ReservationStatusActive, ExpiresAt: &past}).IsExpired(now))
	assert.False(t, (&ReservationLine{Status: ReservationStatusActive, ExpiresAt: &future}).IsExpired(now))
	assert.False(t, (&ReservationLine{Status: ReservationStatusActive}).IsExpired(now))
	assert.False(t, (&ReservationLine{Status: ReservationStatusReleased, ExpiresAt: &past}).IsExpired(now))
}
