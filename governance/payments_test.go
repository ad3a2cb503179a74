package governance

import (
	"testing"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/go-subspace/inter"
)

func TestCreatePaymentSchedule(t *testing.T) {
	f := newFixture(t)
	root := inter.RootOrigin()

	tests := []struct {
		name      string
		origin    inter.Origin
		amount    uint64
		interval  idx.Block
		remaining uint32
		want      error
	}{
		{"signed", inter.Signed(key(0)), 50, 5, 12, ErrNotRoot},
		{"zero amount", root, 0, 5, 12, ErrInvalidPaymentSchedule},
		{"zero interval", root, 50, 0, 12, ErrInvalidPaymentSchedule},
		{"nothing remaining", root, 50, 5, 0, ErrInvalidPaymentSchedule},
		{"valid", root, 50, 5, 12, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreatePaymentSchedule(0, tt.origin, key(1), tt.amount, 10, tt.interval, tt.remaining)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
	require.Len(t, f.events.Named(EventPaymentScheduleCreated), 1)
}

func TestProcessPayments(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	treasury := f.engine.Treasury()
	f.fundTreasury(40)

	id, err := f.engine.CreatePaymentSchedule(0, inter.RootOrigin(), key(1), 50, 10, 5, 12)
	require.NoError(err)

	f.engine.ProcessPayments(9)
	require.Empty(f.events.Named(EventPaymentFailed), "not due yet")

	// the treasury holds 40 and the payment is 50
	f.engine.ProcessPayments(10)
	failed := f.events.Named(EventPaymentFailed)
	require.Len(failed, 1)
	require.Equal(id, failed[0].Get("id"))
	require.Equal(uint64(40), f.ledger.FreeBalance(treasury))
	require.Zero(f.ledger.FreeBalance(key(1)))
	sched, ok := f.engine.PaymentSchedule(id)
	require.True(ok)
	require.Equal(uint32(12), sched.Remaining)
	require.Equal(idx.Block(10), sched.NextPaymentBlock)

	f.fundTreasury(60)
	f.engine.ProcessPayments(11)
	require.Equal(uint64(50), f.ledger.FreeBalance(treasury))
	require.Equal(uint64(50), f.ledger.FreeBalance(key(1)))
	sched, _ = f.engine.PaymentSchedule(id)
	require.Equal(uint32(11), sched.Remaining)
	require.Equal(idx.Block(16), sched.NextPaymentBlock)

	f.engine.ProcessPayments(12)
	require.Len(f.events.Named(EventPaymentExecuted), 1, "once per interval")
}

func TestPaymentScheduleCompletes(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.fundTreasury(1000)

	id, err := f.engine.CreatePaymentSchedule(0, inter.RootOrigin(), key(1), 100, 0, 3, 2)
	require.NoError(err)

	for block := idx.Block(0); block < 10; block++ {
		f.engine.ProcessPayments(block)
	}
	_, ok := f.engine.PaymentSchedule(id)
	require.False(ok)
	require.Equal(uint64(200), f.ledger.FreeBalance(key(1)))
	require.Len(f.events.Named(EventPaymentExecuted), 2)
	require.Len(f.events.Named(EventPaymentScheduleCompleted), 1)
}

func TestCancelPaymentSchedule(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.fundTreasury(1000)

	id, err := f.engine.CreatePaymentSchedule(0, inter.RootOrigin(), key(1), 100, 5, 5, 3)
	require.NoError(err)

	require.ErrorIs(f.engine.CancelPaymentSchedule(1, inter.Signed(key(0)), id), ErrNotRoot)
	require.ErrorIs(f.engine.CancelPaymentSchedule(1, inter.RootOrigin(), id+1), ErrPaymentScheduleNotFound)
	require.NoError(f.engine.CancelPaymentSchedule(1, inter.RootOrigin(), id))

	f.engine.ProcessPayments(5)
	require.Zero(f.ledger.FreeBalance(key(1)))
	require.Equal(uint64(1000), f.ledger.FreeBalance(f.engine.Treasury()))
}
