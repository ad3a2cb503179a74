package governance

import (
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rony4d/go-subspace/inter"
)

// ScheduledPayment is a recurring treasury disbursement.
type ScheduledPayment struct {
	ID               uint64
	Recipient        common.Address
	Amount           uint64
	NextPaymentBlock idx.Block
	Interval         idx.Block
	Remaining        uint32
}

// PaymentSchedule returns a copy of schedule id.
func (e *Engine) PaymentSchedule(id uint64) (ScheduledPayment, bool) {
	p, ok := e.payments[id]
	if !ok {
		return ScheduledPayment{}, false
	}
	return *p, true
}

// CreatePaymentSchedule schedules remaining payments of amount to recipient,
// the first one firstIn blocks from now and the rest every interval blocks.
func (e *Engine) CreatePaymentSchedule(block idx.Block, origin inter.Origin, recipient common.Address, amount uint64, firstIn, interval idx.Block, remaining uint32) (uint64, error) {
	if !origin.Root {
		return 0, ErrNotRoot
	}
	if amount == 0 || interval == 0 || remaining == 0 {
		return 0, ErrInvalidPaymentSchedule
	}
	id := e.nextPayment
	e.nextPayment++
	e.payments[id] = &ScheduledPayment{
		ID:               id,
		Recipient:        recipient,
		Amount:           amount,
		NextPaymentBlock: block + firstIn,
		Interval:         interval,
		Remaining:        remaining,
	}
	e.events.Emit(EventPaymentScheduleCreated, block, "id", id, "recipient", recipient, "amount", amount)
	return id, nil
}

// CancelPaymentSchedule drops a schedule.
func (e *Engine) CancelPaymentSchedule(block idx.Block, origin inter.Origin, id uint64) error {
	if !origin.Root {
		return ErrNotRoot
	}
	if _, ok := e.payments[id]; !ok {
		return ErrPaymentScheduleNotFound
	}
	delete(e.payments, id)
	e.events.Emit(EventPaymentScheduleCancelled, block, "id", id)
	return nil
}

// ProcessPayments executes every schedule due at block, each at most once.
// A payment the treasury cannot cover emits PaymentFailed and leaves the
// schedule as it was, so it is retried on the next block.
func (e *Engine) ProcessPayments(block idx.Block) {
	treasury := e.rules.DaoTreasury
	ids := make([]uint64, 0, len(e.payments))
	for id := range e.payments {
		ids = append(ids, id)
	}
	for _, id := range sortUint64s(ids) {
		p := e.payments[id]
		if block < p.NextPaymentBlock {
			continue
		}
		if !e.ledger.CanWithdraw(treasury, p.Amount) {
			logger.Warn("Treasury cannot cover scheduled payment", "id", id, "amount", p.Amount, "treasury", e.ledger.FreeBalance(treasury))
			e.events.Emit(EventPaymentFailed, block, "id", id, "recipient", p.Recipient, "amount", p.Amount)
			continue
		}
		if err := e.ledger.Transfer(treasury, p.Recipient, p.Amount); err != nil {
			e.events.Emit(EventPaymentFailed, block, "id", id, "recipient", p.Recipient, "amount", p.Amount)
			continue
		}
		p.NextPaymentBlock = block + p.Interval
		p.Remaining--
		e.events.Emit(EventPaymentExecuted, block, "id", id, "recipient", p.Recipient, "amount", p.Amount, "next", p.NextPaymentBlock)
		if p.Remaining == 0 {
			delete(e.payments, id)
			e.events.Emit(EventPaymentScheduleCompleted, block, "id", id)
		}
	}
}
