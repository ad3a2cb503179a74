// Package governance implements stake-weighted proposals, voting power
// delegation, voter rewards and scheduled treasury payments.
package governance

import (
	"sort"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/ledger"
	"github.com/rony4d/go-subspace/registry"
	"github.com/rony4d/go-subspace/subspace"
)

// Event names emitted by the engine.
const (
	EventProposalCreated          = "ProposalCreated"
	EventProposalVoted            = "ProposalVoted"
	EventProposalVoteUnregistered = "ProposalVoteUnregistered"
	EventProposalAccepted         = "ProposalAccepted"
	EventProposalRefused          = "ProposalRefused"
	EventProposalExpired          = "ProposalExpired"
	EventProposalRemoved          = "ProposalRemoved"
	EventProposalRewarded         = "ProposalRewarded"
	EventDelegatingVotingPower    = "DelegatingVotingPower"
	EventNotDelegatingVotingPower = "NotDelegatingVotingPower"
	EventPaymentScheduleCreated   = "PaymentScheduleCreated"
	EventPaymentScheduleCancelled = "PaymentScheduleCancelled"
	EventPaymentExecuted          = "PaymentExecuted"
	EventPaymentFailed            = "PaymentFailed"
	EventPaymentScheduleCompleted = "PaymentScheduleCompleted"
)

var (
	ErrProposalNotFound             = inter.NewError(inter.KindValidation, "proposal not found")
	ErrProposalClosed               = inter.NewError(inter.KindValidation, "proposal is closed")
	ErrAlreadyVoted                 = inter.NewError(inter.KindValidation, "already voted")
	ErrNotVoted                     = inter.NewError(inter.KindValidation, "not voted")
	ErrProposalDataTooSmall         = inter.NewError(inter.KindValidation, "proposal data is empty")
	ErrProposalDataTooLarge         = inter.NewError(inter.KindValidation, "proposal data is too large")
	ErrInvalidProposalData          = inter.NewError(inter.KindValidation, "proposal data is not valid utf-8")
	ErrInvalidPaymentSchedule       = inter.NewError(inter.KindValidation, "invalid payment schedule")
	ErrPaymentScheduleNotFound      = inter.NewError(inter.KindValidation, "payment schedule not found")
	ErrNotProposer                  = inter.NewError(inter.KindAuthorization, "caller is not the proposer")
	ErrNotRoot                      = inter.NewError(inter.KindAuthorization, "root origin required")
	ErrVoterIsDelegatingVotingPower = inter.NewError(inter.KindAuthorization, "voter delegates its voting power")
	ErrInsufficientStake            = inter.NewError(inter.KindEconomicPrecondition, "voter has no stake")
	ErrNotEnoughBalanceToPropose    = inter.NewError(inter.KindEconomicPrecondition, "not enough balance to propose")
	ErrInsufficientDaoTreasuryFunds = inter.NewError(inter.KindEconomicPrecondition, "insufficient dao treasury funds")
)

// MaxProposalData bounds the proposal metadata.
const MaxProposalData = 256

var logger = log.New("module", "governance")

// Scope runs fn atomically: when fn fails every write it made is discarded.
type Scope func(fn func() error) error

func direct(fn func() error) error { return fn() }

// Engine owns proposals, vote delegation and payment schedules.
type Engine struct {
	rules  subspace.GovernanceRules
	reg    *registry.Registry
	ledger *ledger.Store
	events inter.Events
	scope  Scope

	proposals     map[uint64]*Proposal
	nextProposal  uint64
	unrewarded    map[uint64]*Unrewarded
	notDelegating map[common.Address]struct{}

	payments    map[uint64]*ScheduledPayment
	nextPayment uint64
}

// New creates an engine over the registry and its ledger.
func New(rules subspace.GovernanceRules, reg *registry.Registry, events inter.Events) *Engine {
	if events == nil {
		events = inter.Discard
	}
	return &Engine{
		rules:         rules,
		reg:           reg,
		ledger:        reg.Ledger(),
		events:        events,
		scope:         direct,
		proposals:     make(map[uint64]*Proposal),
		unrewarded:    make(map[uint64]*Unrewarded),
		notDelegating: make(map[common.Address]struct{}),
		payments:      make(map[uint64]*ScheduledPayment),
	}
}

// SetScope installs the transactional scope proposal resolution runs in.
func (e *Engine) SetScope(scope Scope) {
	if scope == nil {
		scope = direct
	}
	e.scope = scope
}

// Treasury is the DAO treasury account.
func (e *Engine) Treasury() common.Address {
	return e.rules.DaoTreasury
}

// Copy returns a deep copy sharing the registry, ledger, event sink and scope.
func (e *Engine) Copy() *Engine {
	cp := *e
	cp.proposals = make(map[uint64]*Proposal, len(e.proposals))
	for id, p := range e.proposals {
		cp.proposals[id] = p.Copy()
	}
	cp.unrewarded = make(map[uint64]*Unrewarded, len(e.unrewarded))
	for id, u := range e.unrewarded {
		cp.unrewarded[id] = u.copy()
	}
	cp.notDelegating = make(map[common.Address]struct{}, len(e.notDelegating))
	for k := range e.notDelegating {
		cp.notDelegating[k] = struct{}{}
	}
	cp.payments = make(map[uint64]*ScheduledPayment, len(e.payments))
	for id, p := range e.payments {
		pp := *p
		cp.payments[id] = &pp
	}
	return &cp
}

// OnBlock runs the proposal tick, the reward pass and due payments.
func (e *Engine) OnBlock(block idx.Block) {
	e.TickProposals(block)
	e.TickRewards(block)
	e.ProcessPayments(block)
}

func sortUint64s(ids []uint64) []uint64 {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
