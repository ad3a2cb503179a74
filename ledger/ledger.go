// Package ledger is the in-memory stake and balance ledger the runtime
// components run against.
//
// Free balances are per account. Stake is tracked in two mirrored maps
// (staker -> module and module -> staker) so that both "how much does this
// account stake" and "who stakes on this module" are single lookups. Stake
// is keyed by module account, so a key registered on several subnets shares
// one stake position.
package ledger

import (
	"bytes"
	"math"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/utils/fixed"
)

var (
	ErrInsufficientFunds        = inter.NewError(inter.KindEconomicPrecondition, "insufficient funds")
	ErrNotEnoughStakeToWithdraw = inter.NewError(inter.KindEconomicPrecondition, "not enough stake to withdraw")
	ErrInvalidDelegationFee     = inter.NewError(inter.KindValidation, "invalid delegation fee")
	ErrZeroAmount               = inter.NewError(inter.KindValidation, "amount must be positive")
)

const (
	// DefaultDelegationFee is the percentage of stakers' emission a module keeps.
	DefaultDelegationFee uint8 = 5
	// MinDelegationFee is the lowest fee a module may configure.
	MinDelegationFee uint8 = 5
	// DefaultValidatorWeightFee is the percentage of a delegator's dividends
	// paid to the module it delegated weight control to.
	DefaultValidatorWeightFee uint8 = 20
	MinValidatorWeightFee     uint8 = 5
)

// Ledger is the balance collaborator consumed by the runtime components.
type Ledger interface {
	FreeBalance(account common.Address) uint64
	Deposit(account common.Address, amount uint64)
	Withdraw(account common.Address, amount uint64) error
	CanWithdraw(account common.Address, amount uint64) bool
}

// Ownership is one staker's share of a module's delegated stake.
type Ownership struct {
	Staker common.Address
	Ratio  fixed.Fixed
}

// Store implements Ledger and the stake bookkeeping.
type Store struct {
	balances      map[common.Address]uint64
	stakeTo       map[common.Address]map[common.Address]uint64
	stakeFrom     map[common.Address]map[common.Address]uint64
	delegationFee map[common.Address]uint8
	weightFee     map[common.Address]uint8
	totalStake    uint64
}

// New creates an empty ledger.
func New() *Store {
	return &Store{
		balances:      make(map[common.Address]uint64),
		stakeTo:       make(map[common.Address]map[common.Address]uint64),
		stakeFrom:     make(map[common.Address]map[common.Address]uint64),
		delegationFee: make(map[common.Address]uint8),
		weightFee:     make(map[common.Address]uint8),
	}
}

func satAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// FreeBalance returns the liquid balance of account.
func (s *Store) FreeBalance(account common.Address) uint64 {
	return s.balances[account]
}

// Deposit credits account, saturating.
func (s *Store) Deposit(account common.Address, amount uint64) {
	if amount == 0 {
		return
	}
	s.balances[account] = satAdd(s.balances[account], amount)
}

// CanWithdraw reports whether account holds at least amount.
func (s *Store) CanWithdraw(account common.Address, amount uint64) bool {
	return s.balances[account] >= amount
}

// Withdraw debits account or fails without moving funds.
func (s *Store) Withdraw(account common.Address, amount uint64) error {
	bal := s.balances[account]
	if bal < amount {
		return ErrInsufficientFunds
	}
	if bal == amount {
		delete(s.balances, account)
	} else {
		s.balances[account] = bal - amount
	}
	return nil
}

// Transfer moves free balance between accounts.
func (s *Store) Transfer(from, to common.Address, amount uint64) error {
	if err := s.Withdraw(from, amount); err != nil {
		return err
	}
	s.Deposit(to, amount)
	return nil
}

// IncreaseStake adds amount to staker's position on module without touching
// free balance. Emission credits use it to mint new stake.
func (s *Store) IncreaseStake(staker, module common.Address, amount uint64) {
	if amount == 0 {
		return
	}
	to := s.stakeTo[staker]
	if to == nil {
		to = make(map[common.Address]uint64)
		s.stakeTo[staker] = to
	}
	from := s.stakeFrom[module]
	if from == nil {
		from = make(map[common.Address]uint64)
		s.stakeFrom[module] = from
	}
	to[module] = satAdd(to[module], amount)
	from[staker] = satAdd(from[staker], amount)
	s.totalStake = satAdd(s.totalStake, amount)
}

// DecreaseStake removes amount from staker's position on module.
func (s *Store) DecreaseStake(staker, module common.Address, amount uint64) error {
	cur := s.stakeTo[staker][module]
	if cur < amount {
		return ErrNotEnoughStakeToWithdraw
	}
	if cur == amount {
		delete(s.stakeTo[staker], module)
		delete(s.stakeFrom[module], staker)
		if len(s.stakeTo[staker]) == 0 {
			delete(s.stakeTo, staker)
		}
		if len(s.stakeFrom[module]) == 0 {
			delete(s.stakeFrom, module)
		}
	} else {
		s.stakeTo[staker][module] = cur - amount
		s.stakeFrom[module][staker] = cur - amount
	}
	s.totalStake -= amount
	return nil
}

// AddStake moves free balance of staker into stake on module.
func (s *Store) AddStake(staker, module common.Address, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	if err := s.Withdraw(staker, amount); err != nil {
		return err
	}
	s.IncreaseStake(staker, module, amount)
	return nil
}

// RemoveStake moves stake of staker on module back into free balance.
func (s *Store) RemoveStake(staker, module common.Address, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	if err := s.DecreaseStake(staker, module, amount); err != nil {
		return err
	}
	s.Deposit(staker, amount)
	return nil
}

// TransferStake moves stake of staker from one module to another.
func (s *Store) TransferStake(staker, from, to common.Address, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	if err := s.DecreaseStake(staker, from, amount); err != nil {
		return err
	}
	s.IncreaseStake(staker, to, amount)
	return nil
}

// StakeTo returns staker's stake on module.
func (s *Store) StakeTo(staker, module common.Address) uint64 {
	return s.stakeTo[staker][module]
}

// DelegatedStake returns the total stake placed on module, its own included.
func (s *Store) DelegatedStake(module common.Address) uint64 {
	var sum uint64
	for _, v := range s.stakeFrom[module] {
		sum = satAdd(sum, v)
	}
	return sum
}

// OwnedStake returns the total stake staker has placed on any module.
func (s *Store) OwnedStake(staker common.Address) uint64 {
	var sum uint64
	for _, v := range s.stakeTo[staker] {
		sum = satAdd(sum, v)
	}
	return sum
}

// StakersOf returns the stakers of module in address order.
func (s *Store) StakersOf(module common.Address) []common.Address {
	return sortedKeys(s.stakeFrom[module])
}

// StakedModules returns the modules staker stakes on in address order.
func (s *Store) StakedModules(staker common.Address) []common.Address {
	return sortedKeys(s.stakeTo[staker])
}

// TotalStake returns the stake held across all modules.
func (s *Store) TotalStake() uint64 {
	return s.totalStake
}

// TotalIssuance returns free balances plus stake.
func (s *Store) TotalIssuance() uint64 {
	total := s.totalStake
	for _, v := range s.balances {
		total = satAdd(total, v)
	}
	return total
}

// OwnershipRatios returns each staker's share of module's delegated stake,
// in address order.
func (s *Store) OwnershipRatios(module common.Address) []Ownership {
	total := s.DelegatedStake(module)
	stakers := s.StakersOf(module)
	res := make([]Ownership, 0, len(stakers))
	for _, staker := range stakers {
		res = append(res, Ownership{
			Staker: staker,
			Ratio:  fixed.FromRatio(s.stakeFrom[module][staker], total),
		})
	}
	return res
}

// RefundAll returns every stake placed on module to its stakers' free balance.
func (s *Store) RefundAll(module common.Address) {
	for _, staker := range s.StakersOf(module) {
		amount := s.stakeFrom[module][staker]
		_ = s.DecreaseStake(staker, module, amount)
		s.Deposit(staker, amount)
	}
	delete(s.delegationFee, module)
	delete(s.weightFee, module)
}

// DelegationFee returns the percentage of stakers' emission module keeps.
func (s *Store) DelegationFee(module common.Address) uint8 {
	if fee, ok := s.delegationFee[module]; ok {
		return fee
	}
	return DefaultDelegationFee
}

// SetDelegationFee configures module's fee percentage.
func (s *Store) SetDelegationFee(module common.Address, fee uint8) error {
	if fee < MinDelegationFee || fee > 100 {
		return ErrInvalidDelegationFee
	}
	s.delegationFee[module] = fee
	return nil
}

// ValidatorWeightFee returns the percentage module takes from the dividends
// of modules that delegated weight control to it.
func (s *Store) ValidatorWeightFee(module common.Address) uint8 {
	if fee, ok := s.weightFee[module]; ok {
		return fee
	}
	return DefaultValidatorWeightFee
}

// SetValidatorWeightFee configures module's weight fee percentage.
func (s *Store) SetValidatorWeightFee(module common.Address, fee uint8) error {
	if fee < MinValidatorWeightFee || fee > 100 {
		return ErrInvalidDelegationFee
	}
	s.weightFee[module] = fee
	return nil
}

// Copy returns a deep copy of the ledger.
func (s *Store) Copy() *Store {
	cp := New()
	for k, v := range s.balances {
		cp.balances[k] = v
	}
	for k, m := range s.stakeTo {
		cp.stakeTo[k] = copyMap(m)
	}
	for k, m := range s.stakeFrom {
		cp.stakeFrom[k] = copyMap(m)
	}
	for k, v := range s.delegationFee {
		cp.delegationFee[k] = v
	}
	for k, v := range s.weightFee {
		cp.weightFee[k] = v
	}
	cp.totalStake = s.totalStake
	return cp
}

func copyMap(m map[common.Address]uint64) map[common.Address]uint64 {
	cp := make(map[common.Address]uint64, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func sortedKeys(m map[common.Address]uint64) []common.Address {
	keys := make([]common.Address, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
	return keys
}
