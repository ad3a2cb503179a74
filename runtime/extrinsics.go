package runtime

import (
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rony4d/go-subspace/copyguard"
	"github.com/rony4d/go-subspace/governance"
	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/registry"
	"github.com/rony4d/go-subspace/subspace"
)

// ErrEmptySubmission rejects an unsigned transaction carrying no payload.
var ErrEmptySubmission = inter.NewError(inter.KindValidation, "submission carries no payload")

// Register registers req.Key on the subnet named req.SubnetName.
func (r *Runtime) Register(req registry.RegisterRequest) (netuid inter.NetUID, uid inter.UID, err error) {
	err = r.call("register", func(block idx.Block) error {
		netuid, uid, err = r.reg.Register(block, req)
		return err
	})
	return netuid, uid, err
}

// Deregister removes key's module from netuid.
func (r *Runtime) Deregister(key common.Address, netuid inter.NetUID) error {
	return r.call("deregister", func(block idx.Block) error {
		return r.reg.Deregister(block, netuid, key)
	})
}

// Transfer moves free balance between accounts.
func (r *Runtime) Transfer(from, to common.Address, amount uint64) error {
	return r.call("transfer", func(idx.Block) error {
		return r.ledger.Transfer(from, to, amount)
	})
}

// AddStake stakes amount of staker's free balance on a module of netuid.
func (r *Runtime) AddStake(staker common.Address, netuid inter.NetUID, module common.Address, amount uint64) error {
	return r.call("add_stake", func(idx.Block) error {
		if !r.reg.IsRegistered(netuid, module) {
			return registry.ErrModuleNotFound
		}
		return r.ledger.AddStake(staker, module, amount)
	})
}

// RemoveStake returns amount of staker's stake on a module of netuid to its
// free balance.
func (r *Runtime) RemoveStake(staker common.Address, netuid inter.NetUID, module common.Address, amount uint64) error {
	return r.call("remove_stake", func(idx.Block) error {
		if !r.reg.IsRegistered(netuid, module) {
			return registry.ErrModuleNotFound
		}
		return r.ledger.RemoveStake(staker, module, amount)
	})
}

// TransferStake moves stake between two modules of netuid.
func (r *Runtime) TransferStake(staker common.Address, netuid inter.NetUID, from, to common.Address, amount uint64) error {
	return r.call("transfer_stake", func(idx.Block) error {
		if !r.reg.IsRegistered(netuid, from) || !r.reg.IsRegistered(netuid, to) {
			return registry.ErrModuleNotFound
		}
		return r.ledger.TransferStake(staker, from, to, amount)
	})
}

// SetDelegationFee sets the share module keeps from its stakers' dividends.
func (r *Runtime) SetDelegationFee(module common.Address, fee uint8) error {
	return r.call("set_delegation_fee", func(idx.Block) error {
		return r.ledger.SetDelegationFee(module, fee)
	})
}

// SetWeights stores a plaintext weight vector.
func (r *Runtime) SetWeights(key common.Address, netuid inter.NetUID, uids []inter.UID, values []uint16) error {
	return r.call("set_weights", func(block idx.Block) error {
		return r.weights.SetWeights(block, netuid, key, uids, values)
	})
}

// SetWeightsEncrypted stores an encrypted weight vector and its commitment.
func (r *Runtime) SetWeightsEncrypted(key common.Address, netuid inter.NetUID, ciphertext, hash []byte) error {
	return r.call("set_weights_encrypted", func(block idx.Block) error {
		return r.weights.SetWeightsEncrypted(block, netuid, key, ciphertext, hash)
	})
}

// DelegateWeightControl lets delegate set weights on key's behalf.
func (r *Runtime) DelegateWeightControl(key common.Address, netuid inter.NetUID, delegate common.Address) error {
	return r.call("delegate_weight_control", func(block idx.Block) error {
		return r.weights.DelegateWeightControl(block, netuid, key, delegate)
	})
}

// RemoveWeightControl takes weight control back.
func (r *Runtime) RemoveWeightControl(key common.Address, netuid inter.NetUID) error {
	return r.call("remove_weight_control", func(block idx.Block) error {
		return r.weights.RemoveWeightControl(block, netuid, key)
	})
}

// UpdateSubnet replaces the parameters of netuid.
func (r *Runtime) UpdateSubnet(origin inter.Origin, netuid inter.NetUID, params subspace.SubnetParams) error {
	return r.call("update_subnet", func(block idx.Block) error {
		return r.reg.UpdateSubnet(block, origin, netuid, params)
	})
}

// SetAuthorities replaces the decryption authority set.
func (r *Runtime) SetAuthorities(origin inter.Origin, set []copyguard.Authority) error {
	return r.call("set_authorities", func(block idx.Block) error {
		return r.guard.SetAuthorities(block, origin, set)
	})
}

// AddGlobalCustomProposal opens a network-wide text proposal.
func (r *Runtime) AddGlobalCustomProposal(proposer common.Address, data string) (id uint64, err error) {
	err = r.call("add_global_custom_proposal", func(block idx.Block) error {
		id, err = r.gov.AddGlobalCustomProposal(block, proposer, data)
		return err
	})
	return id, err
}

// AddSubnetCustomProposal opens a text proposal on netuid.
func (r *Runtime) AddSubnetCustomProposal(proposer common.Address, netuid inter.NetUID, data string) (id uint64, err error) {
	err = r.call("add_subnet_custom_proposal", func(block idx.Block) error {
		id, err = r.gov.AddSubnetCustomProposal(block, proposer, netuid, data)
		return err
	})
	return id, err
}

// AddGlobalParamsProposal proposes new global parameters.
func (r *Runtime) AddGlobalParamsProposal(proposer common.Address, data string, params subspace.GlobalParams) (id uint64, err error) {
	err = r.call("add_global_params_proposal", func(block idx.Block) error {
		id, err = r.gov.AddGlobalParamsProposal(block, proposer, data, params)
		return err
	})
	return id, err
}

// AddSubnetParamsProposal proposes new parameters for netuid.
func (r *Runtime) AddSubnetParamsProposal(proposer common.Address, netuid inter.NetUID, data string, params subspace.SubnetParams) (id uint64, err error) {
	err = r.call("add_subnet_params_proposal", func(block idx.Block) error {
		id, err = r.gov.AddSubnetParamsProposal(block, proposer, netuid, data, params)
		return err
	})
	return id, err
}

// AddTransferDaoTreasuryProposal proposes a treasury transfer.
func (r *Runtime) AddTransferDaoTreasuryProposal(proposer common.Address, data string, amount uint64, recipient common.Address) (id uint64, err error) {
	err = r.call("add_transfer_dao_treasury_proposal", func(block idx.Block) error {
		id, err = r.gov.AddTransferDaoTreasuryProposal(block, proposer, data, amount, recipient)
		return err
	})
	return id, err
}

// VoteProposal votes on an open proposal.
func (r *Runtime) VoteProposal(voter common.Address, id uint64, agree bool) error {
	return r.call("vote_proposal", func(block idx.Block) error {
		return r.gov.Vote(block, voter, id, agree)
	})
}

// RemoveVoteProposal withdraws a vote.
func (r *Runtime) RemoveVoteProposal(voter common.Address, id uint64) error {
	return r.call("remove_vote_proposal", func(block idx.Block) error {
		return r.gov.RemoveVote(block, voter, id)
	})
}

// RemoveProposal withdraws an open proposal.
func (r *Runtime) RemoveProposal(proposer common.Address, id uint64) error {
	return r.call("remove_proposal", func(block idx.Block) error {
		return r.gov.RemoveProposal(block, proposer, id)
	})
}

// EnableVotePowerDelegation lends key's voting power to the modules it stakes on.
func (r *Runtime) EnableVotePowerDelegation(key common.Address) error {
	return r.call("enable_vote_power_delegation", func(block idx.Block) error {
		r.gov.EnableVotePowerDelegation(block, key)
		return nil
	})
}

// DisableVotePowerDelegation makes key vote with its own stake.
func (r *Runtime) DisableVotePowerDelegation(key common.Address) error {
	return r.call("disable_vote_power_delegation", func(block idx.Block) error {
		r.gov.DisableVotePowerDelegation(block, key)
		return nil
	})
}

// CreatePaymentSchedule schedules recurring treasury payments.
func (r *Runtime) CreatePaymentSchedule(origin inter.Origin, recipient common.Address, amount uint64, firstIn, interval idx.Block, remaining uint32) (id uint64, err error) {
	err = r.call("create_payment_schedule", func(block idx.Block) error {
		id, err = r.gov.CreatePaymentSchedule(block, origin, recipient, amount, firstIn, interval, remaining)
		return err
	})
	return id, err
}

// CancelPaymentSchedule drops a payment schedule.
func (r *Runtime) CancelPaymentSchedule(origin inter.Origin, id uint64) error {
	return r.call("cancel_payment_schedule", func(block idx.Block) error {
		return r.gov.CancelPaymentSchedule(block, origin, id)
	})
}

// FreeBalance is the transferable balance of account.
func (r *Runtime) FreeBalance(account common.Address) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ledger.FreeBalance(account)
}

// StakeTo is the stake staker placed on module.
func (r *Runtime) StakeTo(staker, module common.Address) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ledger.StakeTo(staker, module)
}

// DelegatedStake is the total stake placed on module.
func (r *Runtime) DelegatedStake(module common.Address) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ledger.DelegatedStake(module)
}

// TotalIssuance is every token held as balance or stake.
func (r *Runtime) TotalIssuance() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ledger.TotalIssuance()
}

// Issued adds the emission still pending or queued on subnets to TotalIssuance.
func (r *Runtime) Issued() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scheduler.Issued()
}

// Subnet returns a copy of netuid.
func (r *Runtime) Subnet(netuid inter.NetUID) (*registry.Subnet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.reg.Subnet(netuid)
	if !ok {
		return nil, false
	}
	return s.Copy(), true
}

// SubnetByName resolves a subnet name.
func (r *Runtime) SubnetByName(name string) (inter.NetUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.reg.SubnetByName(name)
	if !ok {
		return 0, false
	}
	return s.NetUID, true
}

// NetUIDs lists every subnet.
func (r *Runtime) NetUIDs() []inter.NetUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reg.NetUIDs()
}

// Module returns a copy of a module.
func (r *Runtime) Module(netuid inter.NetUID, uid inter.UID) (*registry.Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, err := r.reg.Module(netuid, uid)
	if err != nil {
		return nil, err
	}
	return m.Copy(), nil
}

// Proposal returns a copy of a proposal.
func (r *Runtime) Proposal(id uint64) (*governance.Proposal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gov.Proposal(id)
}

// PaymentSchedule returns a copy of a payment schedule.
func (r *Runtime) PaymentSchedule(id uint64) (governance.ScheduledPayment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gov.PaymentSchedule(id)
}

// Treasury is the DAO treasury account.
func (r *Runtime) Treasury() common.Address {
	return r.gov.Treasury()
}

// Assignment returns the authority responsible for netuid.
func (r *Runtime) Assignment(netuid inter.NetUID) (copyguard.Assignment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.guard.Assignment(netuid)
}

// SubnetEncryptionKey returns the key validators of netuid encrypt to.
func (r *Runtime) SubnetEncryptionKey(netuid inter.NetUID) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.guard.SubnetEncryptionKey(netuid)
}
