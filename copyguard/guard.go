// Package copyguard implements the on-chain half of the weight encryption
// protocol that defends subnets against weight copying.
//
// Validators on an encrypted subnet submit ciphertexts of their weights
// together with a sha256 commitment of the plaintext blob. A rotating set of
// decryption authorities holds the subnet key pair off-chain; the authority
// assigned to a subnet decrypts the pending epochs, and submits the verified
// plaintext back as a signed unsigned transaction. The Guard is the only
// component that turns such a submission into state changes.
package copyguard

import (
	"math"
	"sort"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/inter/authoritypk"
	"github.com/rony4d/go-subspace/registry"
	"github.com/rony4d/go-subspace/snapshot"
	"github.com/rony4d/go-subspace/subspace"
	"github.com/rony4d/go-subspace/utils/fixed"
	"github.com/rony4d/go-subspace/weights"
)

// Event names emitted by the guard.
const (
	EventAuthoritiesSet          = "AuthoritiesSet"
	EventAuthorityRemoved        = "AuthorityRemoved"
	EventAuthorityPinged         = "AuthorityPinged"
	EventDecryptionNodeAssigned  = "DecryptionNodeAssigned"
	EventDecryptionNodeRotated   = "DecryptionNodeRotated"
	EventDecryptedWeightsApplied = "DecryptedWeightsApplied"
)

var (
	ErrNotRoot              = inter.NewError(inter.KindAuthorization, "root origin required")
	ErrNotAuthority         = inter.NewError(inter.KindAuthorization, "key is not a decryption authority")
	ErrNotAssigned          = inter.NewError(inter.KindAuthorization, "authority is not assigned to the subnet")
	ErrDuplicateAuthority   = inter.NewError(inter.KindValidation, "duplicate authority")
	ErrFutureBlock          = inter.NewError(inter.KindValidation, "payload block is in the future")
	ErrNoPendingParams      = inter.NewError(inter.KindValidation, "no consensus params pending for the subnet")
	ErrPingTooFrequent      = inter.NewError(inter.KindResourceExhaustion, "ping interval not elapsed")
	ErrInvalidSignature     = inter.NewError(inter.KindCryptographic, "invalid payload signature")
	ErrInvalidEncryptionKey = inter.NewError(inter.KindCryptographic, "invalid encryption key")
	ErrDecryptionFailed     = inter.NewError(inter.KindCryptographic, "decryption failed")
	ErrMalformedBlob        = inter.NewError(inter.KindCryptographic, "malformed weight blob")
	ErrHashMismatch         = inter.NewError(inter.KindCryptographic, "weight commitment mismatch")
	ErrKeyMismatch          = inter.NewError(inter.KindCryptographic, "submitter key mismatch")
)

var logger = log.New("module", "copyguard")

// EpochRunner replays an epoch snapshot whose weights have been decrypted.
type EpochRunner interface {
	RunDecrypted(block idx.Block, p *snapshot.Params) error
}

// Authority is one decryption node.
type Authority struct {
	// SigningKey signs pings and decrypted weight submissions.
	SigningKey authoritypk.PubKey
	// EncryptionKey is the PKCS#1 DER public key validators encrypt to.
	EncryptionKey []byte
	// LastKeepAlive is the block of the last accepted ping, or the block
	// the authority was added at.
	LastKeepAlive idx.Block
}

// Address identifies the authority.
func (a Authority) Address() common.Address {
	return a.SigningKey.Address()
}

func (a Authority) copy() Authority {
	return Authority{
		SigningKey:    a.SigningKey.Copy(),
		EncryptionKey: common.CopyBytes(a.EncryptionKey),
		LastKeepAlive: a.LastKeepAlive,
	}
}

// Assignment binds an encrypted subnet to its current authority.
type Assignment struct {
	// Authority is the address of the node's signing key.
	Authority common.Address
	// BlockAssigned starts the rotation interval of the assignment.
	BlockAssigned idx.Block
}

// Guard is the copy-guard state machine.
type Guard struct {
	rules   subspace.EncryptionRules
	reg     *registry.Registry
	weights *weights.Store
	runner  EpochRunner
	events  inter.Events

	authorities []Authority
	cursor      int
	assignments map[inter.NetUID]Assignment

	// params holds the snapshots waiting for decryption, by subnet and block.
	params map[inter.NetUID]map[idx.Block]*snapshot.Params
	// decrypted is the side cache of superseded decrypted epochs.
	decrypted map[inter.NetUID]map[idx.Block][]DecryptedEntry
	// irrationality accumulates the reported copier deltas per subnet.
	irrationality map[inter.NetUID]fixed.Fixed
}

// New creates a guard without authorities.
func New(rules subspace.EncryptionRules, reg *registry.Registry, ws *weights.Store, events inter.Events) *Guard {
	if events == nil {
		events = inter.Discard
	}
	return &Guard{
		rules:         rules,
		reg:           reg,
		weights:       ws,
		events:        events,
		assignments:   make(map[inter.NetUID]Assignment),
		params:        make(map[inter.NetUID]map[idx.Block]*snapshot.Params),
		decrypted:     make(map[inter.NetUID]map[idx.Block][]DecryptedEntry),
		irrationality: make(map[inter.NetUID]fixed.Fixed),
	}
}

// SetRunner installs the epoch runner used to replay decrypted epochs.
func (g *Guard) SetRunner(runner EpochRunner) {
	g.runner = runner
}

// Copy returns a deep copy sharing the collaborators.
func (g *Guard) Copy() *Guard {
	cp := *g
	cp.authorities = make([]Authority, len(g.authorities))
	for i, a := range g.authorities {
		cp.authorities[i] = a.copy()
	}
	cp.assignments = make(map[inter.NetUID]Assignment, len(g.assignments))
	for k, v := range g.assignments {
		cp.assignments[k] = v
	}
	cp.params = make(map[inter.NetUID]map[idx.Block]*snapshot.Params, len(g.params))
	for id, byBlock := range g.params {
		m := make(map[idx.Block]*snapshot.Params, len(byBlock))
		for b, p := range byBlock {
			m[b] = p.Copy()
		}
		cp.params[id] = m
	}
	cp.decrypted = make(map[inter.NetUID]map[idx.Block][]DecryptedEntry, len(g.decrypted))
	for id, byBlock := range g.decrypted {
		m := make(map[idx.Block][]DecryptedEntry, len(byBlock))
		for b, entries := range byBlock {
			m[b] = copyEntries(entries)
		}
		cp.decrypted[id] = m
	}
	cp.irrationality = make(map[inter.NetUID]fixed.Fixed, len(g.irrationality))
	for k, v := range g.irrationality {
		cp.irrationality[k] = v
	}
	return &cp
}

// SetAuthorities replaces the authority set. Existing authorities keep their
// keep-alive block; new ones start at block.
func (g *Guard) SetAuthorities(block idx.Block, origin inter.Origin, set []Authority) error {
	if !origin.Root {
		return ErrNotRoot
	}
	seen := make(map[common.Address]struct{}, len(set))
	next := make([]Authority, 0, len(set))
	for _, a := range set {
		if a.SigningKey.Type != authoritypk.Types.Secp256k1 {
			return authoritypk.ErrUnsupportedPubKey
		}
		if _, err := ParseEncryptionKey(a.EncryptionKey); err != nil {
			return err
		}
		addr := a.Address()
		if _, dup := seen[addr]; dup {
			return ErrDuplicateAuthority
		}
		seen[addr] = struct{}{}
		a = a.copy()
		a.LastKeepAlive = block
		if old, ok := g.authority(addr); ok {
			a.LastKeepAlive = old.LastKeepAlive
		}
		next = append(next, a)
	}
	g.authorities = next
	for id, as := range g.assignments {
		if _, ok := seen[as.Authority]; !ok {
			delete(g.assignments, id)
		}
	}
	g.events.Emit(EventAuthoritiesSet, block, "count", len(next))
	return nil
}

// Authorities returns a copy of the authority set.
func (g *Guard) Authorities() []Authority {
	res := make([]Authority, len(g.authorities))
	for i, a := range g.authorities {
		res[i] = a.copy()
	}
	return res
}

func (g *Guard) authority(addr common.Address) (*Authority, bool) {
	for i := range g.authorities {
		if g.authorities[i].Address() == addr {
			return &g.authorities[i], true
		}
	}
	return nil, false
}

// Assignment returns the authority currently responsible for netuid.
func (g *Guard) Assignment(netuid inter.NetUID) (Assignment, bool) {
	a, ok := g.assignments[netuid]
	return a, ok
}

// AssignedSubnets lists the subnets assigned to addr.
func (g *Guard) AssignedSubnets(addr common.Address) []inter.NetUID {
	var res []inter.NetUID
	for id, a := range g.assignments {
		if a.Authority == addr {
			res = append(res, id)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// SubnetEncryptionKey returns the key validators of netuid must encrypt to.
func (g *Guard) SubnetEncryptionKey(netuid inter.NetUID) ([]byte, bool) {
	as, ok := g.assignments[netuid]
	if !ok {
		return nil, false
	}
	a, ok := g.authority(as.Authority)
	if !ok {
		return nil, false
	}
	return common.CopyBytes(a.EncryptionKey), true
}

// StoreConsensusParams parks an epoch snapshot of an encrypted subnet until
// its weights are decrypted.
func (g *Guard) StoreConsensusParams(netuid inter.NetUID, p *snapshot.Params) {
	byBlock, ok := g.params[netuid]
	if !ok {
		byBlock = make(map[idx.Block]*snapshot.Params)
		g.params[netuid] = byBlock
	}
	byBlock[p.Block] = p
}

// ParkedEmission is the epoch budget held by every parked snapshot. It is
// paid out once the snapshots are replayed.
func (g *Guard) ParkedEmission() uint64 {
	var total uint64
	for _, byBlock := range g.params {
		for _, p := range byBlock {
			if total += p.TokenEmission; total < p.TokenEmission {
				return math.MaxUint64
			}
		}
	}
	return total
}

// PendingParams returns copies of the snapshots waiting on netuid, oldest first.
func (g *Guard) PendingParams(netuid inter.NetUID) []*snapshot.Params {
	blocks := g.pendingBlocks(netuid)
	res := make([]*snapshot.Params, len(blocks))
	for i, b := range blocks {
		res[i] = g.params[netuid][b].Copy()
	}
	return res
}

func (g *Guard) pendingBlocks(netuid inter.NetUID) []idx.Block {
	blocks := make([]idx.Block, 0, len(g.params[netuid]))
	for b := range g.params[netuid] {
		blocks = append(blocks, b)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })
	return blocks
}

// DecryptedWeights returns the side cache of superseded decrypted epochs of netuid.
func (g *Guard) DecryptedWeights(netuid inter.NetUID) map[idx.Block][]DecryptedEntry {
	res := make(map[idx.Block][]DecryptedEntry, len(g.decrypted[netuid]))
	for b, entries := range g.decrypted[netuid] {
		res[b] = copyEntries(entries)
	}
	return res
}

// IrrationalityDelta is the accumulated copier delta reported for netuid.
func (g *Guard) IrrationalityDelta(netuid inter.NetUID) fixed.Fixed {
	return g.irrationality[netuid]
}

// DistributeSubnetsToNodes runs once per block. It prunes authorities that
// stopped pinging, forgets subnets that no longer exist or stopped
// encrypting, and gives every encrypted subnet an authority: round robin for
// unassigned subnets, forced rotation when the holder has not delivered for
// RotationInterval blocks. Snapshots encrypted for a replaced authority are
// replayed with the live weights.
func (g *Guard) DistributeSubnetsToNodes(block idx.Block) {
	g.pruneDeadNodes(block)

	for _, id := range g.trackedSubnets() {
		s, ok := g.reg.Subnet(id)
		if ok && s.Params.UseWeightsEncryption {
			continue
		}
		g.flushParams(id)
		delete(g.assignments, id)
		if !ok {
			delete(g.decrypted, id)
			delete(g.irrationality, id)
		}
	}

	if len(g.authorities) == 0 {
		return
	}
	for _, id := range g.reg.NetUIDs() {
		s, _ := g.reg.Subnet(id)
		if !s.Params.UseWeightsEncryption {
			continue
		}
		as, assigned := g.assignments[id]
		if assigned {
			if _, alive := g.authority(as.Authority); !alive {
				assigned = false
			}
		}
		switch {
		case !assigned:
			g.flushParams(id)
			next := g.nextAuthority()
			g.assignments[id] = Assignment{Authority: next, BlockAssigned: block}
			g.events.Emit(EventDecryptionNodeAssigned, block, "netuid", id, "authority", next)
		case block >= as.BlockAssigned && block-as.BlockAssigned >= g.rules.RotationInterval:
			next := g.nextAuthority()
			if next != as.Authority {
				g.flushParams(id)
			}
			g.assignments[id] = Assignment{Authority: next, BlockAssigned: block}
			logger.Info("Rotating decryption authority", "netuid", id, "from", as.Authority, "to", next)
			g.events.Emit(EventDecryptionNodeRotated, block, "netuid", id, "from", as.Authority, "to", next)
		}
	}
}

func (g *Guard) pruneDeadNodes(block idx.Block) {
	alive := g.authorities[:0]
	for _, a := range g.authorities {
		if block > a.LastKeepAlive && block-a.LastKeepAlive > g.rules.DeadNodeTimeout {
			logger.Warn("Removing silent decryption authority", "authority", a.Address(), "lastKeepAlive", a.LastKeepAlive)
			g.events.Emit(EventAuthorityRemoved, block, "authority", a.Address())
			continue
		}
		alive = append(alive, a)
	}
	g.authorities = alive
}

// trackedSubnets lists every subnet the guard holds state for.
func (g *Guard) trackedSubnets() []inter.NetUID {
	set := make(map[inter.NetUID]struct{})
	for id := range g.assignments {
		set[id] = struct{}{}
	}
	for id := range g.params {
		set[id] = struct{}{}
	}
	for id := range g.decrypted {
		set[id] = struct{}{}
	}
	res := make([]inter.NetUID, 0, len(set))
	for id := range set {
		res = append(res, id)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

func (g *Guard) nextAuthority() common.Address {
	a := g.authorities[g.cursor%len(g.authorities)]
	g.cursor = (g.cursor + 1) % len(g.authorities)
	return a.Address()
}

// flushParams replays every pending snapshot of netuid with the live
// weights and drops them.
func (g *Guard) flushParams(netuid inter.NetUID) {
	blocks := g.pendingBlocks(netuid)
	defer delete(g.params, netuid)
	if len(blocks) == 0 || g.runner == nil {
		return
	}
	live := make(map[inter.UID][]registry.Weight)
	if s, ok := g.reg.Subnet(netuid); ok {
		for i, m := range s.Modules {
			live[inter.UID(i)] = m.Weights
		}
	}
	for _, b := range blocks {
		p := g.params[netuid][b]
		if err := g.runner.RunDecrypted(b, p.WithWeights(live)); err != nil {
			logger.Warn("Failed to replay epoch", "netuid", netuid, "block", b, "err", err)
		}
	}
}

func copyEntries(entries []DecryptedEntry) []DecryptedEntry {
	res := make([]DecryptedEntry, len(entries))
	for i, e := range entries {
		e.Weights = append([]registry.Weight(nil), e.Weights...)
		res[i] = e
	}
	return res
}
