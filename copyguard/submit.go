package copyguard

import (
	"bytes"
	"sort"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"

	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/inter/authoritypk"
	"github.com/rony4d/go-subspace/registry"
	"github.com/rony4d/go-subspace/snapshot"
)

// SendPing records an authority keep-alive.
func (g *Guard) SendPing(block idx.Block, payload PingPayload, sig []byte) error {
	a, err := g.checkSubmission(block, payload.BlockNumber, payload.PublicKey, payload.Digest(), sig)
	if err != nil {
		return err
	}
	if block >= a.LastKeepAlive && block-a.LastKeepAlive < g.rules.PingInterval {
		return ErrPingTooFrequent
	}
	a.LastKeepAlive = block
	g.events.Emit(EventAuthorityPinged, block, "authority", a.Address())
	return nil
}

// checkSubmission validates the envelope shared by every authority
// submission: the payload block is not in the future, the signature matches
// the claimed key, and the key belongs to the authority set.
func (g *Guard) checkSubmission(block, payloadBlock idx.Block, pk authoritypk.PubKey, digest, sig []byte) (*Authority, error) {
	if payloadBlock > block {
		return nil, ErrFutureBlock
	}
	if !pk.Verify(digest, sig) {
		return nil, ErrInvalidSignature
	}
	a, ok := g.authority(pk.Address())
	if !ok || !a.SigningKey.Equal(pk) {
		return nil, ErrNotAuthority
	}
	return a, nil
}

// SendDecryptedWeights applies an authority's decrypted weights. Entries that
// fail the commitment, identity or weight checks are dropped individually.
// Every decrypted epoch is replayed through the runner; the newest block's
// weights become the live weights and older blocks go to the side cache.
// All pending snapshots of the subnet are consumed, so the same submission
// cannot be applied twice.
func (g *Guard) SendDecryptedWeights(block idx.Block, payload DecryptedWeightsPayload, sig []byte) error {
	a, err := g.checkSubmission(block, payload.BlockNumber, payload.PublicKey, payload.Digest(), sig)
	if err != nil {
		return err
	}
	netuid := payload.NetUID
	if as, ok := g.assignments[netuid]; !ok || as.Authority != a.Address() {
		return ErrNotAssigned
	}
	pending := g.params[netuid]
	if len(pending) == 0 {
		return ErrNoPendingParams
	}

	batches := append([]BlockWeights(nil), payload.Weights...)
	sort.SliceStable(batches, func(i, j int) bool { return batches[i].Block < batches[j].Block })

	var (
		accepted [][]DecryptedEntry
		blocks   []idx.Block
		dropped  int
	)
	for _, batch := range batches {
		p, ok := pending[batch.Block]
		if !ok {
			dropped += len(batch.Entries)
			continue
		}
		valid := make([]DecryptedEntry, 0, len(batch.Entries))
		for _, e := range batch.Entries {
			if err := g.checkEntry(netuid, p, e); err != nil {
				logger.Debug("Dropping decrypted weights", "netuid", netuid, "block", batch.Block, "uid", e.UID, "err", err)
				dropped++
				continue
			}
			valid = append(valid, e)
		}
		if g.runner != nil {
			if err := g.runner.RunDecrypted(batch.Block, p.WithWeights(entryWeights(valid))); err != nil {
				logger.Warn("Failed to replay decrypted epoch", "netuid", netuid, "block", batch.Block, "err", err)
			}
		}
		delete(pending, batch.Block)
		accepted = append(accepted, valid)
		blocks = append(blocks, batch.Block)
	}

	if len(accepted) > 0 {
		latest := len(accepted) - 1
		for _, e := range accepted[latest] {
			if err := g.weights.StoreDecrypted(netuid, e.UID, e.Weights); err != nil {
				return err
			}
		}
		cache, ok := g.decrypted[netuid]
		if !ok {
			cache = make(map[idx.Block][]DecryptedEntry)
			g.decrypted[netuid] = cache
		}
		for i := 0; i < latest; i++ {
			cache[blocks[i]] = accepted[i]
		}
	}

	// snapshots the authority skipped still pay out with the live weights
	g.flushParams(netuid)

	g.irrationality[netuid] = g.irrationality[netuid].Add(payload.Delta.Fixed())
	g.assignments[netuid] = Assignment{Authority: a.Address(), BlockAssigned: block}
	g.events.Emit(EventDecryptedWeightsApplied, block, "netuid", netuid, "epochs", len(accepted), "dropped", dropped)
	return nil
}

// checkEntry validates one decrypted vector against the snapshot it claims
// to come from and against the live registry.
func (g *Guard) checkEntry(netuid inter.NetUID, p *snapshot.Params, e DecryptedEntry) error {
	if int(e.UID) >= p.N() {
		return registry.ErrModuleNotFound
	}
	m := p.Modules[e.UID]
	if m.Key != e.Key {
		return ErrKeyMismatch
	}
	if !bytes.Equal(WeightHash(EncodeWeights(e.Weights, e.Key)), m.WeightHash) {
		return ErrHashMismatch
	}
	live, err := g.reg.Module(netuid, e.UID)
	if err != nil {
		return err
	}
	if live.Key != e.Key {
		return ErrKeyMismatch
	}
	return g.weights.Validate(netuid, e.UID, e.Weights)
}

func entryWeights(entries []DecryptedEntry) map[inter.UID][]registry.Weight {
	res := make(map[inter.UID][]registry.Weight, len(entries))
	for _, e := range entries {
		res[e.UID] = e.Weights
	}
	return res
}
