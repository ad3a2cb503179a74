package inter

import "errors"

// Kind classifies runtime errors by how callers should react to them.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindValidation is malformed or out-of-range input, rejected before any mutation.
	KindValidation
	// KindAuthorization is a wrong signer, a non-founder or a non-authority.
	KindAuthorization
	// KindResourceExhaustion is a rate limit or a slot cap without an evictable candidate.
	KindResourceExhaustion
	// KindEconomicPrecondition is insufficient stake, balance or treasury funds.
	KindEconomicPrecondition
	// KindConsistency is a failed internal consistency check. It aborts one epoch step or tick.
	KindConsistency
	// KindCryptographic is a signature or hash mismatch.
	KindCryptographic
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindResourceExhaustion:
		return "resource exhaustion"
	case KindEconomicPrecondition:
		return "economic precondition"
	case KindConsistency:
		return "consistency"
	case KindCryptographic:
		return "cryptographic"
	}
	return "unknown"
}

// Error is a sentinel error tagged with its kind. Sentinels are compared by
// identity, so errors.Is works through wrapping.
type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string {
	return e.msg
}

// NewError creates a kind-tagged sentinel error.
func NewError(kind Kind, msg string) error {
	return &Error{Kind: kind, msg: msg}
}

// KindOf returns the kind of the first tagged error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
