package inter

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

// ErrInvalidAddress is returned when an address string cannot be decoded.
var ErrInvalidAddress = NewError(KindValidation, "invalid account address")

// AddressToString renders an account in its base58 text form.
func AddressToString(addr common.Address) string {
	return base58.Encode(addr.Bytes())
}

// AddressFromString resolves a text address to an account. Both the base58
// form and the 0x-prefixed hex form are accepted.
func AddressFromString(s string) (common.Address, error) {
	if common.IsHexAddress(s) {
		return common.HexToAddress(s), nil
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != common.AddressLength {
		return common.Address{}, ErrInvalidAddress
	}
	return common.BytesToAddress(raw), nil
}
