package inter

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestConsensusType(t *testing.T) {
	tests := []struct {
		typ       ConsensusType
		removable bool
		mineable  bool
	}{
		{ConsensusRoot, false, false},
		{ConsensusTreasury, false, false},
		{ConsensusLinear, false, true},
		{ConsensusYuma, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			require.Equal(t, tt.removable, tt.typ.CanRemove())
			require.Equal(t, tt.mineable, tt.typ.Mineable())
		})
	}
}

func TestKindOf(t *testing.T) {
	errNope := NewError(KindAuthorization, "nope")
	wrapped := fmt.Errorf("calling: %w", errNope)

	require.Equal(t, KindAuthorization, KindOf(errNope))
	require.Equal(t, KindAuthorization, KindOf(wrapped))
	require.ErrorIs(t, wrapped, errNope)
	require.Equal(t, KindUnknown, KindOf(fmt.Errorf("plain")))
	require.Equal(t, KindUnknown, KindOf(nil))
}

func TestAddressCodec(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000ff")

	s := AddressToString(addr)
	got, err := AddressFromString(s)
	require.NoError(t, err)
	require.Equal(t, addr, got)

	got, err = AddressFromString(addr.Hex())
	require.NoError(t, err)
	require.Equal(t, addr, got)

	_, err = AddressFromString("0OIl")
	require.ErrorIs(t, err, ErrInvalidAddress)
	_, err = AddressFromString("2g")
	require.ErrorIs(t, err, ErrInvalidAddress, "wrong length")
}

func TestEventLog(t *testing.T) {
	log := NewEventLog()
	log.Emit("A", 1, "netuid", NetUID(3))
	mark := log.Len()
	log.Emit("B", 2)
	log.Emit("A", 2)

	require.Len(t, log.Named("A"), 2)
	require.Equal(t, NetUID(3), log.All()[0].Get("netuid"))
	require.Nil(t, log.All()[0].Get("missing"))

	log.Truncate(mark)
	require.Equal(t, 1, log.Len())
	require.Empty(t, log.Named("B"))
}
