package token

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn-labs/ledgerhost/internal/wasmerr"
	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

func TestMint_RejectsNonMintPrefix(t *testing.T) {
	_, err := Mint(context.Background(), nil, types.ProgramID{}, "starstream_burn_star_nft", nil, DefaultConfig())
	var werr *wasmerr.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wasmerr.BadModule, werr.Kind)
}

func TestBurn_RejectsMismatchedSuffix(t *testing.T) {
	tok := types.Token{BurnFuncName: "starstream_burn_star_nft"}
	_, err := Burn(context.Background(), nil, tok, "starstream_burn_other_thing", nil, DefaultConfig())
	var werr *wasmerr.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wasmerr.BurnFnMismatch, werr.Kind)
}

func TestDefaultConfig_OffsetsDoNotOverlap(t *testing.T) {
	cfg := DefaultConfig()
	assert.Greater(t, cfg.ReturnOffset, cfg.ArgsOffset)
}
