package scheduler

import "github.com/weisyn-labs/ledgerhost/pkg/types"

// allocateTokenHandle mints a fresh handle for tok within utxoID's own
// token table, drawn from the same [1, 2^30] handle space as UTXO
// handles but scoped to one UTXO's attached tokens rather than shared
// across the transaction: a minted function resolves a burn by handle
// "within the UTXO's token table", a different table than the
// coordination's UTXO handle table.
func (tx *transaction) allocateTokenHandle(utxoID types.UtxoID, tok types.Token) types.Handle {
	set := tx.tokenSets[utxoID]
	if set == nil {
		set = make(map[types.Handle]types.Token)
		tx.tokenSets[utxoID] = set
	}
	bound := int(tx.cfg.HandleSpaceMax)
	if bound == 0 {
		bound = handleSpaceMax
	}
	var h types.Handle
	for {
		h = types.Handle(tx.tokenRNG.Intn(bound) + 1)
		if _, taken := set[h]; !taken {
			break
		}
	}
	set[h] = tok
	return h
}

// resolveTokenHandle looks up a token by handle within utxoID's table.
func (tx *transaction) resolveTokenHandle(utxoID types.UtxoID, h types.Handle) (types.Token, bool) {
	set := tx.tokenSets[utxoID]
	if set == nil {
		return types.Token{}, false
	}
	tok, ok := set[h]
	return tok, ok
}

// removeTokenHandle drops a burned token from utxoID's table.
func (tx *transaction) removeTokenHandle(utxoID types.UtxoID, h types.Handle) {
	if set := tx.tokenSets[utxoID]; set != nil {
		delete(set, h)
	}
}

// seedTokenHandles gives every token already attached to a freshly
// loaded UTXO a fresh in-transaction handle. Handles never persist
// across transactions, so a UTXO's durable Tokens slice is
// re-indexed by handle each time it is loaded.
func (tx *transaction) seedTokenHandles(id types.UtxoID, u *types.Utxo) {
	for _, tok := range u.Tokens {
		tx.allocateTokenHandle(id, tok)
	}
}

// flattenTokens rebuilds the durable Tokens slice for id from its
// in-transaction handle table, called just before persisting a live
// UTXO at commit.
func (tx *transaction) flattenTokens(id types.UtxoID) []types.Token {
	set := tx.tokenSets[id]
	if len(set) == 0 {
		return nil
	}
	out := make([]types.Token, 0, len(set))
	for _, tok := range set {
		out = append(out, tok)
	}
	return out
}
