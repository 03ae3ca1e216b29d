package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/turf-engine/ledger"
)

func TestSum_ReplaysDeltas(t *testing.T) {
	entries := []ledger.Entry{
		{ID: "e1", Account: "acct-1", Delta: 10, Kind: ledger.KindEarn},
		{ID: "e2", Account: "acct-1", Delta: -500, Kind: ledger.KindRedeem},
		{ID: "e3", Account: "acct-1", Delta: 500, Kind: ledger.KindReversal},
		{ID: "e4", Account: "acct-1", Delta: -5, Kind: ledger.KindReversal, Shortfall: 2},
	}

	assert.Equal(t, int64(5), ledger.Sum(entries))
	assert.Equal(t, int64(0), ledger.Sum(nil))
}
