package ledger

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func testABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(arenaABI))
	if err != nil {
		t.Fatalf("parse ABI: %v", err)
	}
	return parsed
}

func TestDecodeBetPlaced(t *testing.T) {
	contractABI := testABI(t)
	matchID := uuid.New()
	bettor := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	ev := contractABI.Events["BetPlaced"]
	data, err := ev.Inputs.NonIndexed().Pack(uint8(1), big.NewInt(5000))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	lg := types.Log{
		Topics: []common.Hash{
			ev.ID,
			HashFromUUID(matchID),
			common.BytesToHash(bettor.Bytes()),
		},
		Data: data,
	}

	decoded, err := DecodeLog(contractABI, lg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	bet, ok := decoded.(BetPlacedEvent)
	if !ok {
		t.Fatalf("decoded wrong type: %T", decoded)
	}
	if bet.MatchID != matchID {
		t.Errorf("match id: got %s, want %s", bet.MatchID, matchID)
	}
	if bet.Bettor != bettor {
		t.Errorf("bettor: got %s, want %s", bet.Bettor, bettor)
	}
	if bet.Side != 1 || bet.Amount.Int64() != 5000 {
		t.Errorf("side/amount: got %d/%s", bet.Side, bet.Amount)
	}
}

func TestDecodeMatchResolved(t *testing.T) {
	contractABI := testABI(t)
	matchID := uuid.New()

	ev := contractABI.Events["MatchResolved"]
	data, err := ev.Inputs.NonIndexed().Pack(uint8(0), big.NewInt(100), big.NewInt(40))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	lg := types.Log{
		Topics: []common.Hash{ev.ID, HashFromUUID(matchID)},
		Data:   data,
	}

	decoded, err := DecodeLog(contractABI, lg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	res, ok := decoded.(MatchResolvedEvent)
	if !ok {
		t.Fatalf("decoded wrong type: %T", decoded)
	}
	if res.Winner != 0 || res.SideATotal.Int64() != 100 || res.SideBTotal.Int64() != 40 {
		t.Errorf("unexpected fields: %+v", res)
	}
}

func TestDecodeTopicOnlyEvents(t *testing.T) {
	contractABI := testABI(t)
	matchID := uuid.New()
	for _, name := range []string{"MatchLocked", "MatchCancelled", "NoWinnersRefunded"} {
		lg := types.Log{Topics: []common.Hash{contractABI.Events[name].ID, HashFromUUID(matchID)}}
		decoded, err := DecodeLog(contractABI, lg)
		if err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		if decoded == nil {
			t.Fatalf("%s: decoded to nil", name)
		}
	}
}

func TestDecodeUnknownEventIgnored(t *testing.T) {
	contractABI := testABI(t)
	lg := types.Log{Topics: []common.Hash{common.HexToHash("0xdeadbeef")}}
	decoded, err := DecodeLog(contractABI, lg)
	if err != nil {
		t.Fatalf("unknown event should not error: %v", err)
	}
	if decoded != nil {
		t.Fatalf("unknown event should decode to nil, got %T", decoded)
	}
}

func TestImpliedOdds(t *testing.T) {
	a, b := ImpliedOdds(decimal.NewFromInt(100), decimal.NewFromInt(300))
	if a.String() != "4" {
		t.Errorf("odds A: got %s, want 4", a)
	}
	if b.StringFixed(4) != "1.3333" {
		t.Errorf("odds B: got %s, want 1.3333", b.StringFixed(4))
	}

	a, b = ImpliedOdds(decimal.Zero, decimal.NewFromInt(300))
	if !a.IsZero() {
		t.Errorf("empty side must pay zero, got %s", a)
	}
	if b.String() != "1" {
		t.Errorf("sole side pays its own stake back: got %s", b)
	}
}
