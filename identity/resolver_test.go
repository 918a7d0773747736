package identity

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type fakeDirectory struct {
	records []UserRecord
	err     error
	lastIDs []uint64
}

func (f *fakeDirectory) BulkUsers(ctx context.Context, userIDs []uint64) ([]UserRecord, error) {
	f.lastIDs = userIDs
	return f.records, f.err
}

type fakeStakeReader struct {
	balances map[string]*big.Int
	errors   map[string]error
}

func (f *fakeStakeReader) StakedBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	key := account.Hex()
	if err, ok := f.errors[key]; ok {
		return nil, err
	}
	if balance, ok := f.balances[key]; ok {
		return balance, nil
	}
	return new(big.Int), nil
}

const (
	addrA = "0xaaa0000000000000000000000000000000000001"
	addrB = "0xbbb0000000000000000000000000000000000002"
	addrC = "0xccc0000000000000000000000000000000000003"
)

func TestResolveAddressesDedupesAndLowercases(t *testing.T) {
	directory := &fakeDirectory{records: []UserRecord{
		{
			UserID:         7,
			CustodyAddress: "0xAAA0000000000000000000000000000000000001",
			VerifiedAddresses: []string{
				addrA, // duplicate of custody, different case
				"0xBBB0000000000000000000000000000000000002",
			},
		},
	}}
	resolver := NewResolver(directory, nil, nil)

	resolved, err := resolver.ResolveAddresses(context.Background(), []uint64{7, 8})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := []string{addrA, addrB}; !reflect.DeepEqual(resolved[7], want) {
		t.Fatalf("expected %v got %v", want, resolved[7])
	}
	// User 8 is unknown to the directory: empty candidates, not an error.
	if len(resolved[8]) != 0 {
		t.Fatalf("expected empty candidate list for missing user, got %v", resolved[8])
	}
	if len(directory.lastIDs) != 2 {
		t.Fatalf("expected a single bulk call with both ids, got %v", directory.lastIDs)
	}
}

func TestReorderByStakeHighestLast(t *testing.T) {
	stake := &fakeStakeReader{balances: map[string]*big.Int{
		common.HexToAddress(addrA).Hex(): big.NewInt(500),
		common.HexToAddress(addrB).Hex(): big.NewInt(10),
		common.HexToAddress(addrC).Hex(): big.NewInt(100),
	}}
	resolver := NewResolver(&fakeDirectory{}, stake, nil)

	reordered := resolver.ReorderByStake(context.Background(), map[uint64][]string{
		1: {addrA, addrB, addrC},
	})
	if want := []string{addrB, addrC, addrA}; !reflect.DeepEqual(reordered[1], want) {
		t.Fatalf("expected ascending stake order %v, got %v", want, reordered[1])
	}
}

func TestReorderByStakeSingleCandidateUntouched(t *testing.T) {
	stake := &fakeStakeReader{}
	resolver := NewResolver(&fakeDirectory{}, stake, nil)

	reordered := resolver.ReorderByStake(context.Background(), map[uint64][]string{
		1: {addrA},
		2: {},
	})
	if want := []string{addrA}; !reflect.DeepEqual(reordered[1], want) {
		t.Fatalf("single-address list must not be reordered, got %v", reordered[1])
	}
	if len(reordered[2]) != 0 {
		t.Fatalf("empty list must stay empty")
	}
}

func TestReorderByStakeReadFailureCountsAsZero(t *testing.T) {
	stake := &fakeStakeReader{
		balances: map[string]*big.Int{
			common.HexToAddress(addrB).Hex(): big.NewInt(1),
		},
		errors: map[string]error{
			common.HexToAddress(addrA).Hex(): errors.New("rpc timeout"),
		},
	}
	resolver := NewResolver(&fakeDirectory{}, stake, nil)

	reordered := resolver.ReorderByStake(context.Background(), map[uint64][]string{
		1: {addrB, addrA},
	})
	// addrA's read failed, so it sorts as zero ahead of addrB.
	if want := []string{addrA, addrB}; !reflect.DeepEqual(reordered[1], want) {
		t.Fatalf("expected %v got %v", want, reordered[1])
	}
}

func TestReorderByStakeWithoutReaderReturnsInputUnchanged(t *testing.T) {
	resolver := NewResolver(&fakeDirectory{}, nil, nil)
	input := map[uint64][]string{1: {addrA, addrB}}

	reordered := resolver.ReorderByStake(context.Background(), input)
	if want := []string{addrA, addrB}; !reflect.DeepEqual(reordered[1], want) {
		t.Fatalf("expected input unchanged, got %v", reordered[1])
	}
}

func TestReorderByStakeNeverDropsCandidates(t *testing.T) {
	stake := &fakeStakeReader{}
	resolver := NewResolver(&fakeDirectory{}, stake, nil)
	input := map[uint64][]string{1: {addrA, addrB, addrC}}

	reordered := resolver.ReorderByStake(context.Background(), input)
	if len(reordered[1]) != 3 {
		t.Fatalf("reorder must preserve candidate count, got %d", len(reordered[1]))
	}
}

func TestSelectWalletAddress(t *testing.T) {
	known := KnownContractSet(addrC)

	if got := SelectWalletAddress([]string{addrA, addrB}, known); got != addrB {
		t.Fatalf("expected last candidate %s, got %s", addrB, got)
	}
	if got := SelectWalletAddress([]string{addrA, addrC}, known); got != addrA {
		t.Fatalf("expected contract filtered out, got %s", got)
	}
	if got := SelectWalletAddress([]string{addrC}, known); got != "" {
		t.Fatalf("expected empty result for contract-only list, got %s", got)
	}
	if got := SelectWalletAddress(nil, known); got != "" {
		t.Fatalf("expected empty result for empty list, got %s", got)
	}
}

func TestSelectAfterReorderPrefersHighestStake(t *testing.T) {
	stake := &fakeStakeReader{balances: map[string]*big.Int{
		common.HexToAddress(addrA).Hex(): big.NewInt(1000),
		common.HexToAddress(addrB).Hex(): big.NewInt(1),
	}}
	resolver := NewResolver(&fakeDirectory{}, stake, nil)

	reordered := resolver.ReorderByStake(context.Background(), map[uint64][]string{
		1: {addrA, addrB},
	})
	if got := SelectWalletAddress(reordered[1], nil); got != addrA {
		t.Fatalf("expected highest-stake address %s, got %s", addrA, got)
	}
}
