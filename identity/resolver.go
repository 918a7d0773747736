package identity

import (
	"context"
	"log/slog"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Directory abstracts the identity provider's bulk lookup.
type Directory interface {
	BulkUsers(ctx context.Context, userIDs []uint64) ([]UserRecord, error)
}

// StakeReader reads a wallet's staked balance. A nil reader disables
// stake-aware reordering; resolution still works without it.
type StakeReader interface {
	StakedBalance(ctx context.Context, account common.Address) (*big.Int, error)
}

// Resolver turns user identifiers into payout-candidate wallet addresses.
type Resolver struct {
	directory Directory
	stake     StakeReader
	log       *slog.Logger
}

// NewResolver constructs a resolver. The stake reader may be nil.
func NewResolver(directory Directory, stake StakeReader, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{directory: directory, stake: stake, log: log}
}

// ResolveAddresses fetches each user's candidate wallet set: custody address
// first, then verified addresses, lower-cased and deduplicated with order
// preserved. Users absent from the directory map to an empty list.
func (r *Resolver) ResolveAddresses(ctx context.Context, userIDs []uint64) (map[uint64][]string, error) {
	out := make(map[uint64][]string, len(userIDs))
	for _, id := range userIDs {
		out[id] = nil
	}
	if len(userIDs) == 0 {
		return out, nil
	}
	records, err := r.directory.BulkUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		candidates := make([]string, 0, 1+len(record.VerifiedAddresses))
		seen := make(map[string]struct{})
		appendAddr := func(raw string) {
			addr := strings.ToLower(strings.TrimSpace(raw))
			if addr == "" {
				return
			}
			if _, dup := seen[addr]; dup {
				return
			}
			seen[addr] = struct{}{}
			candidates = append(candidates, addr)
		}
		appendAddr(record.CustodyAddress)
		for _, addr := range record.VerifiedAddresses {
			appendAddr(addr)
		}
		out[record.UserID] = candidates
	}
	return out, nil
}

// ReorderByStake sorts each user's candidates ascending by staked balance so
// the highest-stake wallet lands last, where SelectWalletAddress prefers it.
// A failed balance read counts as zero for that address only; if no stake
// reader is configured the input map is returned unchanged. Ordering is a
// best-effort enhancement, never a reason to fail resolution.
func (r *Resolver) ReorderByStake(ctx context.Context, candidates map[uint64][]string) map[uint64][]string {
	if r == nil || r.stake == nil {
		return candidates
	}
	type weighted struct {
		addr    string
		balance *big.Int
	}
	for userID, addrs := range candidates {
		if len(addrs) < 2 {
			continue
		}
		entries := make([]weighted, len(addrs))
		for i, addr := range addrs {
			entries[i] = weighted{addr: addr, balance: r.stakedBalanceOrZero(ctx, addr)}
		}
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].balance.Cmp(entries[j].balance) < 0
		})
		reordered := make([]string, len(entries))
		for i, entry := range entries {
			reordered[i] = entry.addr
		}
		candidates[userID] = reordered
	}
	return candidates
}

func (r *Resolver) stakedBalanceOrZero(ctx context.Context, addr string) *big.Int {
	if !common.IsHexAddress(addr) {
		return new(big.Int)
	}
	balance, err := r.stake.StakedBalance(ctx, common.HexToAddress(addr))
	if err != nil || balance == nil {
		if err != nil {
			r.log.Debug("stake read failed, treating as zero", "address", addr, "error", err)
		}
		return new(big.Int)
	}
	return balance
}

// SelectWalletAddress picks the payout address from an ordered candidate
// list: known contract addresses are filtered out and the last survivor wins,
// which after ReorderByStake is the highest-stake wallet. An empty return
// means the user cannot be paid.
func SelectWalletAddress(addrs []string, knownContracts map[string]struct{}) string {
	selected := ""
	for _, addr := range addrs {
		normalized := strings.ToLower(strings.TrimSpace(addr))
		if normalized == "" {
			continue
		}
		if _, isContract := knownContracts[normalized]; isContract {
			continue
		}
		selected = normalized
	}
	return selected
}

// KnownContractSet normalises a list of contract addresses into the lookup
// set SelectWalletAddress expects. Empty entries are dropped.
func KnownContractSet(addrs ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(addrs))
	for _, addr := range addrs {
		normalized := strings.ToLower(strings.TrimSpace(addr))
		if normalized == "" {
			continue
		}
		set[normalized] = struct{}{}
	}
	return set
}
