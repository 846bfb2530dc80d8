package scan

import "sort"

// Diff computes the change set between a previous and a current snapshot.
// Accounts are joined on (server name, normalized username). The result
// partitions the union of both snapshots: every joined key lands in exactly
// one of New, Removed, Modified or Unchanged. Diff is pure and deterministic;
// calling it twice on the same snapshots yields the same change set.
func Diff(previous, current *Snapshot) *ChangeSet {
	changes := &ChangeSet{
		ScanTime: current.ScanTime,
		Summary:  current.Summary,
	}

	prevLookup := buildLookup(previous)
	currLookup := buildLookup(current)

	for _, key := range sortedKeys(currLookup) {
		curr := currLookup[key]
		prev, existed := prevLookup[key]
		switch {
		case !existed:
			changes.New = append(changes.New, curr)
		case !attributesEqual(prev.Attributes, curr.Attributes):
			changes.Modified = append(changes.Modified, ModifiedAccount{Before: prev, After: curr})
		default:
			changes.Unchanged = append(changes.Unchanged, curr)
		}
	}

	for _, key := range sortedKeys(prevLookup) {
		if _, exists := currLookup[key]; !exists {
			changes.Removed = append(changes.Removed, prevLookup[key])
		}
	}

	return changes
}

func buildLookup(snap *Snapshot) map[string]AccountRecord {
	lookup := make(map[string]AccountRecord)
	if snap == nil {
		return lookup
	}
	for _, account := range snap.AllAccounts {
		lookup[account.Key()] = account
	}
	return lookup
}

// sortedKeys fixes the iteration order so repeated diffs emit identically
// ordered change sets.
func sortedKeys(lookup map[string]AccountRecord) []string {
	keys := make([]string, 0, len(lookup))
	for key := range lookup {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func attributesEqual(prev, curr map[string][]string) bool {
	if len(prev) != len(curr) {
		return false
	}
	for name, prevValues := range prev {
		currValues, exists := curr[name]
		if !exists || len(prevValues) != len(currValues) {
			return false
		}
		for i := range prevValues {
			if prevValues[i] != currValues[i] {
				return false
			}
		}
	}
	return true
}
