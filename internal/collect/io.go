package collect

import "github.com/blockcrawl/crawler/internal/state"

// Load reads an existing collect.json from path.
func Load(path string) (Result, error) {
	var r Result
	_, err := state.LoadJSON(path, &r)
	return r, err
}

// Save writes r to path atomically (spec.md §4.C: "saved atomically").
func Save(path string, r Result) error {
	return state.SaveAtomic(path, r)
}
