package changesets

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/prism-data/prism/internal/registry"
)

// commutesWithFilter checks the filter-commutativity invariant: applying
// the patch to the unfiltered data and then filtering must equal filtering
// first and then applying the patch. Divergence means the patch reaches
// into territory the viewer filter redacts, so a committer could otherwise
// smuggle a change past the redaction rule.
func commutesWithFilter(st *registry.SourceType, viewer string, current map[string]any, patch jsonpatch.Patch) (bool, error) {
	patchedThenFiltered, err := applyPatch(patch, current)
	if err != nil {
		return false, err
	}
	patchedThenFiltered = st.ApplyFilter(viewer, patchedThenFiltered)

	filtered := st.ApplyFilter(viewer, current)
	filteredThenPatched, err := applyPatch(patch, filtered)
	if err != nil {
		// The patch applies cleanly to the real data but not to the
		// filtered view: it targets redacted paths.
		return false, nil
	}

	return jsonEqual(patchedThenFiltered, filteredThenPatched), nil
}

// applyPatch runs an RFC 6902 patch over a document map.
func applyPatch(patch jsonpatch.Patch, doc map[string]any) (map[string]any, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	patched, err := patch.Apply(encoded)
	if err != nil {
		return nil, fmt.Errorf("apply patch: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(patched, &out); err != nil {
		return nil, fmt.Errorf("patched document is not an object: %w", err)
	}
	return out, nil
}

func jsonEqual(a, b map[string]any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}

func isEmptyPatch(raw []byte) bool {
	if len(raw) == 0 {
		return true
	}
	var ops []json.RawMessage
	if err := json.Unmarshal(raw, &ops); err != nil {
		return false
	}
	return len(ops) == 0
}
