package spec

import (
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/yawlcore/engine/internal/engineerr"
)

// ApplyPatch applies a JSON-patch document (RFC 6902) to a specification's
// JSON representation, producing a new *Specification without mutating the
// original. Used by Interface A's specification-patch flow: a designer
// pushes a corrected sub-net or flow predicate as a patch against the
// currently-loaded spec, and a new version is admitted only after
// Validate() on the patched result reports no fatal diagnostic.
//
// Grounded on the teacher's run-patch materialization pipeline
// (cmd/orchestrator/service/compaction.go's base+patch chain,
// cmd/workflow-runner/coordinator/patch_loader.go's reload-on-patch path):
// base document + patch document -> materialized document -> recompile.
// Library: github.com/evanphx/json-patch/v5, the teacher's exact dependency.
func ApplyPatch(base *Specification, patchDoc []byte) (*Specification, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindValidation, "marshal base specification", err)
	}
	patch, err := jsonpatch.DecodePatch(patchDoc)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindValidation, "decode patch document", err)
	}
	patched, err := patch.Apply(baseJSON)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindValidation, "apply patch document", err)
	}
	var out Specification
	if err := json.Unmarshal(patched, &out); err != nil {
		return nil, engineerr.Wrap(engineerr.KindValidation, "unmarshal patched specification", err)
	}
	for _, n := range out.Nets {
		n.BuildIndex()
	}
	return &out, nil
}

// MergePatch applies an RFC 7386 JSON merge patch instead, for the common
// case of a single-field correction (e.g. bumping a task's SLA) where a
// designer would rather not author a full RFC 6902 patch document.
func MergePatch(base *Specification, mergeDoc []byte) (*Specification, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindValidation, "marshal base specification", err)
	}
	merged, err := jsonpatch.MergePatch(baseJSON, mergeDoc)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindValidation, "apply merge patch", err)
	}
	var out Specification
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, engineerr.Wrap(engineerr.KindValidation, "unmarshal merged specification", err)
	}
	for _, n := range out.Nets {
		n.BuildIndex()
	}
	return &out, nil
}
