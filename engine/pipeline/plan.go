package pipeline

import (
	"fmt"

	"github.com/compozy/animagen/engine/core"
	"github.com/compozy/animagen/engine/reference"
)

// Step is a decoded block at its dense execution index.
type Step struct {
	Index int
	Block Block
	Spec  Spec
	// SourceIndex is the step whose output an ai-generation block edits, or -1.
	SourceIndex int
}

// Plan is a pipeline compiled for execution: blocks sorted, decoded and
// indexed. A Plan is read-only and may be shared by concurrent runs.
type Plan struct {
	Steps   []Step
	Inputs  []InputElement
	indexOf map[string]int
}

// Compile sorts and decodes every block and resolves sourceBlockId references
// to step indexes. It fails with INVALID_CONFIG on the first unusable block.
func Compile(p Pipeline) (*Plan, error) {
	sorted := p.Sorted()
	plan := &Plan{
		Steps:   make([]Step, 0, len(sorted)),
		Inputs:  p.Inputs,
		indexOf: make(map[string]int, len(sorted)),
	}
	for i, b := range sorted {
		if _, dup := plan.indexOf[b.ID]; dup {
			return nil, core.Errorf(core.ErrCodeInvalidConfig, "duplicate block id %q", b.ID)
		}
		spec, err := Decode(b)
		if err != nil {
			return nil, err
		}
		plan.indexOf[b.ID] = i
		plan.Steps = append(plan.Steps, Step{Index: i, Block: b, Spec: spec, SourceIndex: -1})
	}
	for i := range plan.Steps {
		step := &plan.Steps[i]
		ai, ok := step.Spec.(AIGenerationSpec)
		if !ok || !ai.Mode().NeedsSource() || ai.ImageSource != ImageSourceAIBlockOutput {
			continue
		}
		src, ok := plan.earlier(step.Block, ai.SourceBlockID)
		if !ok {
			return nil, core.NewError(
				fmt.Errorf("block %q: source block %q must exist and run before it", step.Block.ID, ai.SourceBlockID),
				core.ErrCodeInvalidConfig,
				map[string]any{"block_id": step.Block.ID, "source_block_id": ai.SourceBlockID},
			)
		}
		step.SourceIndex = src
	}
	return plan, nil
}

// earlier returns the index of block id when its order is strictly less than b's.
func (p *Plan) earlier(b Block, id string) (int, bool) {
	idx, ok := p.indexOf[id]
	if !ok || id == "" {
		return 0, false
	}
	if p.Steps[idx].Block.Order >= b.Order {
		return 0, false
	}
	return idx, true
}

func (p *Plan) Len() int {
	return len(p.Steps)
}

// IndexOf returns the dense index of a block id.
func (p *Plan) IndexOf(id string) (int, bool) {
	idx, ok := p.indexOf[id]
	return idx, ok
}

// NewOutputs allocates the output arena of one run.
func (p *Plan) NewOutputs() *Outputs {
	return &Outputs{
		plan: p,
		bufs: make([][]byte, len(p.Steps)),
		set:  make([]bool, len(p.Steps)),
	}
}

// Outputs stores block outputs of a single run in a fixed slice indexed by
// step. It is not safe for concurrent use; a run executes its blocks
// sequentially.
type Outputs struct {
	plan *Plan
	bufs [][]byte
	set  []bool
}

var _ reference.BlockOutputs = (*Outputs)(nil)

func (o *Outputs) Set(index int, buf []byte) {
	o.bufs[index] = buf
	o.set[index] = true
}

func (o *Outputs) At(index int) ([]byte, bool) {
	if index < 0 || index >= len(o.bufs) || !o.set[index] {
		return nil, false
	}
	return o.bufs[index], true
}

// Output looks an output up by block id.
func (o *Outputs) Output(blockID string) ([]byte, bool) {
	idx, ok := o.plan.IndexOf(blockID)
	if !ok {
		return nil, false
	}
	return o.At(idx)
}

// Map returns the produced outputs keyed by block id.
func (o *Outputs) Map() map[string][]byte {
	out := make(map[string][]byte)
	for i, ok := range o.set {
		if ok {
			out[o.plan.Steps[i].Block.ID] = o.bufs[i]
		}
	}
	return out
}
