// Package app implements the block-graph evaluator: it turns a parsed
// specification into an App with stable content hashes and runs it over a
// dataset with bounded concurrency, content-addressed memoization and
// incremental persistence.
package app

import (
	"fmt"

	"dust.evalgo.org/block"
	"dust.evalgo.org/common"
	"dust.evalgo.org/run"
)

// App is a parsed, ordered list of blocks with balanced scopes and
// precomputed hashes. The prefix hash at position i covers the inner hashes
// of blocks 0..i; the app hash is the prefix hash at the last block.
type App struct {
	specText     string
	specHash     string
	blocks       []block.Named
	prefixHashes []string
	hash         string
	tree         []*node
}

// node is one element of the scope tree built at load time. For map and
// while scopes, children holds the enclosed blocks and closeIdx the index of
// the matching reduce or end.
type node struct {
	idx      int
	children []*node
	closeIdx int
}

// New parses specification text into an App.
func New(spec string) (*App, error) {
	blocks, err := block.Parse(spec)
	if err != nil {
		return nil, err
	}
	return FromBlocks(spec, blocks)
}

// FromBlocks builds an App from an already-validated block list.
func FromBlocks(spec string, blocks []block.Named) (*App, error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("app has no blocks")
	}

	prefixHashes := make([]string, len(blocks))
	inner := make([]string, 0, len(blocks))
	for i, nb := range blocks {
		inner = append(inner, nb.Block.InnerHash())
		prefixHashes[i] = common.HashStrings(inner...)
	}

	tree, err := buildTree(blocks)
	if err != nil {
		return nil, err
	}

	return &App{
		specText:     spec,
		specHash:     common.HashBytes([]byte(spec)),
		blocks:       blocks,
		prefixHashes: prefixHashes,
		hash:         prefixHashes[len(prefixHashes)-1],
		tree:         tree,
	}, nil
}

// Hash returns the app hash.
func (a *App) Hash() string { return a.hash }

// SpecHash returns the content hash of the specification text.
func (a *App) SpecHash() string { return a.specHash }

// SpecText returns the specification text the app was parsed from.
func (a *App) SpecText() string { return a.specText }

// Blocks returns the ordered block list.
func (a *App) Blocks() []block.Named { return a.blocks }

// PrefixHash returns the prefix hash at block position i.
func (a *App) PrefixHash(i int) string { return a.prefixHashes[i] }

func buildTree(blocks []block.Named) ([]*node, error) {
	seq, next, err := buildSeq(blocks, 0, nil)
	if err != nil {
		return nil, err
	}
	if next != len(blocks) {
		return nil, fmt.Errorf("unexpected scope closer at block %d", next)
	}
	return seq, nil
}

// buildSeq consumes blocks from position i until the closer type (or the end
// of the list when closer is empty), returning the sequence and the position
// of the closer.
func buildSeq(blocks []block.Named, i int, closer []run.BlockType) ([]*node, int, error) {
	var seq []*node
	for i < len(blocks) {
		t := blocks[i].Block.BlockType()
		for _, c := range closer {
			if t == c {
				return seq, i, nil
			}
		}
		switch t {
		case run.BlockTypeMap:
			children, closeIdx, err := buildSeq(blocks, i+1, []run.BlockType{run.BlockTypeReduce})
			if err != nil {
				return nil, 0, err
			}
			if closeIdx >= len(blocks) {
				return nil, 0, fmt.Errorf("`map` block `%s` has no matching `reduce`", blocks[i].Name)
			}
			seq = append(seq, &node{idx: i, children: children, closeIdx: closeIdx})
			i = closeIdx + 1
		case run.BlockTypeWhile:
			children, closeIdx, err := buildSeq(blocks, i+1, []run.BlockType{run.BlockTypeEnd})
			if err != nil {
				return nil, 0, err
			}
			if closeIdx >= len(blocks) {
				return nil, 0, fmt.Errorf("`while` block `%s` has no matching `end`", blocks[i].Name)
			}
			seq = append(seq, &node{idx: i, children: children, closeIdx: closeIdx})
			i = closeIdx + 1
		case run.BlockTypeReduce, run.BlockTypeEnd:
			return nil, 0, fmt.Errorf("`%s` block `%s` has no matching opener", t, blocks[i].Name)
		default:
			seq = append(seq, &node{idx: i, closeIdx: -1})
			i++
		}
	}
	if len(closer) > 0 {
		return seq, i, fmt.Errorf("unclosed scope")
	}
	return seq, i, nil
}
