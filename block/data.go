package block

import (
	"context"
	"fmt"

	"dust.evalgo.org/common"
	"dust.evalgo.org/run"
)

// Data loads a registered dataset's points as a single array value. With no
// explicit hash the latest registered version is used.
type Data struct {
	DatasetID string
	Hash      string
	runIf     string
}

func (b *Data) BlockType() run.BlockType {
	return run.BlockTypeData
}

func (b *Data) RunIf() string {
	return b.runIf
}

func (b *Data) InnerHash() string {
	h := common.NewHasher()
	h.UpdateString("data")
	h.UpdateString(b.DatasetID)
	h.UpdateString(b.Hash)
	h.UpdateString(b.runIf)
	return h.Finalize()
}

func (b *Data) Execute(
	ctx context.Context,
	name string,
	env *Env,
	events chan<- Event,
) (interface{}, error) {
	hash := b.Hash
	if hash == "" {
		latest, err := env.Store.LatestDatasetHash(ctx, env.Project, b.DatasetID)
		if err != nil {
			return nil, common.Fatal(err)
		}
		if latest == "" {
			return nil, common.Fatal(fmt.Errorf("dataset `%s` is not registered", b.DatasetID))
		}
		hash = latest
	}

	d, err := env.Store.LoadDataset(ctx, env.Project, b.DatasetID, hash)
	if err != nil {
		return nil, common.Fatal(err)
	}
	if d == nil {
		return nil, common.Fatal(fmt.Errorf("dataset `%s` version `%s` not found", b.DatasetID, hash))
	}
	return d.PointsAsValue(), nil
}
