package app

import (
	"github.com/vk/nmtkit/internal/dataset"
	"github.com/vk/nmtkit/internal/optimizer"
	"github.com/vk/nmtkit/internal/registry"
	"github.com/vk/nmtkit/internal/scheduler"
	"github.com/vk/nmtkit/internal/seq2seq"
	"github.com/vk/nmtkit/internal/trainer"
)

// registerBuiltins installs the definitive set of factories compiled into the
// nmtkit binary.
func registerBuiltins(r *registry.Registry) {
	r.RegisterModel("mean_embed", seq2seq.MeanEmbedFactory)
	r.RegisterDataset("corpus", dataset.CorpusFactory)
	r.RegisterOptimizer("sgd", optimizer.SGDFactory)
	r.RegisterScheduler("noop", scheduler.NoopFactory)
	r.RegisterScheduler("anneal", scheduler.AnnealFactory)
	r.RegisterStrategy("standard", trainer.StandardFactory)
}
