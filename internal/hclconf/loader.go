// Package hclconf is the HCL-specific implementation of the config.Loader
// interface. It discovers .hcl files under a path, decodes the known
// top-level blocks, applies defaults, and translates the result into the
// format-agnostic run model.
package hclconf

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/nmtkit/internal/config"
	"github.com/vk/nmtkit/internal/ctxlog"
	"github.com/vk/nmtkit/internal/fsutil"
)

// Defaults applied when the training block omits an attribute.
const (
	defaultClipNorm       = 5.0
	defaultNValidPerEpoch = 10
	defaultCriteria       = "bleu"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// fileRoot is a struct used to decode all possible top-level blocks from any
// file.
type fileRoot struct {
	Training  *trainingBlock  `hcl:"training,block"`
	Model     *componentBlock `hcl:"model,block"`
	Dataset   *componentBlock `hcl:"dataset,block"`
	Optimizer *componentBlock `hcl:"optimizer,block"`
	Scheduler *componentBlock `hcl:"scheduler,block"`
	Strategy  *componentBlock `hcl:"strategy,block"`
	Cluster   *clusterBlock   `hcl:"cluster,block"`
	Remain    hcl.Body        `hcl:",remain"`
}

// componentBlock is a labeled block naming a registered factory; the
// remainder of the body belongs to that factory.
type componentBlock struct {
	Type string   `hcl:"type,label"`
	Body hcl.Body `hcl:",remain"`
}

type trainingBlock struct {
	SavePath       *string  `hcl:"save_path"`
	ClipNorm       *float64 `hcl:"clip_norm"`
	NValidPerEpoch *int     `hcl:"n_valid_per_epoch"`
	Criteria       *string  `hcl:"criteria"`
	UploadURL      *string  `hcl:"upload_url"`
}

type clusterBlock struct {
	Rank    int     `hcl:"rank"`
	Size    int     `hcl:"size"`
	Listen  *string `hcl:"listen"`
	RootURL *string `hcl:"root_url"`
}

// Load orchestrates the HCL configuration loading process. Blocks may be
// spread across any number of files under the path; each block kind may
// appear at most once in total.
func (l *Loader) Load(ctx context.Context, path string) (*config.Run, error) {
	logger := ctxlog.FromContext(ctx)

	hclFiles, err := fsutil.FindFilesByExtension(path, ".hcl")
	if err != nil {
		return nil, err
	}
	if len(hclFiles) == 0 {
		return nil, fmt.Errorf("no .hcl configuration files found under %s", path)
	}
	logger.Debug("Discovered HCL files.", "count", len(hclFiles))

	evalCtx := baseEvalContext()
	parser := hclparse.NewParser()
	merged := fileRoot{}

	for _, file := range hclFiles {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, evalCtx, &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}

		if err := mergeRoots(&merged, &root, file); err != nil {
			return nil, err
		}
	}

	return l.translate(&merged)
}

// baseEvalContext exposes the working directory and the process environment
// to configuration expressions, e.g. save_path = "${workdir}/model.bin".
func baseEvalContext() *hcl.EvalContext {
	vars := map[string]cty.Value{
		"workdir": cty.StringVal(mustWorkdir()),
	}

	env := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		if key, val, ok := strings.Cut(kv, "="); ok && key != "" {
			env[key] = cty.StringVal(val)
		}
	}
	if len(env) == 0 {
		vars["env"] = cty.MapValEmpty(cty.String)
	} else {
		vars["env"] = cty.MapVal(env)
	}

	return &hcl.EvalContext{Variables: vars}
}

func mustWorkdir() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// mergeRoots folds one file's blocks into the accumulated root, rejecting
// duplicate block kinds across files.
func mergeRoots(dst, src *fileRoot, file string) error {
	type slot struct {
		name     string
		occupied bool
		assign   func()
	}
	slots := []slot{
		{"training", src.Training != nil && dst.Training != nil, func() { dst.Training = src.Training }},
		{"model", src.Model != nil && dst.Model != nil, func() { dst.Model = src.Model }},
		{"dataset", src.Dataset != nil && dst.Dataset != nil, func() { dst.Dataset = src.Dataset }},
		{"optimizer", src.Optimizer != nil && dst.Optimizer != nil, func() { dst.Optimizer = src.Optimizer }},
		{"scheduler", src.Scheduler != nil && dst.Scheduler != nil, func() { dst.Scheduler = src.Scheduler }},
		{"strategy", src.Strategy != nil && dst.Strategy != nil, func() { dst.Strategy = src.Strategy }},
		{"cluster", src.Cluster != nil && dst.Cluster != nil, func() { dst.Cluster = src.Cluster }},
	}
	for _, s := range slots {
		if s.occupied {
			return fmt.Errorf("duplicate %s block in %s", s.name, file)
		}
		s.assign()
	}
	return nil
}

// translate applies defaults and converts the decoded blocks into the
// format-agnostic model.
func (l *Loader) translate(root *fileRoot) (*config.Run, error) {
	if root.Model == nil {
		return nil, fmt.Errorf("configuration is missing a model block")
	}
	if root.Dataset == nil {
		return nil, fmt.Errorf("configuration is missing a dataset block")
	}
	if root.Optimizer == nil {
		return nil, fmt.Errorf("configuration is missing an optimizer block")
	}

	run := &config.Run{
		Training: config.Training{
			ClipNorm:       defaultClipNorm,
			NValidPerEpoch: defaultNValidPerEpoch,
			Criteria:       defaultCriteria,
		},
		Model:     translateComponent(root.Model),
		Dataset:   translateComponent(root.Dataset),
		Optimizer: translateComponent(root.Optimizer),
		Scheduler: config.Component{Type: "noop", Body: hcl.EmptyBody()},
		Strategy:  config.Component{Type: "standard", Body: hcl.EmptyBody()},
	}

	if t := root.Training; t != nil {
		if t.SavePath != nil {
			run.Training.SavePath = *t.SavePath
		}
		if t.ClipNorm != nil {
			run.Training.ClipNorm = *t.ClipNorm
		}
		if t.NValidPerEpoch != nil {
			run.Training.NValidPerEpoch = *t.NValidPerEpoch
		}
		if t.Criteria != nil {
			run.Training.Criteria = *t.Criteria
		}
		if t.UploadURL != nil {
			run.Training.UploadURL = *t.UploadURL
		}
	}

	if root.Scheduler != nil {
		run.Scheduler = translateComponent(root.Scheduler)
	}
	if root.Strategy != nil {
		run.Strategy = translateComponent(root.Strategy)
	}

	if c := root.Cluster; c != nil {
		cluster, err := translateCluster(c)
		if err != nil {
			return nil, err
		}
		run.Cluster = cluster
	}

	return run, nil
}

func translateComponent(b *componentBlock) config.Component {
	return config.Component{Type: b.Type, Body: b.Body}
}

func translateCluster(b *clusterBlock) (*config.Cluster, error) {
	if b.Size < 2 {
		return nil, fmt.Errorf("cluster size must be at least 2, got %d", b.Size)
	}
	if b.Rank < 0 || b.Rank >= b.Size {
		return nil, fmt.Errorf("cluster rank %d is out of range for size %d", b.Rank, b.Size)
	}
	cluster := &config.Cluster{Rank: b.Rank, Size: b.Size}
	if b.Listen != nil {
		cluster.Listen = *b.Listen
	}
	if b.RootURL != nil {
		cluster.RootURL = *b.RootURL
	}
	if b.Rank == 0 && cluster.Listen == "" {
		return nil, fmt.Errorf("cluster rank 0 requires a listen address")
	}
	if b.Rank != 0 && cluster.RootURL == "" {
		return nil, fmt.Errorf("cluster rank %d requires a root_url", b.Rank)
	}
	return cluster, nil
}
