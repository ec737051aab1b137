// Package trainer contains the orchestration core of a training run: the Kit
// drives forward/backward steps, periodic validation, checkpointing, and
// multi-device synchronization around opaque model, dataset, and optimizer
// collaborators. Concrete epoch loops live in Strategy implementations.
package trainer

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/vk/nmtkit/internal/checkpoint"
	"github.com/vk/nmtkit/internal/coordinator"
	"github.com/vk/nmtkit/internal/ctxlog"
	"github.com/vk/nmtkit/internal/dataset"
	"github.com/vk/nmtkit/internal/device"
	"github.com/vk/nmtkit/internal/optimizer"
	"github.com/vk/nmtkit/internal/scheduler"
	"github.com/vk/nmtkit/internal/seq2seq"
)

// Recognized selection criteria. BLEU scores are negated before comparison so
// that lower is better for both.
const (
	CriteriaBLEU = "bleu"
	CriteriaLoss = "loss"
)

const (
	// bestSentinel is larger than any real criteria value, so the first
	// validation always improves on it.
	bestSentinel = 65535

	// improvementThreshold is the relative margin a new criteria value must
	// clear below the best seen; it keeps noise-level wiggles from
	// triggering checkpoints.
	improvementThreshold = 0.001

	// paramSyncInterval is how many steps pass between full parameter
	// re-broadcasts in multi-device mode, bounding numerical drift across
	// participants.
	paramSyncInterval = 30
)

// Config holds the tunable parts of a Kit. Configure applies it; it may be
// reapplied mid-run, affecting subsequent steps only.
type Config struct {
	// SavePath is where checkpoints go. Empty disables checkpointing.
	SavePath string

	// ClipNorm is the per-parameter gradient norm threshold. Zero or
	// negative disables clipping.
	ClipNorm float64

	// NValidPerEpoch is how many validation passes to spread over one epoch.
	NValidPerEpoch int

	// Criteria selects the score that decides improvement: "bleu" or "loss".
	Criteria string

	// UploadURL, when set, mirrors every improved checkpoint to a pre-signed
	// URL after saving it.
	UploadURL string
}

// Options configures Kit construction beyond the three core collaborators.
type Options struct {
	// Scheduler steers the run; nil defaults to the no-op scheduler.
	Scheduler scheduler.Scheduler

	// MultiDevice requests coordinated multi-process training. It requires
	// a Coordinator.
	MultiDevice bool

	// Coordinator is the collective-communication capability. Nil in
	// single-device mode; required in multi-device mode.
	Coordinator coordinator.Coordinator

	// OutW receives progress lines and echoed log lines. Defaults to
	// os.Stdout.
	OutW io.Writer
}

// Kit owns the mutable state of one training run. All mutation goes through
// its methods; collaborators only see the narrow surfaces they are given.
type Kit struct {
	ctx       context.Context
	model     seq2seq.Model
	dataset   dataset.Dataset
	optimizer optimizer.Optimizer
	scheduler scheduler.Scheduler
	coord     coordinator.Coordinator

	multiDevice bool
	nDevices    int
	outW        io.Writer

	savePath       string
	clipNorm       float64
	nValidPerEpoch int
	criteria       string
	uploadURL      string
	validFreq      int

	logLines     []string
	bestCriteria float64
	nTrainBatch  int
	batchSize    int
	beginTime    time.Time
	currentEpoch int
	currentStep  int
}

// NewKit wires a trainer around its collaborators and reports the run setup
// through the persisted log. In multi-device mode it wraps the optimizer for
// gradient averaging, broadcasts initial parameters from the root, and
// restricts the dataset to this participant's shard.
//
// Construction panics when multi-device mode is requested without a
// coordinator: that is an unrecoverable startup error, deliberately not
// returned for handling.
func NewKit(ctx context.Context, model seq2seq.Model, ds dataset.Dataset, opt optimizer.Optimizer, opts Options) *Kit {
	logger := ctxlog.FromContext(ctx)

	sched := opts.Scheduler
	if sched == nil {
		sched = scheduler.NewNoop()
	}
	coord := opts.Coordinator
	if opts.MultiDevice && coord == nil {
		panic("trainer: multi-device training requires a cluster coordinator")
	}
	if coord == nil {
		coord = coordinator.NewNoop()
	}
	outW := opts.OutW
	if outW == nil {
		outW = os.Stdout
	}

	k := &Kit{
		ctx:          ctx,
		model:        model,
		dataset:      ds,
		optimizer:    opt,
		scheduler:    sched,
		coord:        coord,
		multiDevice:  opts.MultiDevice,
		nDevices:     1,
		outW:         outW,
		bestCriteria: bestSentinel,
	}

	dev := device.Detect()
	if opts.MultiDevice {
		k.nDevices = coord.Size()
		model.Place(dev.Name)
		k.optimizer = coordinator.WrapOptimizer(opt, coord)
		state, err := coord.BroadcastState(model.StateDict())
		if err != nil {
			panic(fmt.Errorf("trainer: initial parameter broadcast failed: %w", err))
		}
		if !coord.IsRoot() {
			if err := model.LoadStateDict(state); err != nil {
				panic(fmt.Errorf("trainer: failed to install root parameters: %w", err))
			}
		}
		ds.SetDeviceScope(coord.Rank(), coord.Size())
		logger.Debug("Participant joined multi-device run.", "rank", coord.Rank(), "size", coord.Size())
	} else if dev.Kind == "accelerator" {
		model.Place(dev.Name)
	}

	k.scheduler.Bind(k)
	k.nTrainBatch = ds.NTrainBatch()
	k.batchSize = ds.BatchSize()
	k.Configure(Config{ClipNorm: 5, NValidPerEpoch: 10, Criteria: CriteriaBLEU})

	k.Log("nmtkit", fmt.Sprintf("Training %s with %d parameters", typeName(model), len(model.Params())))
	k.Log("nmtkit", fmt.Sprintf("with %s and %s", typeName(opt), typeName(sched)))
	k.Log("nmtkit", fmt.Sprintf("Training data has %d batches", k.nTrainBatch))
	k.Log("nmtkit", fmt.Sprintf("Hash of validation data is %s", validDataHash(ds.RawValidData())))
	k.Log("nmtkit", fmt.Sprintf("Running with %d devices (%s)", k.nDevices, dev.Name))
	return k
}

// Configure applies trainer settings and recomputes the validation
// frequency. An unrecognized criteria is a fatal configuration error.
func (k *Kit) Configure(cfg Config) {
	if cfg.Criteria != CriteriaBLEU && cfg.Criteria != CriteriaLoss {
		panic(fmt.Sprintf("trainer: criteria must be %q or %q, got %q", CriteriaBLEU, CriteriaLoss, cfg.Criteria))
	}
	if cfg.NValidPerEpoch <= 0 {
		panic(fmt.Sprintf("trainer: validations per epoch must be positive, got %d", cfg.NValidPerEpoch))
	}
	k.savePath = cfg.SavePath
	k.clipNorm = cfg.ClipNorm
	k.nValidPerEpoch = cfg.NValidPerEpoch
	k.criteria = cfg.Criteria
	k.uploadURL = cfg.UploadURL
	// Integer division; a frequency of zero is degenerate but legal, and
	// simply means validation never triggers.
	k.validFreq = k.nTrainBatch / k.nValidPerEpoch
}

// Train runs one forward and backward step on the given batch and applies
// the optimizer. The batch arrives time-major and is transposed before the
// model sees it. Errors from the collaborators propagate untouched.
func (k *Kit) Train(batch dataset.Batch) (*seq2seq.ValueMap, error) {
	src := batch.Src.Transpose()
	tgt := batch.Tgt.Transpose()

	valMap, err := k.model.Forward(src, tgt, false)
	if err != nil {
		return nil, err
	}
	k.optimizer.ZeroGrad()
	if err := k.model.Backward(); err != nil {
		return nil, err
	}
	if k.clipNorm > 0 {
		k.clipGradNorm()
	}
	if err := k.optimizer.Step(); err != nil {
		return nil, err
	}
	k.printProgress(valMap)
	return valMap, nil
}

// Valid runs the periodic validation pass. Only the root participant
// evaluates; every participant still takes part in the learning-rate
// broadcast at the same periodicity and in the parameter re-broadcast every
// paramSyncInterval steps, keeping the cluster's collective calls aligned.
func (k *Kit) Valid() error {
	due := k.validFreq > 0 && (k.currentStep+1)%k.validFreq == 0

	if due && k.coord.IsRoot() {
		k.model.SetTraining(false)
		scoreMap, err := k.RunValid()
		if err != nil {
			return err
		}
		improved, err := k.CheckImprovement(scoreMap)
		if err != nil {
			return err
		}
		k.scheduler.AfterValid(improved, scoreMap)
		k.model.SetTraining(true)
		marker := ""
		if improved {
			marker = " *"
		}
		k.Log("valid", fmt.Sprintf("%s%s (epoch %d, step %d)",
			scoreMapString(scoreMap), marker, k.currentEpoch+1, k.currentStep+1))
	}

	if due && k.multiDevice {
		lr, err := k.coord.BroadcastFloat64(k.LearningRate())
		if err != nil {
			return fmt.Errorf("learning rate broadcast failed: %w", err)
		}
		if lr != k.LearningRate() {
			k.SetLearningRate(lr)
		}
	}
	if (k.currentStep+1)%paramSyncInterval == 0 && k.multiDevice {
		state, err := k.coord.BroadcastState(k.model.StateDict())
		if err != nil {
			return fmt.Errorf("parameter re-broadcast failed: %w", err)
		}
		if !k.coord.IsRoot() {
			if err := k.model.LoadStateDict(state); err != nil {
				return fmt.Errorf("failed to install re-broadcast parameters: %w", err)
			}
		}
	}
	return nil
}

// RunValid scores the full validation set in inference mode with sampling
// enabled and returns per-metric averages. Sampled outputs contribute a
// negated smoothed BLEU under the "bleu" key so that lower is better across
// all metrics.
func (k *Kit) RunValid() (map[string]float64, error) {
	acc := make(map[string][]float64)
	for _, batch := range k.dataset.ValidSet() {
		src := batch.Src.Transpose()
		tgt := batch.Tgt.Transpose()
		valMap, err := k.model.Forward(src, tgt, true)
		if err != nil {
			return nil, err
		}
		if valMap.SampledTokens != nil {
			score := estimateBLEU(valMap.SampledTokens, tgt)
			acc[CriteriaBLEU] = append(acc[CriteriaBLEU], -score)
		}
		for name, v := range valMap.Scalars {
			acc[name] = append(acc[name], v)
		}
	}

	scoreMap := make(map[string]float64, len(acc))
	for name, vals := range acc {
		sum := 0.0
		for _, v := range vals {
			sum += v
		}
		scoreMap[name] = sum / float64(len(vals))
	}
	return scoreMap, nil
}

// CheckImprovement compares the configured criteria against the best seen so
// far. A new value must undercut the best by a 0.1% relative margin to
// count; an improvement updates the best and checkpoints immediately.
//
// The improvement checkpoint records epoch 0 and step 0 rather than the live
// counters, mirroring the long-standing behavior resumed runs depend on.
func (k *Kit) CheckImprovement(scoreMap map[string]float64) (bool, error) {
	cri, ok := scoreMap[k.criteria]
	if !ok {
		return false, fmt.Errorf("criteria %q missing from validation scores", k.criteria)
	}
	if cri >= k.bestCriteria-math.Abs(k.bestCriteria)*improvementThreshold {
		return false, nil
	}
	k.bestCriteria = cri
	if err := k.Save(0, 0); err != nil {
		return false, err
	}
	if k.uploadURL != "" && k.savePath != "" {
		if err := checkpoint.Upload(k.ctx, k.uploadURL, k.savePath); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Save serializes the run to the configured checkpoint path and rewrites the
// log sidecar next to it. Without a save path it is a no-op.
func (k *Kit) Save(epoch, step int) error {
	if k.savePath == "" {
		return nil
	}
	rec := &checkpoint.Record{
		Epoch:          epoch,
		Step:           step,
		ModelState:     k.model.StateDict(),
		OptimizerState: k.optimizer.StateDict(),
	}
	if err := checkpoint.Save(k.savePath, rec); err != nil {
		return err
	}
	return checkpoint.WriteSidecar(k.savePath, k.logLines)
}

// Load restores model and optimizer state plus the epoch/step counters from
// a checkpoint, enabling resumed training. An empty path means the
// configured save path.
func (k *Kit) Load(path string) error {
	if path == "" {
		path = k.savePath
	}
	rec, err := checkpoint.Load(path)
	if err != nil {
		return err
	}
	if err := k.model.LoadStateDict(rec.ModelState); err != nil {
		return fmt.Errorf("failed to restore model state: %w", err)
	}
	if err := k.optimizer.LoadStateDict(rec.OptimizerState); err != nil {
		return fmt.Errorf("failed to restore optimizer state: %w", err)
	}
	k.currentEpoch = rec.Epoch
	k.currentStep = rec.Step
	return nil
}

// IsFinished asks the scheduler whether training should stop. In
// multi-device mode the root's answer is broadcast so every participant
// terminates in lockstep instead of deadlocking inside a later collective.
func (k *Kit) IsFinished() (bool, error) {
	finished := k.scheduler.IsFinished()
	if !k.multiDevice {
		return finished, nil
	}
	flag := int64(0)
	if finished {
		flag = 1
	}
	flag, err := k.coord.BroadcastInt(flag)
	if err != nil {
		return false, fmt.Errorf("termination broadcast failed: %w", err)
	}
	return flag > 0, nil
}

// BeginEpoch sets the current epoch and restarts the epoch clock.
func (k *Kit) BeginEpoch(epoch int) {
	k.currentEpoch = epoch
	k.scheduler.BeforeEpoch()
	k.beginTime = time.Now()
}

// EndEpoch closes out the current epoch.
func (k *Kit) EndEpoch() {
	k.scheduler.AfterEpoch()
	k.Log("nmtkit", fmt.Sprintf("Ending epoch %d, spent %d minutes", k.currentEpoch+1, int(k.EpochTime().Minutes())))
}

// BeginStep sets the current step.
func (k *Kit) BeginStep(step int) {
	k.currentStep = step
}

// Epoch implements scheduler.Control.
func (k *Kit) Epoch() int { return k.currentEpoch }

// Step implements scheduler.Control.
func (k *Kit) Step() int { return k.currentStep }

// BestCriteria implements scheduler.Control.
func (k *Kit) BestCriteria() float64 { return k.bestCriteria }

// EpochTime reports how long the current epoch has been running.
func (k *Kit) EpochTime() time.Duration {
	return time.Since(k.beginTime)
}

// LearningRate implements scheduler.Control.
func (k *Kit) LearningRate() float64 {
	return k.optimizer.ParamGroups()[0].LR
}

// SetLearningRate implements scheduler.Control. It applies the rate to every
// parameter group.
func (k *Kit) SetLearningRate(lr float64) {
	for _, g := range k.optimizer.ParamGroups() {
		g.LR = lr
	}
	if k.coord.IsRoot() {
		k.Log("nmtkit", fmt.Sprintf("change learning rate to %.6f", lr))
	}
}

// Log implements scheduler.Control: it appends a "[tag] message" line to the
// persisted log and echoes it on the root participant.
func (k *Kit) Log(tag, msg string) {
	line := fmt.Sprintf("[%s] %s", tag, msg)
	k.logLines = append(k.logLines, line)
	if k.coord.IsRoot() {
		fmt.Fprintln(k.outW, line)
	}
}

// LogLines returns a copy of the persisted log so far.
func (k *Kit) LogLines() []string {
	lines := make([]string, len(k.logLines))
	copy(lines, k.logLines)
	return lines
}

// Dataset exposes the dataset to training strategies.
func (k *Kit) Dataset() dataset.Dataset { return k.dataset }

// ValidFreq reports the derived validation frequency in steps.
func (k *Kit) ValidFreq() int { return k.validFreq }

// clipGradNorm rescales each parameter's gradient whose Euclidean norm
// exceeds the threshold. The clip is per parameter, not a joint norm across
// the whole model; downstream numerics depend on exactly this.
func (k *Kit) clipGradNorm() {
	for _, g := range k.optimizer.ParamGroups() {
		for _, p := range g.Params {
			if p.Grad == nil {
				continue
			}
			norm := p.GradNorm()
			if norm > k.clipNorm {
				p.ScaleGrad(k.clipNorm / (norm + 1e-6))
			}
		}
	}
}

// printProgress writes the single overwriting status line for the current
// step. It is throwaway console output, never part of the persisted log.
func (k *Kit) printProgress(valMap *seq2seq.ValueMap) {
	progress := 0
	if k.nTrainBatch > 0 {
		progress = k.currentStep * 100 / k.nTrainBatch
	}
	speed := 0.0
	if elapsed := time.Since(k.beginTime).Seconds(); elapsed > 0 {
		speed = float64(k.currentStep*k.batchSize) / elapsed * float64(k.nDevices)
	}
	fmt.Fprintf(k.outW, "[epoch %d|%d%%] loss=%.2f | %.1f sample/s   \r",
		k.currentEpoch+1, progress, valMap.Loss(), speed)
}

// validDataHash digests the raw validation targets so runs can verify they
// scored the same data.
func validDataHash(examples []dataset.Example) string {
	lines := make([]string, len(examples))
	for i, ex := range examples {
		lines[i] = strings.Join(ex.Tgt, " ")
	}
	sum := sha1.Sum([]byte(strings.Join(lines, "\n")))
	hexSum := fmt.Sprintf("%x", sum)
	return hexSum[len(hexSum)-8:]
}

// scoreMapString renders a score map with stable key order.
func scoreMapString(scoreMap map[string]float64) string {
	names := make([]string, 0, len(scoreMap))
	for name := range scoreMap {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%.2f", name, scoreMap[name])
	}
	return strings.Join(parts, " ")
}

func typeName(v any) string {
	name := fmt.Sprintf("%T", v)
	name = strings.TrimPrefix(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
