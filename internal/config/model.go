package config

import "github.com/hashicorp/hcl/v2"

// Component names one configured collaborator: a registry type name plus the
// raw argument body its factory decodes.
type Component struct {
	Type string
	Body hcl.Body
}

// Training holds the trainer tunables.
type Training struct {
	// SavePath is the checkpoint destination. Empty disables checkpointing.
	SavePath string

	// ClipNorm is the per-parameter gradient clipping threshold. Zero or
	// negative disables clipping.
	ClipNorm float64

	// NValidPerEpoch is how many validation passes to spread over one epoch.
	NValidPerEpoch int

	// Criteria selects the score deciding improvement: "bleu" or "loss".
	Criteria string

	// UploadURL, when set, mirrors every improved checkpoint to a pre-signed
	// URL.
	UploadURL string
}

// Cluster describes this participant's place in a multi-device run.
type Cluster struct {
	// Rank is this participant's index; rank 0 hosts the rendezvous.
	Rank int

	// Size is the total number of participants.
	Size int

	// Listen is the address the root serves the rendezvous on.
	Listen string

	// RootURL is where non-root participants reach the root.
	RootURL string
}

// Run is the complete configuration of one training run.
type Run struct {
	Training  Training
	Model     Component
	Dataset   Component
	Optimizer Component
	Scheduler Component
	Strategy  Component

	// Cluster is nil for single-device runs.
	Cluster *Cluster
}
