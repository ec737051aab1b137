package tensor

import "math"

// Param is one named model parameter: a flat float64 vector plus the gradient
// accumulated by the most recent backward pass. Grad is nil until the first
// backward pass touches the parameter.
type Param struct {
	Name string
	Data []float64
	Grad []float64
}

// NewParam allocates a named parameter of the given size with no gradient.
func NewParam(name string, size int) *Param {
	return &Param{Name: name, Data: make([]float64, size)}
}

// EnsureGrad allocates the gradient buffer on first use.
func (p *Param) EnsureGrad() []float64 {
	if p.Grad == nil {
		p.Grad = make([]float64, len(p.Data))
	}
	return p.Grad
}

// ZeroGrad clears the gradient buffer in place. A nil gradient stays nil.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// GradNorm returns the Euclidean norm of the gradient, or 0 when no gradient
// has been computed.
func (p *Param) GradNorm() float64 {
	var sum float64
	for _, g := range p.Grad {
		sum += g * g
	}
	return math.Sqrt(sum)
}

// ScaleGrad multiplies the gradient in place by the given factor.
func (p *Param) ScaleGrad(factor float64) {
	for i := range p.Grad {
		p.Grad[i] *= factor
	}
}
