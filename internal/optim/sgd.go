// Package optim holds the parameter update rules used by the trainer.
package optim

import (
	"github.com/pkg/errors"

	"digitcnn/internal/model"
)

// Optimizer applies one update to params using their gradients.
type Optimizer interface {
	Step(params []*model.Param)
}

// SGD is plain stochastic gradient descent with a fixed learning rate.
type SGD struct {
	LearningRate float64
}

// NewSGD validates the learning rate.
func NewSGD(lr float64) (*SGD, error) {
	if lr <= 0 {
		return nil, errors.Errorf("optim: learning rate must be > 0 (got %g)", lr)
	}
	return &SGD{LearningRate: lr}, nil
}

// Step applies p -= lr * grad and clears the gradients.
func (o *SGD) Step(params []*model.Param) {
	for _, p := range params {
		w := p.Data()
		g := p.GradData()
		for i, gv := range g {
			w[i] -= o.LearningRate * gv
		}
		clear(g)
	}
}

// ZeroGrad clears every gradient.
func ZeroGrad(params []*model.Param) {
	for _, p := range params {
		clear(p.GradData())
	}
}
