package optim

import (
	"math"
	"testing"

	"digitcnn/internal/model"
)

func TestSGDStep(t *testing.T) {
	p := model.NewParam("w", true, 3)
	copy(p.Data(), []float64{1, 2, 3})
	copy(p.GradData(), []float64{10, -10, 0})

	opt, err := NewSGD(0.1)
	if err != nil {
		t.Fatalf("NewSGD: %v", err)
	}
	opt.Step([]*model.Param{p})

	want := []float64{0, 3, 3}
	for i, v := range p.Data() {
		if math.Abs(v-want[i]) > 1e-12 {
			t.Fatalf("w[%d]=%f want %f", i, v, want[i])
		}
	}
	for i, g := range p.GradData() {
		if g != 0 {
			t.Fatalf("grad[%d] not cleared: %f", i, g)
		}
	}
}

func TestNewSGDRejectsNonPositive(t *testing.T) {
	if _, err := NewSGD(0); err == nil {
		t.Fatal("expected error for zero learning rate")
	}
}

func TestZeroGrad(t *testing.T) {
	p := model.NewParam("b", false, 2)
	copy(p.GradData(), []float64{1, 1})
	ZeroGrad([]*model.Param{p})
	if p.GradData()[0] != 0 || p.GradData()[1] != 0 {
		t.Fatal("gradients not cleared")
	}
}
