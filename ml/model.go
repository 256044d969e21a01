package ml

import (
	"context"
	"fmt"
)

// InputSpec declares one model input. Shape excludes the batch dimension.
type InputSpec struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

// Size is the number of scalars one sample occupies in this input.
func (s InputSpec) Size() int {
	return shapeSize(s.Shape)
}

// Model is a loaded classifier. Forward receives one tensor per declared
// input and returns the raw output row for every sample in the batch.
type Model interface {
	Inputs() []InputSpec
	Forward(ctx context.Context, inputs []Tensor) ([][]float64, error)
}

// Tensor is a dense row-major batch. Shape[0] is the batch size.
type Tensor struct {
	Shape []int
	Data  []float64
}

// Sample returns the values of sample i.
func (t Tensor) Sample(i int) []float64 {
	size := shapeSize(t.Shape[1:])
	return t.Data[i*size : (i+1)*size]
}

// Reshape lays a batch of feature vectors out as a tensor of shape
// [len(batch)] + shape. Every vector must hold exactly shapeSize(shape) values.
func Reshape(batch [][]float64, shape []int) (Tensor, error) {
	size := shapeSize(shape)
	if size <= 0 {
		return Tensor{}, fmt.Errorf("%w: invalid shape %v", ErrShapeMismatch, shape)
	}
	data := make([]float64, 0, len(batch)*size)
	for i, vector := range batch {
		if len(vector) != size {
			return Tensor{}, fmt.Errorf("%w: vector %d has %d values, shape %v needs %d", ErrShapeMismatch, i, len(vector), shape, size)
		}
		data = append(data, vector...)
	}
	full := append([]int{len(batch)}, shape...)
	return Tensor{Shape: full, Data: data}, nil
}

// ReshapeFor builds one tensor per input declared by the model.
func ReshapeFor(model Model, batch [][]float64) ([]Tensor, error) {
	specs := model.Inputs()
	tensors := make([]Tensor, len(specs))
	for i, spec := range specs {
		tensor, err := Reshape(batch, spec.Shape)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", spec.Name, err)
		}
		tensors[i] = tensor
	}
	return tensors, nil
}

func shapeSize(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	size := 1
	for _, dim := range shape {
		if dim <= 0 {
			return 0
		}
		size *= dim
	}
	return size
}
