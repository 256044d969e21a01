package ml

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// FormatLayers identifies a layered network artifact.
const FormatLayers = "layers"

// Network is a feed-forward model made of one branch per input whose
// flattened outputs are concatenated and passed through the head layers.
type Network struct {
	inputs   []InputSpec
	branches [][]layer
	head     []layer
}

type networkManifest struct {
	Inputs          []InputSpec   `json:"inputs"`
	Branches        []branchSpec  `json:"branches"`
	Head            []layerSpec   `json:"head"`
	WeightsManifest []weightGroup `json:"weightsManifest"`
}

type branchSpec struct {
	Input  string      `json:"input"`
	Layers []layerSpec `json:"layers"`
}

type layerSpec struct {
	Type       string `json:"type"`
	Units      int    `json:"units,omitempty"`
	Activation string `json:"activation,omitempty"`
	Filters    int    `json:"filters,omitempty"`
	KernelSize int    `json:"kernel_size,omitempty"`
	PoolSize   int    `json:"pool_size,omitempty"`
	Kernel     string `json:"kernel,omitempty"`
	Bias       string `json:"bias,omitempty"`
}

type weightGroup struct {
	Paths   []string      `json:"paths"`
	Weights []weightEntry `json:"weights"`
}

type weightEntry struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	Dtype string `json:"dtype"`
}

type weight struct {
	shape  []int
	values []float64
}

// LoadNetwork reads a layered network from model.json and its weight shards.
func LoadNetwork(manifestPath string) (*Network, error) {
	payload, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}
	var manifest networkManifest
	if err := json.Unmarshal(payload, &manifest); err != nil {
		return nil, fmt.Errorf("parse network manifest: %w", err)
	}
	weights, err := loadWeights(filepath.Dir(manifestPath), manifest.WeightsManifest)
	if err != nil {
		return nil, err
	}
	return buildNetwork(manifest, weights)
}

func buildNetwork(manifest networkManifest, weights map[string]weight) (*Network, error) {
	if len(manifest.Inputs) == 0 {
		return nil, errors.New("network declares no inputs")
	}
	if len(manifest.Branches) != len(manifest.Inputs) {
		return nil, fmt.Errorf("network has %d inputs but %d branches", len(manifest.Inputs), len(manifest.Branches))
	}

	net := &Network{inputs: manifest.Inputs}
	concatWidth := 0
	for i, branch := range manifest.Branches {
		spec := manifest.Inputs[i]
		if branch.Input != "" && branch.Input != spec.Name {
			return nil, fmt.Errorf("branch %d reads %q, expected input %q", i, branch.Input, spec.Name)
		}
		if spec.Size() == 0 {
			return nil, fmt.Errorf("input %q has invalid shape %v", spec.Name, spec.Shape)
		}
		layers, shape, err := buildLayers(branch.Layers, spec.Shape, weights)
		if err != nil {
			return nil, fmt.Errorf("branch %q: %w", spec.Name, err)
		}
		net.branches = append(net.branches, layers)
		concatWidth += shapeSize(shape)
	}

	head, shape, err := buildLayers(manifest.Head, []int{concatWidth}, weights)
	if err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}
	if len(shape) != 1 {
		return nil, fmt.Errorf("head must produce a vector, got shape %v", shape)
	}
	net.head = head
	return net, nil
}

func buildLayers(specs []layerSpec, shape []int, weights map[string]weight) ([]layer, []int, error) {
	layers := make([]layer, 0, len(specs))
	for i, spec := range specs {
		l, err := newLayer(spec, weights)
		if err != nil {
			return nil, nil, fmt.Errorf("layer %d (%s): %w", i, spec.Type, err)
		}
		next, err := l.outputShape(shape)
		if err != nil {
			return nil, nil, fmt.Errorf("layer %d (%s): %w", i, spec.Type, err)
		}
		layers = append(layers, l)
		shape = next
	}
	return layers, shape, nil
}

// Inputs implements Model.
func (n *Network) Inputs() []InputSpec {
	return n.inputs
}

// Forward implements Model.
func (n *Network) Forward(ctx context.Context, inputs []Tensor) ([][]float64, error) {
	if len(inputs) != len(n.inputs) {
		return nil, fmt.Errorf("%w: expected %d inputs, got %d", ErrShapeMismatch, len(n.inputs), len(inputs))
	}
	batchSize := inputs[0].Shape[0]
	for i, tensor := range inputs {
		if tensor.Shape[0] != batchSize {
			return nil, fmt.Errorf("%w: input %d has batch size %d, expected %d", ErrShapeMismatch, i, tensor.Shape[0], batchSize)
		}
	}

	outputs := make([][]float64, batchSize)
	for s := 0; s < batchSize; s++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		concat := make([]float64, 0)
		for b, layers := range n.branches {
			a := activation{
				shape: append([]int(nil), inputs[b].Shape[1:]...),
				data:  append([]float64(nil), inputs[b].Sample(s)...),
			}
			for _, l := range layers {
				a = l.forward(a)
			}
			concat = append(concat, a.data...)
		}
		a := activation{shape: []int{len(concat)}, data: concat}
		for _, l := range n.head {
			a = l.forward(a)
		}
		outputs[s] = a.data
	}
	return outputs, nil
}

func loadWeights(dir string, groups []weightGroup) (map[string]weight, error) {
	weights := make(map[string]weight)
	for _, group := range groups {
		var buf bytes.Buffer
		for _, path := range group.Paths {
			shard, err := os.ReadFile(filepath.Join(dir, path))
			if err != nil {
				return nil, fmt.Errorf("read weight shard: %w", err)
			}
			buf.Write(shard)
		}
		reader := bytes.NewReader(buf.Bytes())
		for _, entry := range group.Weights {
			if entry.Dtype != "" && entry.Dtype != "float32" {
				return nil, fmt.Errorf("weight %s: unsupported dtype %s", entry.Name, entry.Dtype)
			}
			size := shapeSize(entry.Shape)
			if size == 0 {
				return nil, fmt.Errorf("weight %s: invalid shape %v", entry.Name, entry.Shape)
			}
			raw := make([]float32, size)
			if err := binary.Read(reader, binary.LittleEndian, raw); err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					return nil, fmt.Errorf("weight %s: shard too short", entry.Name)
				}
				return nil, err
			}
			values := make([]float64, size)
			for i, v := range raw {
				values[i] = float64(v)
			}
			weights[entry.Name] = weight{shape: entry.Shape, values: values}
		}
	}
	return weights, nil
}

// activation is the per-sample value flowing between layers.
type activation struct {
	shape []int
	data  []float64
}

type layer interface {
	outputShape(in []int) ([]int, error)
	forward(a activation) activation
}

func newLayer(spec layerSpec, weights map[string]weight) (layer, error) {
	switch spec.Activation {
	case "", "linear", "relu", "sigmoid", "tanh", "softmax":
	default:
		return nil, fmt.Errorf("unsupported activation %q", spec.Activation)
	}

	switch spec.Type {
	case "dense":
		kernel, bias, err := lookupKernel(spec, weights)
		if err != nil {
			return nil, err
		}
		if len(kernel.shape) != 2 {
			return nil, fmt.Errorf("dense kernel must be 2-D, got %v", kernel.shape)
		}
		if spec.Units != 0 && kernel.shape[1] != spec.Units {
			return nil, fmt.Errorf("dense units %d do not match kernel %v", spec.Units, kernel.shape)
		}
		return &denseLayer{kernel: kernel, bias: bias, activation: spec.Activation}, nil
	case "conv1d":
		kernel, bias, err := lookupKernel(spec, weights)
		if err != nil {
			return nil, err
		}
		if len(kernel.shape) != 3 {
			return nil, fmt.Errorf("conv1d kernel must be 3-D, got %v", kernel.shape)
		}
		return &conv1dLayer{kernel: kernel, bias: bias, activation: spec.Activation}, nil
	case "max_pooling1d":
		if spec.PoolSize <= 0 {
			return nil, errors.New("pool_size must be positive")
		}
		return &maxPool1dLayer{pool: spec.PoolSize}, nil
	case "flatten":
		return flattenLayer{}, nil
	case "dropout":
		return identityLayer{}, nil
	default:
		return nil, fmt.Errorf("unsupported layer type %q", spec.Type)
	}
}

func lookupKernel(spec layerSpec, weights map[string]weight) (weight, []float64, error) {
	kernel, ok := weights[spec.Kernel]
	if !ok {
		return weight{}, nil, fmt.Errorf("missing kernel weight %q", spec.Kernel)
	}
	outDim := kernel.shape[len(kernel.shape)-1]
	if spec.Bias == "" {
		return kernel, make([]float64, outDim), nil
	}
	bias, ok := weights[spec.Bias]
	if !ok {
		return weight{}, nil, fmt.Errorf("missing bias weight %q", spec.Bias)
	}
	if len(bias.values) != outDim {
		return weight{}, nil, fmt.Errorf("bias %q has %d values, expected %d", spec.Bias, len(bias.values), outDim)
	}
	return kernel, bias.values, nil
}

// denseLayer applies a matrix product over the last axis.
type denseLayer struct {
	kernel     weight
	bias       []float64
	activation string
}

func (d *denseLayer) outputShape(in []int) ([]int, error) {
	if len(in) == 0 || in[len(in)-1] != d.kernel.shape[0] {
		return nil, fmt.Errorf("input %v does not match kernel %v", in, d.kernel.shape)
	}
	out := append([]int(nil), in...)
	out[len(out)-1] = d.kernel.shape[1]
	return out, nil
}

func (d *denseLayer) forward(a activation) activation {
	inDim, outDim := d.kernel.shape[0], d.kernel.shape[1]
	rows := len(a.data) / inDim
	out := make([]float64, rows*outDim)
	for r := 0; r < rows; r++ {
		x := a.data[r*inDim : (r+1)*inDim]
		y := out[r*outDim : (r+1)*outDim]
		for j := 0; j < outDim; j++ {
			sum := d.bias[j]
			for i := 0; i < inDim; i++ {
				sum += x[i] * d.kernel.values[i*outDim+j]
			}
			y[j] = sum
		}
		activate(d.activation, y)
	}
	shape := append([]int(nil), a.shape...)
	shape[len(shape)-1] = outDim
	return activation{shape: shape, data: out}
}

// conv1dLayer is a valid-padding, stride-1 convolution over [steps, channels].
type conv1dLayer struct {
	kernel     weight
	bias       []float64
	activation string
}

func (c *conv1dLayer) outputShape(in []int) ([]int, error) {
	size, channels := c.kernel.shape[0], c.kernel.shape[1]
	if len(in) != 2 || in[1] != channels {
		return nil, fmt.Errorf("input %v does not match kernel %v", in, c.kernel.shape)
	}
	if in[0] < size {
		return nil, fmt.Errorf("input length %d shorter than kernel %d", in[0], size)
	}
	return []int{in[0] - size + 1, c.kernel.shape[2]}, nil
}

func (c *conv1dLayer) forward(a activation) activation {
	size, channels, filters := c.kernel.shape[0], c.kernel.shape[1], c.kernel.shape[2]
	steps := a.shape[0] - size + 1
	out := make([]float64, steps*filters)
	for t := 0; t < steps; t++ {
		y := out[t*filters : (t+1)*filters]
		for f := 0; f < filters; f++ {
			sum := c.bias[f]
			for k := 0; k < size; k++ {
				for ch := 0; ch < channels; ch++ {
					sum += a.data[(t+k)*channels+ch] * c.kernel.values[(k*channels+ch)*filters+f]
				}
			}
			y[f] = sum
		}
		activate(c.activation, y)
	}
	return activation{shape: []int{steps, filters}, data: out}
}

type maxPool1dLayer struct {
	pool int
}

func (m *maxPool1dLayer) outputShape(in []int) ([]int, error) {
	if len(in) != 2 {
		return nil, fmt.Errorf("max_pooling1d needs [steps, channels], got %v", in)
	}
	if in[0] < m.pool {
		return nil, fmt.Errorf("input length %d shorter than pool %d", in[0], m.pool)
	}
	return []int{in[0] / m.pool, in[1]}, nil
}

func (m *maxPool1dLayer) forward(a activation) activation {
	channels := a.shape[1]
	steps := a.shape[0] / m.pool
	out := make([]float64, steps*channels)
	for t := 0; t < steps; t++ {
		for ch := 0; ch < channels; ch++ {
			best := math.Inf(-1)
			for k := 0; k < m.pool; k++ {
				if v := a.data[(t*m.pool+k)*channels+ch]; v > best {
					best = v
				}
			}
			out[t*channels+ch] = best
		}
	}
	return activation{shape: []int{steps, channels}, data: out}
}

type flattenLayer struct{}

func (flattenLayer) outputShape(in []int) ([]int, error) {
	return []int{shapeSize(in)}, nil
}

func (flattenLayer) forward(a activation) activation {
	return activation{shape: []int{len(a.data)}, data: a.data}
}

// identityLayer stands in for layers that only act during training.
type identityLayer struct{}

func (identityLayer) outputShape(in []int) ([]int, error) {
	return in, nil
}

func (identityLayer) forward(a activation) activation {
	return a
}

func activate(name string, values []float64) {
	switch name {
	case "relu":
		for i, v := range values {
			if v < 0 {
				values[i] = 0
			}
		}
	case "sigmoid":
		for i, v := range values {
			values[i] = 1 / (1 + math.Exp(-v))
		}
	case "tanh":
		for i, v := range values {
			values[i] = math.Tanh(v)
		}
	case "softmax":
		maxVal := math.Inf(-1)
		for _, v := range values {
			if v > maxVal {
				maxVal = v
			}
		}
		sum := 0.0
		for i, v := range values {
			values[i] = math.Exp(v - maxVal)
			sum += values[i]
		}
		for i := range values {
			values[i] /= sum
		}
	}
}
