//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/imgembed/internal/device"
)

// ONNXEncoder runs a CLIP vision tower exported to ONNX. It requires CGO and
// the onnxruntime shared library. Tensors are created per call, so concurrent
// Encode calls share nothing but the session.
type ONNXEncoder struct {
	session    *ort.DynamicAdvancedSession
	transform  Transform
	dimensions int
	inputName  string
	outputName string
}

// NewONNXEncoder loads the model at opts.ModelPath onto opts.Device. The
// runtime environment is initialized if this is the first encoder.
func NewONNXEncoder(opts ONNXOptions) (*ONNXEncoder, error) {
	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	inputs, outputs, err := ort.GetInputOutputInfo(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model %s: %w", opts.ModelPath, err)
	}
	inputName, err := pickName(opts.InputName, inputs)
	if err != nil {
		return nil, fmt.Errorf("model input: %w", err)
	}
	outputName, err := pickName(opts.OutputName, outputs)
	if err != nil {
		return nil, fmt.Errorf("model output: %w", err)
	}
	if err := checkOutputDims(outputName, outputs, opts.Dimensions); err != nil {
		return nil, err
	}

	sessionOptions, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer sessionOptions.Destroy()

	if opts.Device == device.CUDA {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("failed to create CUDA provider options: %w", err)
		}
		defer cudaOptions.Destroy()
		if err := cudaOptions.Update(map[string]string{"device_id": strconv.Itoa(opts.DeviceID)}); err != nil {
			return nil, fmt.Errorf("failed to configure CUDA provider: %w", err)
		}
		if err := sessionOptions.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return nil, fmt.Errorf("failed to enable CUDA provider: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(
		opts.ModelPath,
		[]string{inputName},
		[]string{outputName},
		sessionOptions,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXEncoder{
		session:    session,
		transform:  opts.Transform,
		dimensions: opts.Dimensions,
		inputName:  inputName,
		outputName: outputName,
	}, nil
}

func pickName(want string, infos []ort.InputOutputInfo) (string, error) {
	if len(infos) == 0 {
		return "", errors.New("model declares none")
	}
	if want == "" {
		return infos[0].Name, nil
	}
	for _, info := range infos {
		if info.Name == want {
			return want, nil
		}
	}
	return "", fmt.Errorf("%q not found (model has %q)", want, infos[0].Name)
}

// checkOutputDims rejects a model whose declared embedding width differs from
// the configured one. Dynamic dimensions (-1) are checked per call instead.
func checkOutputDims(name string, outputs []ort.InputOutputInfo, dims int) error {
	for _, info := range outputs {
		if info.Name != name {
			continue
		}
		shape := info.Dimensions
		if len(shape) == 0 {
			return nil
		}
		last := shape[len(shape)-1]
		if last > 0 && last != int64(dims) {
			return fmt.Errorf("%w: model output %q has width %d, configured dimensions %d",
				ErrShapeMismatch, name, last, dims)
		}
	}
	return nil
}

// Preprocess applies the CLIP transform.
func (e *ONNXEncoder) Preprocess(img image.Image) (*Tensor, error) {
	return e.transform.Apply(img)
}

// Encode runs the vision tower on t. The runtime allocates the output so a
// model with a dynamic embedding width still runs; its length is checked by
// the pipeline. Runtime tensors are destroyed before returning.
func (e *ONNXEncoder) Encode(ctx context.Context, t *Tensor) ([]float32, error) {
	if e.session == nil {
		return nil, errors.New("encoder is closed")
	}
	input, err := ort.NewTensor(ort.NewShape(t.Shape...), t.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.ArbitraryTensor{nil}
	err = e.session.Run([]ort.ArbitraryTensor{input}, outputs)
	if outputs[0] != nil {
		defer outputs[0].Destroy()
	}
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	output, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, inferenceError(KindShapeMismatch,
			fmt.Errorf("output %q is %T, want a float32 tensor", e.outputName, outputs[0]))
	}
	if err := checkBatchShape(output.GetShape()); err != nil {
		return nil, inferenceError(KindShapeMismatch, fmt.Errorf("output %q: %w", e.outputName, err))
	}

	data := output.GetData()
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEncoder) Dimensions() int {
	return e.dimensions
}

// Transform returns the preprocessing the encoder applies.
func (e *ONNXEncoder) Transform() Transform {
	return e.transform
}

// Close destroys the session and the runtime environment.
func (e *ONNXEncoder) Close() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if destroyErr := ort.DestroyEnvironment(); destroyErr != nil && err == nil {
		err = destroyErr
	}
	return err
}
