//go:build !cgo

package embedding

import (
	"context"
	"errors"
)

var errONNXUnavailable = errors.New("ONNX provider requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXProvider is a stub when built without CGO (see onnx.go for the real implementation).
type ONNXProvider struct{}

// NewONNXProvider returns an error when built without CGO.
func NewONNXProvider(_ string, _, _ int) (*ONNXProvider, error) {
	return nil, errONNXUnavailable
}

func (e *ONNXProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, errONNXUnavailable
}

func (e *ONNXProvider) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errONNXUnavailable
}

func (e *ONNXProvider) Dimensions() int { return 0 }

func (e *ONNXProvider) Model() string { return "onnx" }

func (e *ONNXProvider) Close() error { return nil }
