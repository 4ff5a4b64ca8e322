package embedding

import "github.com/hyperjump/imgembed/internal/device"

// ONNXOptions configures an ONNXEncoder. Empty input and output names are
// taken from the model's first declared input and output.
type ONNXOptions struct {
	ModelPath   string
	LibraryPath string
	InputName   string
	OutputName  string
	Dimensions  int
	Transform   Transform
	Device      device.Device
	DeviceID    int
}
