package hwaccel

// Known AV1 encoder ids as ffmpeg lists them.
const (
	EncoderQSV   = "av1_qsv"
	EncoderAMF   = "av1_amf"
	EncoderNVENC = "av1_nvenc"
	EncoderSVT   = "libsvtav1"
	EncoderAOM   = "libaom-av1"
	EncoderRAV1E = "librav1e"
)

// Hardware acceleration methods as reported by `ffmpeg -hwaccels`.
const (
	MethodQSV          = "qsv"
	MethodCUDA         = "cuda"
	MethodVAAPI        = "vaapi"
	MethodVulkan       = "vulkan"
	MethodVDPAU        = "vdpau"
	MethodD3D11VA      = "d3d11va"
	MethodDXVA2        = "dxva2"
	MethodVideoToolbox = "videotoolbox"
	MethodDRM          = "drm"
	MethodOpenCL       = "opencl"
)

var hardwareEncoders = map[string]string{
	EncoderQSV:   "Intel Quick Sync AV1",
	EncoderAMF:   "AMD AMF AV1",
	EncoderNVENC: "NVIDIA NVENC AV1",
}

var softwareEncoders = map[string]string{
	EncoderSVT:   "SVT-AV1",
	EncoderAOM:   "libaom AV1",
	EncoderRAV1E: "rav1e",
}

var knownMethods = map[string]bool{
	MethodQSV: true, MethodCUDA: true, MethodVAAPI: true, MethodVulkan: true,
	MethodVDPAU: true, MethodD3D11VA: true, MethodDXVA2: true,
	MethodVideoToolbox: true, MethodDRM: true, MethodOpenCL: true,
}

// DefaultEncoderPriority prefers hardware, then the fastest software encoder.
var DefaultEncoderPriority = []string{
	EncoderQSV, EncoderAMF, EncoderNVENC, EncoderSVT, EncoderAOM, EncoderRAV1E,
}

// DefaultMethodPriority orders acceleration methods when more than one is present.
var DefaultMethodPriority = []string{MethodQSV, MethodCUDA, MethodVAAPI, MethodVulkan}

// IsKnown reports whether id is one of the AV1 encoders this package ranks.
func IsKnown(id string) bool {
	return IsHardware(id) || IsSoftware(id)
}

// IsHardware reports a GPU/ASIC encoder.
func IsHardware(id string) bool {
	_, ok := hardwareEncoders[id]
	return ok
}

// IsSoftware reports a CPU encoder.
func IsSoftware(id string) bool {
	_, ok := softwareEncoders[id]
	return ok
}

// Label returns a human readable encoder name, or id itself.
func Label(id string) string {
	if l, ok := hardwareEncoders[id]; ok {
		return l
	}
	if l, ok := softwareEncoders[id]; ok {
		return l
	}
	return id
}

// IsKnownMethod reports an acceleration method ffmpeg may list.
func IsKnownMethod(m string) bool {
	return knownMethods[m]
}
