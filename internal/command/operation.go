package command

import (
	"strings"
)

// Operation is one of the fixed ab-av1 subcommands the builder knows how to shape.
type Operation string

const (
	AutoEncode   Operation = "auto-encode"
	CRFSearch    Operation = "crf-search"
	SampleEncode Operation = "sample-encode"
	Encode       Operation = "encode"
	VMAF         Operation = "vmaf"
	XPSNR        Operation = "xpsnr"
)

var operations = []Operation{AutoEncode, CRFSearch, SampleEncode, Encode, VMAF, XPSNR}

// Field names a value an operation may require. Option-backed fields share
// their name with the option key.
type Field string

const (
	FieldOperation Field = "operation"
	FieldInput     Field = "input"
	FieldOutput    Field = "output"
	FieldReference Field = "reference"
	FieldDistorted Field = "distorted"
	FieldPreset    Field = Field(KeyPreset)
	FieldCRF       Field = Field(KeyCRF)
	FieldMinVMAF   Field = Field(KeyMinVMAF)
)

// Option keys understood by ab-av1.
const (
	KeyPreset            = "preset"
	KeyCRF               = "crf"
	KeyMinVMAF           = "min-vmaf"
	KeyMinCRF            = "min-crf"
	KeyMaxCRF            = "max-crf"
	KeySample            = "sample"
	KeyEncoder           = "encoder"
	KeyPixelFormat       = "pix-fmt"
	KeyFullVMAF          = "full-vmaf"
	KeyVerbose           = "verbose"
	KeyMaxEncodedPercent = "max-encoded-percent"
	KeyVMAFModel         = "vmaf-model"
	KeyVMAFThreads       = "vmaf-threads"
	KeyTempDir           = "temp-dir"
	KeyVideoFilter       = "vfilter"
)

// Operations returns the fixed operation set in declaration order.
func Operations() []Operation {
	out := make([]Operation, len(operations))
	copy(out, operations)
	return out
}

// ParseOperation resolves a user supplied name. The "quality-" prefix is
// accepted for the metric operations.
func ParseOperation(name string) (Operation, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.TrimPrefix(normalized, "quality-")
	op := Operation(normalized)
	if !op.Valid() {
		return "", &InvalidOperationError{Operation: name}
	}
	return op, nil
}

// Valid reports whether op belongs to the fixed set.
func (op Operation) Valid() bool {
	for _, candidate := range operations {
		if op == candidate {
			return true
		}
	}
	return false
}

// IsQuality reports whether op compares a reference against a distorted file.
func (op Operation) IsQuality() bool {
	return op == VMAF || op == XPSNR
}

// ProducesArtifact reports whether op leaves an encoded file behind.
func (op Operation) ProducesArtifact() bool {
	switch op {
	case AutoEncode, SampleEncode, Encode:
		return true
	default:
		return false
	}
}

// Required lists the fields op needs, in the order Validate checks them.
func (op Operation) Required() []Field {
	switch op {
	case AutoEncode, CRFSearch:
		return []Field{FieldInput, FieldOutput, FieldPreset, FieldMinVMAF}
	case SampleEncode, Encode:
		return []Field{FieldInput, FieldOutput, FieldPreset, FieldCRF}
	case VMAF, XPSNR:
		return []Field{FieldReference, FieldDistorted}
	default:
		return nil
	}
}

// leadOptions are rendered right after the input, ahead of the output flag.
func (op Operation) leadOptions() []string {
	switch op {
	case SampleEncode, Encode:
		return []string{KeyCRF, KeyPreset}
	case AutoEncode, CRFSearch:
		return []string{KeyPreset, KeyMinVMAF}
	default:
		return nil
	}
}

func (op Operation) String() string {
	return string(op)
}
