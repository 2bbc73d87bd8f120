package command

import (
	"fmt"
	"strconv"

	"github.com/alessio/shellescape"
)

// Binary is the token Render output is prefixed with for display.
const Binary = "ab-av1"

// Value is a rendered option value. Flags render as a bare switch when enabled.
type Value struct {
	text    string
	isFlag  bool
	enabled bool
}

func (v Value) String() string {
	if v.isFlag {
		return strconv.FormatBool(v.enabled)
	}
	return v.text
}

// IsFlag reports whether the value was set from a bool.
func (v Value) IsFlag() bool {
	return v.isFlag
}

// Enabled reports the flag state; always false for non-flag values.
func (v Value) Enabled() bool {
	return v.isFlag && v.enabled
}

// Option is one key/value pair in insertion order.
type Option struct {
	Key   string
	Value Value
}

// Builder accumulates one operation and its options and renders the argv for
// it. Setters never validate; Render does.
type Builder struct {
	operation Operation
	options   []Option
	index     map[string]int

	input     string
	output    string
	reference string
	distorted string
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{}
}

// SetOperation selects the operation to render.
func (b *Builder) SetOperation(op Operation) error {
	if !op.Valid() {
		return &InvalidOperationError{Operation: string(op)}
	}
	b.operation = op
	return nil
}

func (b *Builder) SetInput(path string) *Builder {
	b.input = path
	return b
}

func (b *Builder) SetOutput(path string) *Builder {
	b.output = path
	return b
}

func (b *Builder) SetReference(path string) *Builder {
	b.reference = path
	return b
}

func (b *Builder) SetDistorted(path string) *Builder {
	b.distorted = path
	return b
}

// SetOption stores value under key. A key that is already present keeps its
// position and takes the new value.
func (b *Builder) SetOption(key string, value any) *Builder {
	v := toValue(value)
	if i, ok := b.index[key]; ok {
		b.options[i].Value = v
		return b
	}
	if b.index == nil {
		b.index = make(map[string]int)
	}
	b.index[key] = len(b.options)
	b.options = append(b.options, Option{Key: key, Value: v})
	return b
}

// Unset removes key if present.
func (b *Builder) Unset(key string) *Builder {
	i, ok := b.index[key]
	if !ok {
		return b
	}
	b.options = append(b.options[:i], b.options[i+1:]...)
	delete(b.index, key)
	for k, pos := range b.index {
		if pos > i {
			b.index[k] = pos - 1
		}
	}
	return b
}

func (b *Builder) Preset(preset string) *Builder { return b.SetOption(KeyPreset, preset) }

// CRF sets the quality level.
func (b *Builder) CRF(crf int) *Builder { return b.SetOption(KeyCRF, crf) }

// MinVMAF sets the quality target a search must reach.
func (b *Builder) MinVMAF(vmaf float64) *Builder { return b.SetOption(KeyMinVMAF, vmaf) }

func (b *Builder) MinCRF(crf int) *Builder { return b.SetOption(KeyMinCRF, crf) }

func (b *Builder) MaxCRF(crf int) *Builder { return b.SetOption(KeyMaxCRF, crf) }

// Sample sets the sample duration in seconds.
func (b *Builder) Sample(seconds int) *Builder { return b.SetOption(KeySample, seconds) }

func (b *Builder) Encoder(encoder string) *Builder { return b.SetOption(KeyEncoder, encoder) }

func (b *Builder) PixelFormat(format string) *Builder { return b.SetOption(KeyPixelFormat, format) }

func (b *Builder) FullVMAF(enabled bool) *Builder { return b.SetOption(KeyFullVMAF, enabled) }

func (b *Builder) Verbose(enabled bool) *Builder { return b.SetOption(KeyVerbose, enabled) }

func (b *Builder) MaxEncodedPercent(percent int) *Builder {
	return b.SetOption(KeyMaxEncodedPercent, percent)
}

func (b *Builder) VMAFModel(path string) *Builder { return b.SetOption(KeyVMAFModel, path) }

func (b *Builder) VMAFThreads(threads int) *Builder { return b.SetOption(KeyVMAFThreads, threads) }

func (b *Builder) TempDir(path string) *Builder { return b.SetOption(KeyTempDir, path) }

func (b *Builder) VideoFilter(filter string) *Builder { return b.SetOption(KeyVideoFilter, filter) }

func (b *Builder) Operation() Operation { return b.operation }
func (b *Builder) Input() string        { return b.input }
func (b *Builder) Output() string       { return b.output }
func (b *Builder) Reference() string    { return b.reference }
func (b *Builder) Distorted() string    { return b.distorted }

// Option returns the value stored under key.
func (b *Builder) Option(key string) (Value, bool) {
	i, ok := b.index[key]
	if !ok {
		return Value{}, false
	}
	return b.options[i].Value, true
}

// Has reports whether key has been set.
func (b *Builder) Has(key string) bool {
	_, ok := b.index[key]
	return ok
}

// Options returns a copy of the options in insertion order.
func (b *Builder) Options() []Option {
	out := make([]Option, len(b.options))
	copy(out, b.options)
	return out
}

// Clone returns an independent copy. Changes to either builder never show
// through the other.
func (b *Builder) Clone() *Builder {
	c := *b
	c.options = b.Options()
	if b.index != nil {
		c.index = make(map[string]int, len(b.index))
		for k, v := range b.index {
			c.index[k] = v
		}
	}
	return &c
}

// Reset clears the builder back to its zero state.
func (b *Builder) Reset() *Builder {
	*b = Builder{}
	return b
}

// Validate checks the operation and its required fields in fixed order and
// reports the first one missing.
func (b *Builder) Validate() error {
	if b.operation == "" {
		return &MissingFieldError{Field: FieldOperation}
	}
	for _, field := range b.operation.Required() {
		if !b.present(field) {
			return &MissingFieldError{Operation: b.operation, Field: field}
		}
	}
	return nil
}

func (b *Builder) present(field Field) bool {
	switch field {
	case FieldInput:
		return b.input != ""
	case FieldOutput:
		return b.output != ""
	case FieldReference:
		return b.reference != ""
	case FieldDistorted:
		return b.distorted != ""
	default:
		return b.Has(string(field))
	}
}

// Render returns the ab-av1 arguments, without the binary name.
func (b *Builder) Render() ([]string, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	op := b.operation
	args := []string{string(op)}
	lead := op.leadOptions()

	if op.IsQuality() {
		args = append(args, "--reference", b.reference, "--distorted", b.distorted)
	} else {
		args = append(args, "-i", b.input)
		for _, key := range lead {
			args = appendOption(args, b.options[b.index[key]])
		}
		if op.ProducesArtifact() {
			args = append(args, "-o", b.output)
		}
	}

	for _, opt := range b.options {
		if contains(lead, opt.Key) {
			continue
		}
		args = appendOption(args, opt)
	}
	return args, nil
}

// String renders the command for display, shell-escaped and prefixed with
// the binary name. It returns the validation error text when Render fails.
func (b *Builder) String() string {
	args, err := b.Render()
	if err != nil {
		return err.Error()
	}
	return Quote(append([]string{Binary}, args...))
}

// Quote joins argv into a shell-escaped string for logs and dry runs.
func Quote(argv []string) string {
	return shellescape.QuoteCommand(argv)
}

func appendOption(args []string, opt Option) []string {
	if opt.Value.isFlag {
		if opt.Value.enabled {
			args = append(args, "--"+opt.Key)
		}
		return args
	}
	return append(args, "--"+opt.Key, opt.Value.text)
}

func toValue(value any) Value {
	switch v := value.(type) {
	case bool:
		return Value{isFlag: true, enabled: v}
	case string:
		return Value{text: v}
	case int:
		return Value{text: strconv.Itoa(v)}
	case int64:
		return Value{text: strconv.FormatInt(v, 10)}
	case uint:
		return Value{text: strconv.FormatUint(uint64(v), 10)}
	case float64:
		return Value{text: strconv.FormatFloat(v, 'f', -1, 64)}
	case float32:
		return Value{text: strconv.FormatFloat(float64(v), 'f', -1, 32)}
	case fmt.Stringer:
		return Value{text: v.String()}
	default:
		return Value{text: fmt.Sprint(v)}
	}
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
