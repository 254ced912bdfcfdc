package types

// InputRole is the logical name of a model input, independent of the tensor
// name a given model exports.
type InputRole string

const (
	InputIDs           InputRole = "ids"
	InputAttentionMask InputRole = "attentionMask"
	InputTokenTypeIDs  InputRole = "tokenTypeIds"
)

// OutputRole is the logical name of a model output.
type OutputRole string

const (
	OutputStartLogits OutputRole = "startLogits"
	OutputEndLogits   OutputRole = "endLogits"
)

// ModelParams describes how to invoke a model: where it lives and which native
// tensor names back each logical role.
type ModelParams struct {
	// Location of the model on disk. Also the default model identifier.
	// example: /models/qa-v1/model.onnx
	Path string `json:"path" yaml:"path" toml:"path" example:"/models/qa-v1/model.onnx"`
	// Logical input role to native input tensor name.
	// example: {"ids":"input_ids","attentionMask":"attention_mask"}
	InputsNames map[InputRole]string `json:"inputs_names" yaml:"inputs_names" toml:"inputs_names"`
	// Logical output role to native output tensor name.
	// example: {"startLogits":"start_logits","endLogits":"end_logits"}
	OutputsNames map[OutputRole]string `json:"outputs_names" yaml:"outputs_names" toml:"outputs_names"`
}

// InputName returns the native tensor name declared for role, if any.
func (p ModelParams) InputName(role InputRole) (string, bool) {
	n, ok := p.InputsNames[role]
	return n, ok && n != ""
}

// OutputName returns the native tensor name declared for role, if any.
func (p ModelParams) OutputName(role OutputRole) (string, bool) {
	n, ok := p.OutputsNames[role]
	return n, ok && n != ""
}

// Clone returns a deep copy so callers cannot mutate params held by a worker.
func (p ModelParams) Clone() ModelParams {
	out := ModelParams{Path: p.Path}
	if p.InputsNames != nil {
		out.InputsNames = make(map[InputRole]string, len(p.InputsNames))
		for k, v := range p.InputsNames {
			out.InputsNames[k] = v
		}
	}
	if p.OutputsNames != nil {
		out.OutputsNames = make(map[OutputRole]string, len(p.OutputsNames))
		for k, v := range p.OutputsNames {
			out.OutputsNames[k] = v
		}
	}
	return out
}

// DefaultModelParams returns params with the tensor names exported by common
// extractive question-answering models.
func DefaultModelParams(path string) ModelParams {
	return ModelParams{
		Path: path,
		InputsNames: map[InputRole]string{
			InputIDs:           "input_ids",
			InputAttentionMask: "attention_mask",
		},
		OutputsNames: map[OutputRole]string{
			OutputStartLogits: "start_logits",
			OutputEndLogits:   "end_logits",
		},
	}
}
