package types

// Model represents a loadable model discovered on disk.
type Model struct {
	// Stable identifier for the model (directory or file name).
	// example: phi3-mini-4k-instruct
	ID string `json:"id" example:"phi3-mini-4k-instruct"`
	// Human-friendly name.
	// example: phi3-mini-4k-instruct
	Name string `json:"name" example:"phi3-mini-4k-instruct"`
	// Absolute path passed to the runtime loader.
	// example: /home/user/models/phi3-mini-4k-instruct
	Path string `json:"path" example:"/home/user/models/phi3-mini-4k-instruct"`
	// Storage format: "onnx-genai" for model folders, "onnx" or "gguf" for single files.
	// example: onnx-genai
	Format string `json:"format" example:"onnx-genai"`
	// Optional family read from genai_config.json (model.type).
	// example: phi3
	Family string `json:"family,omitempty" example:"phi3"`
}
