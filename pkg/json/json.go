package json

import jsoniter "github.com/json-iterator/go"

var (
	// JSON is the jsoniter.API instance used for every wire codec in the
	// system. ConfigCompatibleWithStandardLibrary keeps unknown-field
	// tolerance and standard number handling.
	JSON = jsoniter.ConfigCompatibleWithStandardLibrary

	// Marshal is a shorthand for JSON.Marshal.
	Marshal = JSON.Marshal

	// Unmarshal is a shorthand for JSON.Unmarshal.
	Unmarshal = JSON.Unmarshal

	// NewDecoder is a shorthand for JSON.NewDecoder.
	NewDecoder = JSON.NewDecoder
)
