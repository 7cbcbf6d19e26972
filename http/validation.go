package http

import (
	"encoding/base64"
	"encoding/json"
	"regexp"

	x402 "github.com/x402labs/x402-go"
)

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// decodeBase64JSON checks the header is well-formed standard base64
// wrapping a JSON document before handing bytes back. Size is capped
// so a hostile header cannot balloon memory.
const maxHeaderBytes = 64 * 1024

func decodeBase64JSON(header string) ([]byte, error) {
	if header == "" {
		return nil, x402.NewError(x402.ErrInvalidPayload, "empty payment header")
	}
	if len(header) > maxHeaderBytes {
		return nil, x402.NewError(x402.ErrInvalidPayload, "payment header exceeds %d bytes", maxHeaderBytes)
	}
	if !base64Pattern.MatchString(header) {
		return nil, x402.NewError(x402.ErrInvalidPayload, "payment header is not valid base64")
	}
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, x402.WrapError(x402.ErrInvalidPayload, err)
	}
	if !json.Valid(raw) {
		return nil, x402.NewError(x402.ErrInvalidPayload, "payment header does not wrap JSON")
	}
	return raw, nil
}

// validatePayloadShape checks the decoded document field by field
// before the typed unmarshal, so error messages name the offending
// field rather than a json.UnmarshalTypeError.
func validatePayloadShape(raw []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return x402.WrapError(x402.ErrInvalidPayload, err)
	}

	versionRaw, ok := doc["x402Version"]
	if !ok {
		return x402.NewError(x402.ErrInvalidPayload, "payload missing x402Version")
	}
	var version int
	if err := json.Unmarshal(versionRaw, &version); err != nil {
		return x402.NewError(x402.ErrInvalidPayload, "x402Version is not an integer")
	}
	if version != x402.ProtocolVersion {
		return x402.NewError(x402.ErrUnsupportedVersion, "payload version %d, want %d", version, x402.ProtocolVersion)
	}

	payloadRaw, ok := doc["payload"]
	if !ok {
		return x402.NewError(x402.ErrInvalidPayload, "payload missing scheme body")
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(payloadRaw, &body); err != nil {
		return x402.NewError(x402.ErrInvalidPayload, "scheme body is not an object")
	}

	acceptedRaw, ok := doc["accepted"]
	if !ok {
		return x402.NewError(x402.ErrInvalidPayload, "payload missing accepted requirements")
	}
	var accepted map[string]json.RawMessage
	if err := json.Unmarshal(acceptedRaw, &accepted); err != nil {
		return x402.NewError(x402.ErrInvalidPayload, "accepted requirements is not an object")
	}
	for _, field := range []string{"scheme", "network", "amount", "payTo"} {
		fieldRaw, ok := accepted[field]
		if !ok {
			return x402.NewError(x402.ErrInvalidPayload, "accepted requirements missing %s", field)
		}
		var s string
		if err := json.Unmarshal(fieldRaw, &s); err != nil || s == "" {
			return x402.NewError(x402.ErrInvalidPayload, "accepted requirements field %s is not a string", field)
		}
	}

	var network x402.Network
	_ = json.Unmarshal(accepted["network"], &network)
	if !network.Valid() || network.IsWildcard() {
		return x402.NewError(x402.ErrInvalidNetwork, "malformed network %q", network)
	}
	return nil
}
