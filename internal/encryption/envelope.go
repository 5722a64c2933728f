package encryption

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/dotpath"
	mlperrors "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/errors"
)

var envelopeKeys = map[string]bool{
	"algorithm":  true,
	"nonce":      true,
	"ciphertext": true,
	"tag":        true,
	"encoding":   false,
}

// FieldFromValue reports whether v has the envelope shape: a mapping with
// string algorithm, nonce, ciphertext and tag keys, an optional encoding key,
// and nothing else.
func FieldFromValue(v any) (*EncryptedField, bool) {
	m, ok := dotpath.AsMap(v)
	if !ok {
		return nil, false
	}
	strs := make(map[string]string, len(m))
	for k, val := range m {
		if _, known := envelopeKeys[k]; !known {
			return nil, false
		}
		s, ok := val.(string)
		if !ok {
			return nil, false
		}
		strs[k] = s
	}
	for k, required := range envelopeKeys {
		if _, ok := strs[k]; required && !ok {
			return nil, false
		}
	}
	return &EncryptedField{
		Algorithm:  strs["algorithm"],
		Nonce:      strs["nonce"],
		Ciphertext: strs["ciphertext"],
		Tag:        strs["tag"],
		Encoding:   strs["encoding"],
	}, true
}

// FieldFromNode is FieldFromValue for a YAML node.
func FieldFromNode(n *yaml.Node) (*EncryptedField, bool) {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil, false
	}
	var m map[string]any
	if err := n.Decode(&m); err != nil {
		return nil, false
	}
	return FieldFromValue(m)
}

// Node renders the envelope as a YAML mapping node.
func (f *EncryptedField) Node() (*yaml.Node, error) {
	var n yaml.Node
	if err := n.Encode(f); err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return &n, nil
}

// Map renders the envelope as a plain mapping.
func (f *EncryptedField) Map() map[string]any {
	m := map[string]any{
		"algorithm":  f.Algorithm,
		"nonce":      f.Nonce,
		"ciphertext": f.Ciphertext,
		"tag":        f.Tag,
	}
	if f.Encoding != "" {
		m["encoding"] = f.Encoding
	}
	return m
}

// SealValue encrypts any configuration value. Strings are sealed as-is;
// other values are sealed as YAML so they decrypt to the same type.
func SealValue(v any, key *Key) (*EncryptedField, error) {
	if s, ok := v.(string); ok {
		return EncryptValue(s, key)
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, mlperrors.WrapEncryption("encrypt", fmt.Errorf("failed to encode value: %w", err))
	}
	return seal(data, EncodingYAML, key)
}

// OpenValue decrypts field and restores the value it was sealed from.
func OpenValue(field *EncryptedField, key *Key) (any, error) {
	plaintext, err := open(field, key)
	if err != nil {
		return nil, err
	}
	switch field.Encoding {
	case "":
		return string(plaintext), nil
	case EncodingYAML:
		var v any
		if err := yaml.Unmarshal(plaintext, &v); err != nil {
			return nil, mlperrors.Encryptionf("decrypt", "decrypted value is not valid YAML")
		}
		return v, nil
	default:
		return nil, mlperrors.Encryptionf("decrypt", "unsupported encoding %q", field.Encoding)
	}
}

// ContainsEnvelopes reports whether any value in the tree is an envelope.
func ContainsEnvelopes(v any) bool {
	if _, ok := FieldFromValue(v); ok {
		return true
	}
	if m, ok := dotpath.AsMap(v); ok {
		for _, val := range m {
			if ContainsEnvelopes(val) {
				return true
			}
		}
	}
	if l, ok := dotpath.AsList(v); ok {
		for _, val := range l {
			if ContainsEnvelopes(val) {
				return true
			}
		}
	}
	return false
}

// DecryptDocument returns a copy of tree with every envelope replaced by its
// plaintext value. A missing key or a failed decryption is a configuration
// error naming the envelope's dotted path.
func DecryptDocument(tree map[string]any, key *Key) (map[string]any, error) {
	out, err := decryptTree(tree, "", key)
	if err != nil {
		return nil, err
	}
	m, _ := dotpath.AsMap(out)
	return m, nil
}

func decryptTree(v any, path string, key *Key) (any, error) {
	if field, ok := FieldFromValue(v); ok {
		if !key.usable() {
			return nil, mlperrors.Configurationf(path, "field is encrypted but no encryption key was supplied")
		}
		plain, err := OpenValue(field, key)
		if err != nil {
			return nil, mlperrors.WrapConfiguration(path, err)
		}
		return plain, nil
	}
	if m, ok := dotpath.AsMap(v); ok {
		out := make(map[string]any, len(m))
		for k, val := range m {
			dec, err := decryptTree(val, dotpath.Join(path, k), key)
			if err != nil {
				return nil, err
			}
			out[k] = dec
		}
		return out, nil
	}
	if l, ok := dotpath.AsList(v); ok {
		out := make([]any, len(l))
		for i, val := range l {
			dec, err := decryptTree(val, dotpath.Join(path, strconv.Itoa(i)), key)
			if err != nil {
				return nil, err
			}
			out[i] = dec
		}
		return out, nil
	}
	return v, nil
}
