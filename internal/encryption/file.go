package encryption

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/dotpath"
	mlperrors "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/errors"
)

const encryptedFileMode = 0o600

// EncryptConfigFile replaces the leaves at the given absolute dotted paths
// (for example "defaults.iam.execution_role") with envelopes and writes the
// result to out. Absent paths are skipped. Leaves that are already envelopes
// are re-sealed with a fresh nonce.
func EncryptConfigFile(in, out string, paths []string, key *Key) error {
	if !key.usable() {
		return mlperrors.Encryptionf("encrypt", "no encryption key available")
	}
	return rewriteFile(in, out, func(root *yaml.Node) error {
		for _, p := range paths {
			if err := rewriteLeaf(root, p, func(leaf *yaml.Node) (*yaml.Node, error) {
				n, err := encryptNode(leaf, key)
				if err != nil {
					return nil, &mlperrors.Error{Kind: mlperrors.ErrEncryption, Op: "encrypt", Path: p, Err: err}
				}
				return n, nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// DecryptConfigFile restores the envelopes at the given paths, or every
// envelope in the document when paths is empty. Plaintext leaves are left
// unchanged.
func DecryptConfigFile(in, out string, paths []string, key *Key) error {
	if !key.usable() {
		return mlperrors.Encryptionf("decrypt", "no decryption key available")
	}
	return rewriteFile(in, out, func(root *yaml.Node) error {
		if len(paths) == 0 {
			return decryptAll(root, "", key)
		}
		for _, p := range paths {
			if err := rewriteLeaf(root, p, func(leaf *yaml.Node) (*yaml.Node, error) {
				return decryptNode(leaf, p, key)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func rewriteFile(in, out string, rewrite func(root *yaml.Node) error) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return mlperrors.WrapConfiguration(in, fmt.Errorf("failed to read config file: %w", err))
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return mlperrors.WrapConfiguration(in, fmt.Errorf("failed to parse config file: %w", err))
	}

	if len(doc.Content) > 0 {
		root := doc.Content[0]
		if root.Kind != yaml.MappingNode {
			return mlperrors.Configurationf(in, "config document must be a mapping")
		}
		if err := rewrite(root); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	if len(doc.Content) > 0 {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(&doc); err != nil {
			return mlperrors.WrapConfiguration(out, fmt.Errorf("failed to encode config file: %w", err))
		}
		if err := enc.Close(); err != nil {
			return mlperrors.WrapConfiguration(out, fmt.Errorf("failed to encode config file: %w", err))
		}
	}
	return writeFileAtomic(out, buf.Bytes())
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".mlpsdk-*.yaml")
	if err != nil {
		return mlperrors.WrapConfiguration(path, fmt.Errorf("failed to create temp file: %w", err))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return mlperrors.WrapConfiguration(path, fmt.Errorf("failed to write config file: %w", err))
	}
	if err := tmp.Chmod(encryptedFileMode); err != nil {
		tmp.Close()
		return mlperrors.WrapConfiguration(path, fmt.Errorf("failed to set file mode: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return mlperrors.WrapConfiguration(path, fmt.Errorf("failed to write config file: %w", err))
	}
	if err := os.Rename(tmpName, path); err != nil {
		return mlperrors.WrapConfiguration(path, fmt.Errorf("failed to replace config file: %w", err))
	}
	return nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}

func mappingValue(m *yaml.Node, key string) (int, *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return i + 1, m.Content[i+1]
		}
	}
	return -1, nil
}

// rewriteLeaf replaces the node at path with fn's result. Absent segments are
// skipped; a segment below a non-mapping is a configuration error.
func rewriteLeaf(root *yaml.Node, path string, fn func(leaf *yaml.Node) (*yaml.Node, error)) error {
	segments, err := dotpath.Split(path)
	if err != nil {
		return mlperrors.WrapConfiguration(path, err)
	}

	cur := root
	for i, seg := range segments {
		if cur.Kind == yaml.AliasNode && cur.Alias != nil {
			cur = cur.Alias
		}
		if cur.Kind != yaml.MappingNode {
			return mlperrors.Configurationf(path, "%s is not a mapping", dotpath.Join(segments[:i]...))
		}
		idx, next := mappingValue(cur, seg)
		if next == nil {
			return nil
		}
		if i == len(segments)-1 {
			replacement, err := fn(next)
			if err != nil {
				return err
			}
			if replacement != next {
				replacement.HeadComment = next.HeadComment
				replacement.LineComment = next.LineComment
				replacement.FootComment = next.FootComment
				cur.Content[idx] = replacement
			}
			return nil
		}
		if isNull(next) {
			return nil
		}
		cur = next
	}
	return nil
}

func encryptNode(leaf *yaml.Node, key *Key) (*yaml.Node, error) {
	var (
		field *EncryptedField
		err   error
	)
	if existing, ok := FieldFromNode(leaf); ok {
		plaintext, openErr := open(existing, key)
		if openErr != nil {
			return nil, openErr
		}
		field, err = seal(plaintext, existing.Encoding, key)
	} else if leaf.Kind == yaml.ScalarNode && leaf.ShortTag() == "!!str" {
		field, err = EncryptValue(leaf.Value, key)
	} else {
		var data []byte
		data, err = yaml.Marshal(leaf)
		if err != nil {
			return nil, mlperrors.WrapEncryption("encrypt", fmt.Errorf("failed to encode value: %w", err))
		}
		field, err = seal(data, EncodingYAML, key)
	}
	if err != nil {
		return nil, err
	}
	n, err := field.Node()
	if err != nil {
		return nil, mlperrors.WrapEncryption("encrypt", err)
	}
	return n, nil
}

func decryptNode(leaf *yaml.Node, path string, key *Key) (*yaml.Node, error) {
	field, ok := FieldFromNode(leaf)
	if !ok {
		return leaf, nil
	}
	plaintext, err := open(field, key)
	if err != nil {
		return nil, &mlperrors.Error{Kind: mlperrors.ErrEncryption, Op: "decrypt", Path: path, Err: err}
	}
	switch field.Encoding {
	case "":
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(plaintext)}, nil
	case EncodingYAML:
		var doc yaml.Node
		if err := yaml.Unmarshal(plaintext, &doc); err != nil || len(doc.Content) == 0 {
			return nil, &mlperrors.Error{Kind: mlperrors.ErrEncryption, Op: "decrypt", Path: path, Err: fmt.Errorf("decrypted value is not valid YAML")}
		}
		return doc.Content[0], nil
	default:
		return nil, &mlperrors.Error{Kind: mlperrors.ErrEncryption, Op: "decrypt", Path: path, Err: fmt.Errorf("unsupported encoding %q", field.Encoding)}
	}
}

func decryptAll(n *yaml.Node, path string, key *Key) error {
	switch n.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			child := n.Content[i+1]
			childPath := dotpath.Join(path, n.Content[i].Value)
			if _, ok := FieldFromNode(child); ok {
				replacement, err := decryptNode(child, childPath, key)
				if err != nil {
					return err
				}
				replacement.HeadComment = child.HeadComment
				replacement.LineComment = child.LineComment
				replacement.FootComment = child.FootComment
				n.Content[i+1] = replacement
				continue
			}
			if err := decryptAll(child, childPath, key); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		for i, child := range n.Content {
			childPath := dotpath.Join(path, fmt.Sprint(i))
			if _, ok := FieldFromNode(child); ok {
				replacement, err := decryptNode(child, childPath, key)
				if err != nil {
					return err
				}
				n.Content[i] = replacement
				continue
			}
			if err := decryptAll(child, childPath, key); err != nil {
				return err
			}
		}
	}
	return nil
}
