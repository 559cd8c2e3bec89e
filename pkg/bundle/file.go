package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Layr-Labs/eigenx-settlement-go/pkg/types"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks the file format from the extension; anything but .yaml/.yml is JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// LeafFile is the on-disk form of a leaf set.
type LeafFile struct {
	Leaves []*types.LeafEnvelope `json:"leaves"`
}

// LoadLeaves reads a leaf file from disk.
func LoadLeaves(path string) ([]types.Leaf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read leaf file: %w", err)
	}
	return ParseLeaves(data, FormatForPath(path))
}

// ParseLeaves decodes a leaf file. YAML documents are converted to JSON first so both formats
// share the JSON field names of the leaf types.
func ParseLeaves(data []byte, format Format) ([]types.Leaf, error) {
	var file LeafFile
	if err := decode(data, format, &file); err != nil {
		return nil, err
	}
	if len(file.Leaves) == 0 {
		return nil, fmt.Errorf("leaf file contains no leaves")
	}

	leaves := make([]types.Leaf, len(file.Leaves))
	for i, env := range file.Leaves {
		leaf, err := env.Leaf()
		if err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
		leaves[i] = leaf
	}
	return leaves, nil
}

// WriteLeaves encodes leaves as a leaf file.
func WriteLeaves(w io.Writer, leaves []types.Leaf, format Format) error {
	file := LeafFile{Leaves: make([]*types.LeafEnvelope, len(leaves))}
	for i, leaf := range leaves {
		env, err := types.WrapLeaf(leaf)
		if err != nil {
			return err
		}
		file.Leaves[i] = env
	}
	return encode(w, file, format)
}

// WriteManifest encodes a manifest.
func WriteManifest(w io.Writer, m *Manifest, format Format) error {
	return encode(w, m, format)
}

// LoadManifest reads a manifest written by WriteManifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := decode(data, FormatForPath(path), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func decode(data []byte, format Format, v any) error {
	if format == FormatYAML {
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse yaml: %w", err)
		}
		converted, err := yamlToJSON(&doc)
		if err != nil {
			return err
		}
		data = converted
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", format, err)
	}
	return nil
}

func encode(w io.Writer, v any, format Format) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if format != FormatYAML {
		_, err = w.Write(append(data, '\n'))
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	node, err := jsonToYAML(dec)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return err
	}
	return enc.Close()
}

// yamlToJSON renders a YAML document as JSON. Integers keep full precision so amounts beyond
// 64 bits survive. Hex scalars such as addresses and hashes become strings even when YAML
// resolves them as integers.
func yamlToJSON(node *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeYAMLAsJSON(&buf, node); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeYAMLAsJSON(buf *bytes.Buffer, node *yaml.Node) error {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeYAMLAsJSON(buf, node.Content[0])
	case yaml.AliasNode:
		return writeYAMLAsJSON(buf, node.Alias)
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(node.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(node.Content[i].Value)
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeYAMLAsJSON(buf, node.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, child := range node.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeYAMLAsJSON(buf, child); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case yaml.ScalarNode:
		return writeScalarAsJSON(buf, node)
	default:
		return fmt.Errorf("unsupported yaml node kind %d at line %d", node.Kind, node.Line)
	}
}

func writeScalarAsJSON(buf *bytes.Buffer, node *yaml.Node) error {
	switch node.ShortTag() {
	case "!!null":
		buf.WriteString("null")
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		if b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case "!!int":
		v := strings.ReplaceAll(node.Value, "_", "")
		if strings.HasPrefix(strings.ToLower(strings.TrimPrefix(v, "-")), "0x") {
			s, _ := json.Marshal(node.Value)
			buf.Write(s)
			return nil
		}
		n, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return fmt.Errorf("invalid integer %q at line %d", node.Value, node.Line)
		}
		buf.WriteString(n.String())
	case "!!float":
		if !json.Valid([]byte(node.Value)) {
			return fmt.Errorf("invalid number %q at line %d", node.Value, node.Line)
		}
		buf.WriteString(node.Value)
	default:
		s, _ := json.Marshal(node.Value)
		buf.Write(s)
	}
	return nil
}

// jsonToYAML builds a YAML node tree from a JSON token stream, keeping numbers verbatim.
func jsonToYAML(dec *json.Decoder) (*yaml.Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", keyTok)
				}
				value, err := jsonToYAML(dec)
				if err != nil {
					return nil, err
				}
				node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, value)
			}
			_, err := dec.Token()
			return node, err
		case '[':
			node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
			for dec.More() {
				value, err := jsonToYAML(dec)
				if err != nil {
					return nil, err
				}
				node.Content = append(node.Content, value)
			}
			_, err := dec.Token()
			return node, err
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case json.Number:
		tag := "!!int"
		if strings.ContainsAny(t.String(), ".eE") {
			tag = "!!float"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: t.String()}, nil
	case string:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: t}, nil
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: fmt.Sprintf("%t", t)}, nil
	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	default:
		return nil, fmt.Errorf("unexpected json token %v", tok)
	}
}
