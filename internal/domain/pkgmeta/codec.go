package pkgmeta

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
	"howett.net/plist"
)

// Supported metadata formats.
const (
	FormatPlist = "plist"
	FormatYAML  = "yaml"
)

// Base names of the two metadata documents stored at the archive root.
const (
	ManifestDocument   = "files"
	PropertiesDocument = "props"
)

var errUnknownFormat = errors.New("unknown metadata format")

// Codec encodes and decodes metadata documents.
type Codec interface {
	// Format is the format name, also used as the file extension.
	Format() string
	Encode(w io.Writer, v any) error
	Decode(data []byte, v any) error
}

// Formats lists the supported format names.
func Formats() []string {
	return []string{FormatPlist, FormatYAML}
}

// CodecFor returns the codec for a format name.
func CodecFor(format string) (Codec, error) {
	switch format {
	case FormatPlist, "":
		return plistCodec{}, nil
	case FormatYAML:
		return yamlCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownFormat, format)
	}
}

// DocumentName returns the file name of a metadata document, e.g. "files.plist".
func DocumentName(c Codec, document string) string {
	return document + "." + c.Format()
}

type plistCodec struct{}

func (plistCodec) Format() string { return FormatPlist }

func (plistCodec) Encode(w io.Writer, v any) error {
	enc := plist.NewEncoderForFormat(w, plist.XMLFormat)
	enc.Indent("\t")

	return enc.Encode(v)
}

func (plistCodec) Decode(data []byte, v any) error {
	_, err := plist.Unmarshal(data, v)

	return err
}

type yamlCodec struct{}

func (yamlCodec) Format() string { return FormatYAML }

func (yamlCodec) Encode(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(v); err != nil {
		return err
	}

	return enc.Close()
}

func (yamlCodec) Decode(data []byte, v any) error {
	return yaml.Unmarshal(data, v)
}
