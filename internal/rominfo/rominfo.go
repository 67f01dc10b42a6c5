package rominfo

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// DefaultTag is the type prefix written in front of every encoded identifier.
const DefaultTag = "!0"

const tagLen = 2

var (
	// ErrDecode reports an identifier or binary record that cannot be turned
	// back into a RomInfo.
	ErrDecode = errors.New("decode rom info")
	// ErrInvalid reports a RomInfo that must not be encoded.
	ErrInvalid = errors.New("invalid rom info")
)

// field numbers of the binary record
const (
	fieldFileName         protowire.Number = 1
	fieldHasMultipleFiles protowire.Number = 2
	fieldMapping          protowire.Number = 3
	fieldRomID            protowire.Number = 4
	fieldMappingID        protowire.Number = 5

	fieldEmulatorID protowire.Number = 1
	fieldProfileID  protowire.Number = 2
	fieldUseM3U     protowire.Number = 3
)

// Mapping points a ROM at the emulator profile that will run it.
type Mapping struct {
	EmulatorID string `json:"emulator_id"`
	ProfileID  string `json:"profile_id"`
	UseM3U     bool   `json:"use_m3u"`
}

// RomInfo is the compact descriptor of one installable ROM variant.
type RomInfo struct {
	RomID            int64    `json:"id"`
	FileName         string   `json:"file_name"`
	HasMultipleFiles bool     `json:"has_multiple_files"`
	MappingID        string   `json:"mapping_id,omitempty"`
	Mapping          *Mapping `json:"mapping,omitempty"`
}

// Validate checks the invariants every descriptor must hold.
func (r *RomInfo) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil descriptor", ErrInvalid)
	}
	if strings.TrimSpace(r.FileName) == "" {
		return fmt.Errorf("%w: empty file name", ErrInvalid)
	}
	return nil
}

// PreferPlaylist reports whether the mapping asks for an m3u playlist.
func (r *RomInfo) PreferPlaylist() bool {
	return r.Mapping != nil && r.Mapping.UseM3U
}

// MarshalBinary encodes the descriptor in protobuf wire format.
func (r *RomInfo) MarshalBinary() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	var b []byte
	b = protowire.AppendTag(b, fieldFileName, protowire.BytesType)
	b = protowire.AppendString(b, r.FileName)
	if r.HasMultipleFiles {
		b = protowire.AppendTag(b, fieldHasMultipleFiles, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if r.Mapping != nil {
		b = protowire.AppendTag(b, fieldMapping, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Mapping.marshal())
	}
	if r.RomID != 0 {
		b = protowire.AppendTag(b, fieldRomID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.RomID))
	}
	if r.MappingID != "" {
		b = protowire.AppendTag(b, fieldMappingID, protowire.BytesType)
		b = protowire.AppendString(b, r.MappingID)
	}
	return b, nil
}

// UnmarshalBinary decodes a protobuf wire record. Unknown fields are skipped.
func (r *RomInfo) UnmarshalBinary(data []byte) error {
	var out RomInfo
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrDecode, protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldFileName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("%w: file name: %v", ErrDecode, protowire.ParseError(n))
			}
			out.FileName = v
			data = data[n:]
		case num == fieldHasMultipleFiles && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("%w: multiple files flag: %v", ErrDecode, protowire.ParseError(n))
			}
			out.HasMultipleFiles = protowire.DecodeBool(v)
			data = data[n:]
		case num == fieldMapping && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("%w: mapping: %v", ErrDecode, protowire.ParseError(n))
			}
			m, err := unmarshalMapping(v)
			if err != nil {
				return err
			}
			out.Mapping = m
			data = data[n:]
		case num == fieldRomID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("%w: rom id: %v", ErrDecode, protowire.ParseError(n))
			}
			out.RomID = int64(v)
			data = data[n:]
		case num == fieldMappingID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("%w: mapping id: %v", ErrDecode, protowire.ParseError(n))
			}
			out.MappingID = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrDecode, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	if out.FileName == "" {
		return fmt.Errorf("%w: empty file name", ErrDecode)
	}
	*r = out
	return nil
}

func (m *Mapping) marshal() []byte {
	var b []byte
	if m.EmulatorID != "" {
		b = protowire.AppendTag(b, fieldEmulatorID, protowire.BytesType)
		b = protowire.AppendString(b, m.EmulatorID)
	}
	if m.ProfileID != "" {
		b = protowire.AppendTag(b, fieldProfileID, protowire.BytesType)
		b = protowire.AppendString(b, m.ProfileID)
	}
	if m.UseM3U {
		b = protowire.AppendTag(b, fieldUseM3U, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	return b
}

func unmarshalMapping(data []byte) (*Mapping, error) {
	m := &Mapping{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: mapping tag: %v", ErrDecode, protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldEmulatorID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: emulator id: %v", ErrDecode, protowire.ParseError(n))
			}
			m.EmulatorID = v
			data = data[n:]
		case num == fieldProfileID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: profile id: %v", ErrDecode, protowire.ParseError(n))
			}
			m.ProfileID = v
			data = data[n:]
		case num == fieldUseM3U && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: use m3u: %v", ErrDecode, protowire.ParseError(n))
			}
			m.UseM3U = protowire.DecodeBool(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: mapping field %d: %v", ErrDecode, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return m, nil
}

// Encode returns the opaque identifier of info using DefaultTag.
func Encode(info *RomInfo) (string, error) {
	return EncodeWithTag(DefaultTag, info)
}

// EncodeWithTag returns tag followed by unpadded base64 of the binary record.
func EncodeWithTag(tag string, info *RomInfo) (string, error) {
	if len(tag) != tagLen {
		return "", fmt.Errorf("%w: type tag %q must be %d chars", ErrInvalid, tag, tagLen)
	}
	data, err := info.MarshalBinary()
	if err != nil {
		return "", err
	}
	return tag + base64.RawStdEncoding.EncodeToString(data), nil
}

// Decode parses an identifier produced by Encode. The first two characters
// are the type tag and are ignored. Padded base64 is accepted too.
func Decode(id string) (*RomInfo, error) {
	if len(id) <= tagLen {
		return nil, fmt.Errorf("%w: identifier too short", ErrDecode)
	}
	payload := id[tagLen:]
	data, err := base64.RawStdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.StdEncoding.DecodeString(payload)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}
	info := &RomInfo{}
	if err := info.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return info, nil
}

// DecodeAll decodes every identifier, failing on the first bad one.
func DecodeAll(ids []string) ([]*RomInfo, error) {
	infos := make([]*RomInfo, 0, len(ids))
	for i, id := range ids {
		info, err := Decode(id)
		if err != nil {
			return nil, fmt.Errorf("variant %d: %w", i, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}
