/*
NAME
  psi.go

DESCRIPTION
  See Readme.md

AUTHOR
  Saxon Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved. 

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/


// Package psi provides encoding of MPEG-TS program specific information:
// PAT, PMT and SDT. Decoding of incoming sections is performed by package
// table; this package is concerned with building and serialising tables,
// which changer.PIDChanger and mux.MPTSToSPTS use to encode each rewritten
// table afresh.
package psi

// PacketSize of psi (without MPEG-TS header)
const PacketSize = 184

// Lengths of section definitions.
const (
	ESSDataLen = 5
	DescDefLen = 2
	PMTDefLen  = 4
	PATLen     = 4
	TSSDefLen  = 5
	PSIDefLen  = 3
)

// Table Type IDs.
const sdtID = 0x42

// MaxVersion is the modulus of the PSI version_number field (5 bits).
const MaxVersion = 32

// CRC hassh Size
const crcSize = 4

// NewPATPSI will provide a standard program specific information (PSI) table
// with a program association table (PAT) specific data field, carrying a
// single program entry.
func NewPATPSI() *PSI {
	return &PSI{
		PointerField:    0x00,
		TableID:         0x00,
		SyntaxIndicator: true,
		PrivateBit:      false,
		SectionLen:      0x0d,
		SyntaxSection: &SyntaxSection{
			TableIDExt:  0x01,
			Version:     0,
			CurrentNext: true,
			Section:     0,
			LastSection: 0,
			SpecificData: &PAT{
				Programs: []*ProgramAssociation{
					{Program: 0x01, ProgramMapPID: 0x1000},
				},
			},
		},
	}
}

// NewPMTPSI will provide a standard program specific information (PSI) table
// with a program mapping table specific data field.
// NOTE: Media PID and stream ID are default to 0.
func NewPMTPSI() *PSI {
	return &PSI{
		PointerField:    0x00,
		TableID:         0x02,
		SyntaxIndicator: true,
		SectionLen:      0x12,
		SyntaxSection: &SyntaxSection{
			TableIDExt:  0x01,
			Version:     0,
			CurrentNext: true,
			Section:     0,
			LastSection: 0,
			SpecificData: &PMT{
				ProgramClockPID: 0x0100,
				ProgramInfoLen:  0,
				Streams: []*StreamSpecificData{
					{
						StreamType:    0,
						PID:           0,
						StreamInfoLen: 0x00,
					},
				},
			},
		},
	}
}

// NewSDTPSI provides a standard program specific information (PSI) table
// with a service description table (SDT) specific data field, carrying a
// single service.
func NewSDTPSI() *PSI {
	return &PSI{
		PointerField:    0x00,
		TableID:         sdtID,
		SyntaxIndicator: true,
		SyntaxSection: &SyntaxSection{
			TableIDExt:  0x01,
			Version:     0,
			CurrentNext: true,
			Section:     0,
			LastSection: 0,
			SpecificData: &SDT{
				Services: []*Service{{ServiceID: 0x01}},
			},
		},
	}
}

// BumpVersion advances a table's version_number, wrapping modulo
// MaxVersion, the way every PSI table rewrite (PID substitution, service
// filtering) must signal that the section body changed (spec.md §4.5/§4.8
// invariant that a rewritten table always carries a new version).
func (t *SyntaxSection) BumpVersion() {
	t.Version = (t.Version + 1) % MaxVersion
}

// Program specific information
type PSI struct {
	PointerField    byte           // Point field
	PointerFill     []byte         // Pointer filler bytes
	TableID         byte           // Table ID
	SyntaxIndicator bool           // Section syntax indicator (1 for PAT, PMT, CAT)
	PrivateBit      bool           // Private bit (0 for PAT, PMT, CAT)
	SectionLen      uint16         // Section length
	SyntaxSection   *SyntaxSection // Table syntax section (length defined by SectionLen) if length 0 then nil
	CRC             uint32         // crc32 of entire table excluding pointer field, pointer filler bytes and the trailing CRC32
}

// Table syntax section
type SyntaxSection struct {
	TableIDExt   uint16       // Table ID extension
	Version      byte         // Version number
	CurrentNext  bool         // Current/next indicator
	Section      byte         // Section number
	LastSection  byte         // Last section number
	SpecificData SpecificData // Specific data PAT/PMT
}

// Specific Data, (could be PAT or PMT)
type SpecificData interface {
	Bytes() []byte
}

// ProgramAssociation is a single program_number -> program_map_PID entry in
// a PAT's program loop.
type ProgramAssociation struct {
	Program       uint16 // Program Number
	ProgramMapPID uint16 // Program map PID
}

// Program association table, implements SpecificData. Carries one entry
// per program referenced by the table, mirroring how PMT.Streams and
// SDT.Services already generalise to a list rather than a single field.
type PAT struct {
	Programs []*ProgramAssociation
}

// Program mapping table, implements SpecificData
type PMT struct {
	ProgramClockPID uint16              // Program clock reference PID.
	ProgramInfoLen  uint16              // Program info length.
	Descriptors     []Descriptor        // Number of Program descriptors.
	Streams         []*StreamSpecificData // One entry per elementary stream carried by the program.
}

// Service, one entry of an SDT.
type Service struct {
	ServiceID           uint16 // Service id (matches a PAT program number).
	EITScheduleFlag      bool
	EITPresentFollowingFlag bool
	RunningStatus        byte
	FreeCAMode           bool
	DescriptorsLoopLen   uint16
	ServiceType          byte   // Carried in a 0x48 service descriptor.
	ServiceName          string // Carried in a 0x48 service descriptor.
	ProviderName         string // Carried in a 0x48 service descriptor.
}

// Service description table, implements SpecificData.
type SDT struct {
	OriginalNetworkID uint16
	Reserved          byte
	Services          []*Service
}

// Elementary stream specific data
type StreamSpecificData struct {
	StreamType    byte         // Stream type.
	PID           uint16       // Elementary PID.
	StreamInfoLen uint16       // Elementary stream info length.
	Descriptors   []Descriptor // Elementary stream desriptors
}

// Descriptor
type Descriptor struct {
	Tag  byte   // Descriptor tag
	Len  byte   // Descriptor length
	Data []byte // Descriptor data
}

// Bytes outputs a byte slice representation of the PSI
func (p *PSI) Bytes() []byte {
	out := make([]byte, 4)
	out[0] = p.PointerField
	if p.PointerField != 0 {
		panic("No support for pointer filler bytes")
	}
	out[1] = p.TableID

	// section_length covers everything from TableIDExt through the
	// trailing CRC32, so recompute it from the actual syntax section
	// length rather than trusting a caller-maintained field -- required
	// once a PMT/SDT can carry a variable number of streams/services.
	syntax := p.SyntaxSection.Bytes()
	p.SectionLen = uint16(len(syntax) + crcSize)

	out[2] = 0x80 | 0x30 | (0x03 & byte(p.SectionLen>>8))
	out[3] = byte(p.SectionLen)
	out = append(out, syntax...)
	out = AddCRC(out)
	return out
}

// Bytes outputs a byte slice representation of the SyntaxSection
func (t *SyntaxSection) Bytes() []byte {
	out := make([]byte, TSSDefLen)
	out[0] = byte(t.TableIDExt >> 8)
	out[1] = byte(t.TableIDExt)
	out[2] = 0xc0 | (0x3e & (t.Version << 1)) | (0x01 & asByte(t.CurrentNext))
	out[3] = t.Section
	out[4] = t.LastSection
	out = append(out, t.SpecificData.Bytes()...)
	return out
}

// Bytes outputs a byte slice representation of the PAT: one PATLen-byte
// entry per program, in Programs order.
func (p *PAT) Bytes() []byte {
	out := make([]byte, 0, PATLen*len(p.Programs))
	for _, prog := range p.Programs {
		entry := make([]byte, PATLen)
		entry[0] = byte(prog.Program >> 8)
		entry[1] = byte(prog.Program)
		entry[2] = 0xe0 | (0x1f & byte(prog.ProgramMapPID>>8))
		entry[3] = byte(prog.ProgramMapPID)
		out = append(out, entry...)
	}
	return out
}

// Bytes outputs a byte slice representation of the PMT
func (p *PMT) Bytes() []byte {
	out := make([]byte, PMTDefLen)
	out[0] = 0xe0 | (0x1f & byte(p.ProgramClockPID>>8)) // byte 10
	out[1] = byte(p.ProgramClockPID)
	out[2] = 0xf0 | (0x03 & byte(p.ProgramInfoLen>>8))
	out[3] = byte(p.ProgramInfoLen)
	for _, d := range p.Descriptors {
		out = append(out, d.Bytes()...)
	}
	for _, s := range p.Streams {
		out = append(out, s.Bytes()...)
	}
	return out
}

// Bytes outputs a byte slice representation of the SDT specific data.
// Only the single service descriptor (tag 0x48, service type/name/provider)
// is emitted per service, matching what mux.MPTSToSPTS needs to rewrite.
func (s *SDT) Bytes() []byte {
	out := make([]byte, 3)
	out[0] = byte(s.OriginalNetworkID >> 8)
	out[1] = byte(s.OriginalNetworkID)
	out[2] = s.Reserved
	for _, svc := range s.Services {
		out = append(out, svc.Bytes()...)
	}
	return out
}

// Bytes outputs a byte slice representation of a single SDT service loop
// entry, including its embedded service descriptor.
func (s *Service) Bytes() []byte {
	desc := []byte{
		0x48, // service descriptor tag
		0x00, // length, filled below
		s.ServiceType,
		byte(len(s.ProviderName)),
	}
	desc = append(desc, []byte(s.ProviderName)...)
	desc = append(desc, byte(len(s.ServiceName)))
	desc = append(desc, []byte(s.ServiceName)...)
	desc[1] = byte(len(desc) - 2)

	out := make([]byte, 5)
	out[0] = byte(s.ServiceID >> 8)
	out[1] = byte(s.ServiceID)
	out[2] = 0xfc | (0x02 & (asByte(s.EITScheduleFlag) << 1)) | (0x01 & asByte(s.EITPresentFollowingFlag))
	descLoopLen := len(desc)
	out[3] = (s.RunningStatus << 5) | (asByte(s.FreeCAMode) << 4) | (0x0f & byte(descLoopLen>>8))
	out[4] = byte(descLoopLen)
	out = append(out, desc...)
	return out
}

// Bytes outputs a byte slice representation of the Desc
func (d *Descriptor) Bytes() []byte {
	out := make([]byte, DescDefLen)
	out[0] = d.Tag
	out[1] = d.Len
	out = append(out, d.Data...)
	return out
}

// Bytes outputs a byte slice representation of the StreamSpecificData
func (e *StreamSpecificData) Bytes() []byte {
	out := make([]byte, ESSDataLen)
	out[0] = e.StreamType
	out[1] = 0xe0 | (0x1f & byte(e.PID>>8))
	out[2] = byte(e.PID)
	out[3] = 0xf0 | (0x03 & byte(e.StreamInfoLen>>8))
	out[4] = byte(e.StreamInfoLen)
	for _, d := range e.Descriptors {
		out = append(out, d.Bytes()...)
	}
	return out
}

func asByte(b bool) byte {
	if b {
		return 0x01
	}
	return 0x00
}

