package ftp

import "time"

// ResponseGroup classifies a Response by its hundreds digit, per RFC 959.
type ResponseGroup int

const (
	// GroupNone is the sentinel group for a Response with no code
	// (nothing has been received yet).
	GroupNone ResponseGroup = iota
	GroupPositivePreliminary
	GroupPositiveCompletion
	GroupPositiveIntermediate
	GroupTransientNegativeCompletion
	GroupPermanentNegativeCompletion
)

func groupForCode(code int) ResponseGroup {
	switch code / 100 {
	case 1:
		return GroupPositivePreliminary
	case 2:
		return GroupPositiveCompletion
	case 3:
		return GroupPositiveIntermediate
	case 4:
		return GroupTransientNegativeCompletion
	case 5:
		return GroupPermanentNegativeCompletion
	default:
		return GroupNone
	}
}

// Request is an FTP command as it was (or is about to be) sent on the
// control channel. PASS arguments are never carried in the clear: Redacted
// is set and Arguments is replaced with a placeholder before the Request is
// handed to observers or the logger.
type Request struct {
	Verb      string
	Arguments []string
	Redacted  bool
}

// SecurityProtocol selects the TLS posture of the control channel.
type SecurityProtocol int

const (
	SecurityNone SecurityProtocol = iota
	SecuritySsl2Explicit
	SecuritySsl3Explicit
	SecurityTls1Explicit
	SecurityTls1OrSsl3Explicit
	SecuritySsl2Implicit
	SecuritySsl3Implicit
	SecurityTls1Implicit
	SecurityTls1OrSsl3Implicit
	SecurityTls11Explicit
	SecurityTls11Implicit
	SecurityTls12Explicit
	SecurityTls12Implicit
)

// IsImplicit reports whether the protocol performs the TLS handshake
// immediately on socket open, before any FTP bytes are exchanged.
func (s SecurityProtocol) IsImplicit() bool {
	switch s {
	case SecuritySsl2Implicit, SecuritySsl3Implicit, SecurityTls1Implicit,
		SecurityTls1OrSsl3Implicit, SecurityTls11Implicit, SecurityTls12Implicit:
		return true
	default:
		return false
	}
}

// IsExplicit reports whether the protocol upgrades an initially-cleartext
// connection via AUTH after the greeting.
func (s SecurityProtocol) IsExplicit() bool {
	return s != SecurityNone && !s.IsImplicit()
}

// TransferMode selects how the data channel is established.
type TransferMode int

const (
	ModeExtendedPassive TransferMode = iota
	ModePassive
	ModeActive
)

// DataType is the FTP TYPE in effect for a transfer.
type DataType int

const (
	TypeASCII DataType = iota
	TypeBinary
	TypeEBCDIC
)

func (t DataType) wireCode() string {
	switch t {
	case TypeASCII:
		return "A"
	case TypeEBCDIC:
		return "E"
	default:
		return "I"
	}
}

// CompressionState tracks whether MODE Z compression is active on the data
// channel.
type CompressionState int

const (
	CompressionOff CompressionState = iota
	CompressionZlib
)

// EntryKind is the normalized file-type classification shared by all three
// listing parsers.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDir
	KindSymlink
	KindOther
)

// ListingFormat records which parser produced a DirectoryEntry.
type ListingFormat int

const (
	FormatUnix ListingFormat = iota
	FormatDOS
	FormatMLSx
)

// DirectoryEntry is a single parsed line from LIST, NLST, MLSD, or MLST.
// The three wire formats are represented as one tagged struct (Format
// discriminates) rather than three Go types joined by an interface, since
// callers almost always want to treat entries uniformly regardless of
// which listing style produced them; Facts is populated only for MLSx
// entries.
type DirectoryEntry struct {
	Format ListingFormat
	Name   string
	Parent string

	Size       *int64
	ModifiedAt *time.Time
	Kind       EntryKind

	// LinkTarget is set for UNIX symlinks parsed from "name -> target".
	LinkTarget string

	// Facts holds the raw fact map for MLSx entries (fact name lowercased,
	// value verbatim). Nil for Unix/DOS entries.
	Facts map[string]string

	Raw string
}

// FeatureSet is the parsed result of a FEAT response: feature name (always
// upper-cased) to its raw argument list, split on whitespace or ';'.
type FeatureSet map[string][]string

// Has reports whether the named feature was advertised.
func (f FeatureSet) Has(name string) bool {
	_, ok := f[normalizeFeatureName(name)]
	return ok
}

// TransferProgress is emitted at every chunk boundary of a transfer.
type TransferProgress struct {
	BytesInLastChunk int64
	TotalBytes       int64

	// TransferSize is the expected total size, or -1 if unknown.
	TransferSize int64

	BytesPerSecond float64
	Elapsed        time.Duration

	// PercentComplete is nil unless TransferSize >= 0.
	PercentComplete *float64

	// Note records caveats about the figures above, e.g. that
	// PercentComplete is computed against the uncompressed size while
	// MODE Z is active and may drift from the wire byte count.
	Note string
}

// BytesRemaining returns max(0, TransferSize - TotalBytes), or 0 if the
// size is unknown.
func (p TransferProgress) BytesRemaining() int64 {
	if p.TransferSize < 0 {
		return 0
	}
	remaining := p.TransferSize - p.TotalBytes
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TransferAction selects the semantics of a Put call.
type TransferAction int

const (
	ActionCreate TransferAction = iota
	ActionCreateNew
	ActionCreateOrAppend
	ActionResume
	ActionResumeOrCreate
)
