package alignlib

// ReadType says whether fragments are single reads or read pairs.
type ReadType uint8

const (
	SingleEnd ReadType = iota
	PairedEnd
)

// Orientation is the expected relative orientation of a read pair.
type Orientation uint8

const (
	OrientationNone Orientation = iota
	OrientationInward
	OrientationOutward
	OrientationSame
)

// Strandedness is the strand-of-origin protocol of the library prep.
type Strandedness uint8

const (
	Unstranded Strandedness = iota
	StrandedForward
	StrandedReverse
)

// LibraryFormat describes the expected layout of the sequencing library.
type LibraryFormat struct {
	Type         ReadType
	Orientation  Orientation
	Strandedness Strandedness
}

func (f LibraryFormat) String() string {
	s := "U"
	switch f.Type {
	case SingleEnd:
		s = "S"
	case PairedEnd:
		s = "P"
	}
	switch f.Orientation {
	case OrientationInward:
		s += "I"
	case OrientationOutward:
		s += "O"
	case OrientationSame:
		s += "M"
	}
	switch f.Strandedness {
	case StrandedForward:
		s += "F"
	case StrandedReverse:
		s += "R"
	default:
		s += "U"
	}
	return s
}
