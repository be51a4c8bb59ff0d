package alignlib

import "github.com/grailbio/quant/model"

// Opts configures a Library.
type Opts struct {
	// ParseThreads bounds the number of inputs parsed concurrently.
	ParseThreads int
	// QueueDepth is the capacity of the bounded alignment-group queue.
	QueueDepth int

	// FragLen parameterizes the fragment-length distribution.
	FragLen model.FragLenOpts

	// ErrorModelBins is the number of position bins in the error model.
	ErrorModelBins int
	// SeqBiasK is the k-mer length of the sequence-bias distribution.
	SeqBiasK int
	// FragStartBins is the relative-position resolution of the per-length-class
	// fragment-start distributions.
	FragStartBins int
}

// DefaultOpts mirrors typical short-read quantification settings.
var DefaultOpts = Opts{
	ParseThreads:   4,
	QueueDepth:     1 << 12,
	FragLen:        model.DefaultFragLenOpts,
	ErrorModelBins: 4,
	SeqBiasK:       6,
	FragStartBins:  model.DefaultFragStartBins,
}
