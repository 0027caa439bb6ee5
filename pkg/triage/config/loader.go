package config

import (
	"fmt"

	"github.com/cognicore/triage/pkg/triage/ingest"
	"github.com/cognicore/triage/pkg/triage/stoplist"
)

// Components holds the analysis collaborators built from a Config.
type Components struct {
	Stoplist  *stoplist.Manager
	Tokenizer *ingest.Tokenizer
}

// Components builds the stop list and tokenizer. Words from
// analysis.stop_words_file are added to the built-in list and
// analysis.stop_words.
func (c Config) Components() (*Components, error) {
	extra := append([]string(nil), c.Analysis.StopWords...)
	if c.Analysis.StopWordsFile != "" {
		sl, err := LoadStoplist(c.Analysis.StopWordsFile)
		if err != nil {
			return nil, fmt.Errorf("load stoplist: %w", err)
		}
		extra = append(extra, sl.Terms...)
	}

	mgr := stoplist.NewManager(extra)
	return &Components{
		Stoplist:  mgr,
		Tokenizer: ingest.NewTokenizer(mgr.All(), c.Analysis.KeywordMinLength),
	}, nil
}
