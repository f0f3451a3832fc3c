// Package tiktoken counts tokens for event log entries.
package tiktoken

import (
	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is used when a model name has no known encoding.
const DefaultEncoding = "cl100k_base"

// Tokenizer wraps a tiktoken encoding.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New resolves an encoding for the model name, falling back to treating it as
// an encoding name and then to DefaultEncoding.
func New(name string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		// try by name
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			enc, err = tiktoken.GetEncoding(DefaultEncoding)
			if err != nil {
				return nil, err
			}
		}
	}
	return &Tokenizer{enc: enc}, nil
}

func (t *Tokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.Encode(text))
}

func (t *Tokenizer) Decode(ids []int) string {
	return t.enc.Decode(ids)
}
