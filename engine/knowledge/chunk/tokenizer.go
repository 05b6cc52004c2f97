package chunk

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"golang.org/x/sync/singleflight"
)

// DefaultEncoding is the BPE used for chunk boundaries. Changing it changes
// every chunk id derived from token offsets.
const DefaultEncoding = "cl100k_base"

// Tokenizer converts between text and token ids.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

var (
	loaderOnce     sync.Once
	encoders       sync.Map
	encoderBuilder singleflight.Group
)

type tiktokenTokenizer struct {
	encoder *tiktoken.Tiktoken
}

// NewTiktoken returns a tokenizer for the named encoding using the embedded
// BPE ranks, so no network access is needed. Encoders are shared.
func NewTiktoken(encoding string) (Tokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	if cached, ok := encoders.Load(encoding); ok {
		return cached.(Tokenizer), nil
	}
	v, err, _ := encoderBuilder.Do(encoding, func() (any, error) {
		enc, err := tiktoken.GetEncoding(encoding)
		if err != nil {
			return nil, err
		}
		tok := &tiktokenTokenizer{encoder: enc}
		encoders.Store(encoding, tok)
		return tok, nil
	})
	if err != nil {
		return nil, fmt.Errorf("chunk: load encoding %s: %w", encoding, err)
	}
	return v.(Tokenizer), nil
}

func (t *tiktokenTokenizer) Encode(text string) []int {
	return t.encoder.Encode(text, nil, nil)
}

func (t *tiktokenTokenizer) Decode(tokens []int) string {
	return t.encoder.Decode(tokens)
}
