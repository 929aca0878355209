package audit

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/weaviate/tiktoken-go"

	chatstore "github.com/go-go-golems/sardonic/pkg/persistence/chatstore"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

func encoder() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Warn().Str("component", "audit").Err(err).Msg("token encoder unavailable, tokens_used stays empty")
			return
		}
		enc = e
	})
	return enc
}

// EstimateTokens counts cl100k tokens of the context and output of a record. It is used
// only when the provider reported no usage.
func EstimateTokens(rec chatstore.AILogRecord) (int, bool) {
	e := encoder()
	if e == nil {
		return 0, false
	}
	n := len(e.Encode(rec.OutputText, nil, nil))
	for _, m := range rec.Context {
		n += len(e.Encode(m.Content, nil, nil))
	}
	return n, true
}
