package chassis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriterTokenUnlockIsIdempotent(t *testing.T) {
	l := &rwlock{}
	tok := l.Lock()
	tok.Unlock()
	assert.NotPanics(t, func() { tok.Unlock() })

	// Lock must actually have been released: a second Lock should not block.
	tok2 := l.Lock()
	tok2.Unlock()
}

func TestReaderTokenUnlockIsIdempotent(t *testing.T) {
	l := &rwlock{}
	tok := l.RLock()
	tok.Unlock()
	assert.NotPanics(t, func() { tok.Unlock() })

	tok2 := l.Lock()
	tok2.Unlock()
}
