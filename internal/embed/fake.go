package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
)

// FakeProvider produces deterministic, hash-derived embeddings. It exists
// for tests only — never wire it into a production Open() path, per the
// decision that mock-random vectors don't belong outside test code.
type FakeProvider struct {
	mu         sync.Mutex
	dimensions int
	closed     bool
	embedErr   error
}

func NewFakeProvider(dimensions int) *FakeProvider {
	return &FakeProvider{dimensions: dimensions}
}

func (p *FakeProvider) SetEmbedError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.embedErr = err
}

func (p *FakeProvider) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.embedErr != nil {
		return nil, p.embedErr
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		hash := sha256.Sum256([]byte(string(mode) + "|" + text))
		vec := make([]float32, p.dimensions)
		for j := 0; j < p.dimensions; j++ {
			offset := (j * 4) % len(hash)
			bits := binary.BigEndian.Uint32(hash[offset : offset+4])
			vec[j] = (float32(bits)/float32(1<<32))*2.0 - 1.0
		}
		out[i] = vec
	}
	return out, nil
}

func (p *FakeProvider) Dimensions() int { return p.dimensions }

func (p *FakeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *FakeProvider) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
