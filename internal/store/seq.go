package store

import "sync"

type seqGenerator struct {
	mu     sync.Mutex
	perLog map[string]int64
}

func newSeqGenerator() *seqGenerator {
	return &seqGenerator{perLog: make(map[string]int64)}
}

func (g *seqGenerator) next(name string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.perLog[name]++
	return g.perLog[name]
}
