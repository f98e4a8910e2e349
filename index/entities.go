package index

import (
	"fmt"
	"sync"

	"go-stash-downloader/internal/models"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

type entityDoc struct {
	Kind    string   `json:"kind"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
}

// EntityIndex is an in-memory index of host entities used to narrow fuzzy matching to
// plausible candidates.
type EntityIndex struct {
	mu       sync.RWMutex
	idx      bleve.Index
	entities map[string]models.Entity
}

func NewEntityIndex() (*EntityIndex, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating entity index: %w", err)
	}
	return &EntityIndex{idx: idx, entities: make(map[string]models.Entity)}, nil
}

func entityKey(e models.Entity) string {
	id := e.ID
	if id == "" {
		id = e.Name
	}
	return string(e.Kind) + ":" + id
}

// Add indexes entities, replacing ones with the same kind and id.
func (x *EntityIndex) Add(entities ...models.Entity) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	batch := x.idx.NewBatch()
	for _, e := range entities {
		key := entityKey(e)
		if err := batch.Index(key, entityDoc{Kind: string(e.Kind), Name: e.Name, Aliases: e.Aliases}); err != nil {
			return err
		}
		x.entities[key] = e
	}
	return x.idx.Batch(batch)
}

// Len returns the number of indexed entities.
func (x *EntityIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entities)
}

// Candidates returns up to limit entities of kind whose name or alias resembles name.
func (x *EntityIndex) Candidates(kind models.EntityKind, name string, limit int) ([]models.Entity, error) {
	if limit <= 0 {
		limit = 10
	}
	kindQ := bleve.NewTermQuery(string(kind))
	kindQ.SetField("kind")

	var text []query.Query
	for _, field := range []string{"name", "aliases"} {
		exact := bleve.NewMatchQuery(name)
		exact.SetField(field)
		exact.SetBoost(2)
		fuzzy := bleve.NewMatchQuery(name)
		fuzzy.SetField(field)
		fuzzy.SetFuzziness(2)
		text = append(text, exact, fuzzy)
	}
	q := bleve.NewConjunctionQuery(kindQ, bleve.NewDisjunctionQuery(text...))

	x.mu.RLock()
	defer x.mu.RUnlock()
	res, err := x.idx.Search(bleve.NewSearchRequestOptions(q, limit, 0, false))
	if err != nil {
		return nil, fmt.Errorf("searching entities: %w", err)
	}
	out := make([]models.Entity, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if e, ok := x.entities[hit.ID]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (x *EntityIndex) Close() error {
	return x.idx.Close()
}
