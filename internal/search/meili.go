package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxForms = "formloom_forms"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the forms index.
// Returns a client even if the initial connection fails; the health loop
// reconfigures the index when Meilisearch comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxForms,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxForms, err)
	}

	index := m.client.Index(idxForms)
	filterable := []interface{}{"ownerId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxForms, err)
	}
	searchable := []string{"title"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxForms, err)
	}
	sortable := []string{"updatedAt"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		log.Printf("search: update sortable attrs for %s: %v", idxForms, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the forms index.
func (m *Meili) Search(q Query) ([]FormRecord, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	sr := &meili.SearchRequest{
		Limit:  limit,
		Offset: int64(q.Offset),
		Sort:   []string{"updatedAt:desc"},
	}
	if q.FilterOwnerID != "" {
		sr.Filter = []string{fmt.Sprintf("ownerId = %q", q.FilterOwnerID)}
	}

	resp, err := m.client.Index(idxForms).Search(q.Text, sr)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]FormRecord, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToRecord(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func hitToRecord(hit meili.Hit) FormRecord {
	return FormRecord{
		ID:              decodeString(hit, "id"),
		Title:           decodeString(hit, "title"),
		OwnerID:         decodeString(hit, "ownerId"),
		PageCount:       decodeInt(hit, "pageCount"),
		FieldCount:      decodeInt(hit, "fieldCount"),
		BackgroundImage: decodeString(hit, "backgroundImage"),
		UpdatedAt:       int64(decodeInt(hit, "updatedAt")),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

func decodeInt(hit meili.Hit, key string) int {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f)
	}
	return 0
}

// IndexForm adds or updates a form in the search index.
func (m *Meili) IndexForm(f FormRecord) error {
	_, err := m.client.Index(idxForms).AddDocuments([]FormRecord{f}, nil)
	return err
}

// IndexForms bulk-indexes forms.
func (m *Meili) IndexForms(forms []FormRecord) error {
	if len(forms) == 0 {
		return nil
	}
	_, err := m.client.Index(idxForms).AddDocuments(forms, nil)
	return err
}

// DeleteForm removes a form from the search index.
func (m *Meili) DeleteForm(id string) error {
	_, err := m.client.Index(idxForms).DeleteDocument(id, nil)
	return err
}
