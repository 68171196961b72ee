package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemStore provides an in-memory Store implementation for development and
// testing. SKU uniqueness is enforced on the lowercased value, matching the
// Postgres functional index.
type MemStore struct {
	mu       sync.RWMutex
	products map[int64]Product
	bySKU    map[string]int64
	nextID   int64
}

// NewMemStore constructs a MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		products: make(map[int64]Product),
		bySKU:    make(map[string]int64),
	}
}

// Apply upserts a product by SKU.
func (s *MemStore) Apply(_ context.Context, cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	key := strings.ToLower(cmd.SKU)
	if id, ok := s.bySKU[key]; ok {
		p := s.products[id]
		p.Name = cmd.Name
		p.Description = cmd.Description
		p.Price = cmd.Price
		p.UpdatedAt = now
		s.products[id] = p
		return nil
	}
	s.nextID++
	s.products[s.nextID] = Product{
		ID:          s.nextID,
		SKU:         cmd.SKU,
		Name:        cmd.Name,
		Description: cmd.Description,
		Price:       cmd.Price,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.bySKU[key] = s.nextID
	return nil
}

// Create inserts a new product, failing with ErrConflict on a duplicate SKU.
func (s *MemStore) Create(_ context.Context, p Product) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(p.SKU)
	if _, ok := s.bySKU[key]; ok {
		return Product{}, ErrConflict
	}
	now := time.Now().UTC()
	s.nextID++
	p.ID = s.nextID
	p.CreatedAt = now
	p.UpdatedAt = now
	s.products[p.ID] = p
	s.bySKU[key] = p.ID
	return p, nil
}

// Get fetches a product by ID.
func (s *MemStore) Get(_ context.Context, id int64) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

// Update applies partial changes to an existing product.
func (s *MemStore) Update(_ context.Context, id int64, upd Update) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Description != nil {
		p.Description = upd.Description
	}
	if upd.Price != nil {
		p.Price = upd.Price
	}
	if upd.Active != nil {
		p.Active = *upd.Active
	}
	p.UpdatedAt = time.Now().UTC()
	s.products[id] = p
	return p, nil
}

// Delete removes a product by ID.
func (s *MemStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.products, id)
	delete(s.bySKU, strings.ToLower(p.SKU))
	return nil
}

// DeleteAll removes every product and returns the number deleted.
func (s *MemStore) DeleteAll(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := int64(len(s.products))
	s.products = make(map[int64]Product)
	s.bySKU = make(map[string]int64)
	return deleted, nil
}

// List returns one page of products matching the filters, newest first,
// plus the total match count.
func (s *MemStore) List(_ context.Context, f Filters, page Page) ([]Product, int64, error) {
	if page.Number <= 0 {
		page.Number = 1
	}
	if page.Size <= 0 {
		page.Size = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		if matches(p, f) {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := int64(len(matched))
	start := (page.Number - 1) * page.Size
	if start >= len(matched) {
		return []Product{}, total, nil
	}
	end := start + page.Size
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]Product, end-start)
	copy(out, matched[start:end])
	return out, total, nil
}

func matches(p Product, f Filters) bool {
	if f.SKU != "" && !strings.EqualFold(p.SKU, f.SKU) {
		return false
	}
	if f.Name != "" && !containsFold(p.Name, f.Name) {
		return false
	}
	if f.Description != "" {
		if p.Description == nil || !containsFold(*p.Description, f.Description) {
			return false
		}
	}
	if f.Active != nil && p.Active != *f.Active {
		return false
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
