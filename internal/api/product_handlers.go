package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/acme/catalog-importer/internal/catalog"
)

// Webhook event names for catalog changes.
const (
	eventProductCreated     = "product.created"
	eventProductUpdated     = "product.updated"
	eventProductDeleted     = "product.deleted"
	eventProductsBulkDelete = "products.bulk_deleted"
)

type createProductRequest struct {
	SKU         string   `json:"sku"`
	Name        string   `json:"name"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
	Active      *bool    `json:"active"`
}

type updateProductRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
	Active      *bool    `json:"active"`
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.SKU = strings.TrimSpace(req.SKU)
	req.Name = strings.TrimSpace(req.Name)
	if req.SKU == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "sku and name are required")
		return
	}
	if req.Price != nil && *req.Price < 0 {
		writeError(w, http.StatusBadRequest, "price must be >= 0")
		return
	}

	p := catalog.Product{
		SKU:         req.SKU,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Active:      true,
	}
	if req.Active != nil {
		p.Active = *req.Active
	}
	created, err := s.catalog.Create(r.Context(), p)
	if err != nil {
		if errors.Is(err, catalog.ErrConflict) {
			writeError(w, http.StatusConflict, "sku already exists")
			return
		}
		s.logger.Error("create product failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create product")
		return
	}
	s.notify(eventProductCreated, productPayload(created))
	writeJSON(w, http.StatusCreated, map[string]any{"product": created})
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseProductID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.catalog.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		s.logger.Error("get product failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load product")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": p})
}

func (s *Server) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseProductID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req updateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Price != nil && *req.Price < 0 {
		writeError(w, http.StatusBadRequest, "price must be >= 0")
		return
	}
	updated, err := s.catalog.Update(r.Context(), id, catalog.Update{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Active:      req.Active,
	})
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		s.logger.Error("update product failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update product")
		return
	}
	s.notify(eventProductUpdated, productPayload(updated))
	writeJSON(w, http.StatusOK, map[string]any{"product": updated})
}

func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseProductID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.catalog.Delete(r.Context(), id); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		s.logger.Error("delete product failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete product")
		return
	}
	s.notify(eventProductDeleted, map[string]any{"id": id})
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) deleteAllProducts(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		writeError(w, http.StatusBadRequest, "bulk delete requires confirm=true")
		return
	}
	deleted, err := s.catalog.DeleteAll(r.Context())
	if err != nil {
		s.logger.Error("delete all products failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete products")
		return
	}
	s.notify(eventProductsBulkDelete, map[string]any{"count": deleted})
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := catalog.Filters{
		SKU:         strings.TrimSpace(q.Get("sku")),
		Name:        strings.TrimSpace(q.Get("name")),
		Description: strings.TrimSpace(q.Get("description")),
	}
	if raw := strings.TrimSpace(q.Get("active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be a boolean")
			return
		}
		filters.Active = &active
	}
	page, err := parsePage(q.Get("page"), q.Get("page_size"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	products, total, err := s.catalog.List(r.Context(), filters, page)
	if err != nil {
		s.logger.Error("list products failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list products")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"products": products,
		"total":    total,
	})
}

func parseProductID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "product_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid product_id")
	}
	return id, nil
}

func parsePage(rawPage, rawSize string) (catalog.Page, error) {
	page := catalog.Page{}
	if rawPage = strings.TrimSpace(rawPage); rawPage != "" {
		n, err := strconv.Atoi(rawPage)
		if err != nil || n <= 0 {
			return catalog.Page{}, errors.New("page must be a positive integer")
		}
		page.Number = n
	}
	if rawSize = strings.TrimSpace(rawSize); rawSize != "" {
		n, err := strconv.Atoi(rawSize)
		if err != nil || n <= 0 {
			return catalog.Page{}, errors.New("page_size must be a positive integer")
		}
		page.Size = n
	}
	return page, nil
}

func productPayload(p catalog.Product) map[string]any {
	payload := map[string]any{
		"id":     p.ID,
		"sku":    p.SKU,
		"name":   p.Name,
		"active": p.Active,
	}
	if p.Price != nil {
		payload["price"] = *p.Price
	}
	return payload
}
