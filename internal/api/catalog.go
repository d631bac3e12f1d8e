package api

import (
	"net/http"
	"strconv"

	"isla-market/internal/models"
	"isla-market/internal/service"

	"github.com/gin-gonic/gin"
)

func productQuery(c *gin.Context) service.ProductQuery {
	q := service.ProductQuery{
		Search:   c.Query("search"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 0),
	}
	if id, err := strconv.ParseInt(c.Query("category_id"), 10, 64); err == nil {
		q.CategoryID = &id
	}
	return q
}

func (h *Handler) listProducts(c *gin.Context) {
	page, err := h.catalog.ListProducts(c.Request.Context(), productQuery(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), id, false)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) relatedProducts(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}

	products, err := h.catalog.RelatedProducts(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) listCategories(c *gin.Context) {
	categories, err := h.catalog.ListCategories(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (h *Handler) categoryProducts(c *gin.Context) {
	category, page, err := h.catalog.CategoryProducts(c.Request.Context(), c.Param("category"),
		queryInt(c, "page", 1), queryInt(c, "page_size", 0))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"category": category, "products": page.Products, "page": page.Page, "page_size": page.PageSize})
}

// back-office catalog

func (h *Handler) adminListProducts(c *gin.Context) {
	q := productQuery(c)
	q.IncludeInactive = true
	page, err := h.adminCatalog.ListProducts(c.Request.Context(), q)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) adminGetProduct(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}

	product, err := h.adminCatalog.GetProduct(c.Request.Context(), id, true)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) createProduct(c *gin.Context) {
	var in service.ProductInput
	if !h.bindJSON(c, &in) {
		return
	}

	product, err := h.adminCatalog.CreateProduct(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *Handler) updateProduct(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	var patch models.ProductPatch
	if !h.bindJSON(c, &patch) {
		return
	}

	product, err := h.adminCatalog.UpdateProduct(c.Request.Context(), id, patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}

	result, err := h.adminCatalog.DeleteProduct(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// importProducts creates products from an uploaded .xlsx workbook
func (h *Handler) importProducts(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)

	header, ok := h.formFile(c, "file")
	if !ok {
		return
	}
	file, err := header.Open()
	if err != nil {
		h.badRequest(c, "failed to read file", err)
		return
	}
	defer file.Close()

	result, err := h.adminCatalog.ImportProducts(c.Request.Context(), file)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) createVariant(c *gin.Context) {
	productID, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	var in service.VariantInput
	if !h.bindJSON(c, &in) {
		return
	}

	variant, err := h.adminCatalog.CreateVariant(c.Request.Context(), productID, in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, variant)
}

func (h *Handler) updateVariant(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	var patch models.VariantPatch
	if !h.bindJSON(c, &patch) {
		return
	}

	variant, err := h.adminCatalog.UpdateVariant(c.Request.Context(), id, patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, variant)
}

func (h *Handler) deleteVariant(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}

	result, err := h.adminCatalog.DeleteVariant(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type nameRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (h *Handler) listAttributes(c *gin.Context) {
	attrs, err := h.adminCatalog.ListAttributes(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attributes": attrs})
}

func (h *Handler) createAttribute(c *gin.Context) {
	var req nameRequest
	if !h.bindJSON(c, &req) {
		return
	}

	attr, err := h.adminCatalog.CreateAttribute(c.Request.Context(), req.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, attr)
}

func (h *Handler) deleteAttribute(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}

	if err := h.adminCatalog.DeleteAttribute(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "attribute deleted"})
}

func (h *Handler) createAttributeValue(c *gin.Context) {
	attributeID, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	var req nameRequest
	if !h.bindJSON(c, &req) {
		return
	}

	value, err := h.adminCatalog.CreateAttributeValue(c.Request.Context(), attributeID, req.Value)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, value)
}

func (h *Handler) deleteAttributeValue(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}

	if err := h.adminCatalog.DeleteAttributeValue(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "attribute value deleted"})
}

func (h *Handler) createCategory(c *gin.Context) {
	var in service.CategoryInput
	if !h.bindJSON(c, &in) {
		return
	}

	category, err := h.adminCatalog.CreateCategory(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, category)
}

func (h *Handler) updateCategory(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	var patch models.CategoryPatch
	if !h.bindJSON(c, &patch) {
		return
	}

	category, err := h.adminCatalog.UpdateCategory(c.Request.Context(), id, patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, category)
}

func (h *Handler) deleteCategory(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}

	if err := h.adminCatalog.DeleteCategory(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "category deleted"})
}
