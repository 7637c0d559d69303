package handlers

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"greendrake/offerdesk/internal/document"
	"greendrake/offerdesk/internal/ident"
	"greendrake/offerdesk/internal/models"
	"greendrake/offerdesk/internal/services"
	"greendrake/offerdesk/internal/storage"
)

const (
	templateField = "template"
	pdfMIME       = "application/pdf"
)

var (
	errInvalidTemplate   = errors.New("template must be a PDF file")
	errMultipleTemplates = errors.New("exactly one template file is allowed")
)

// PropertyHandler handles property CRUD and template uploads.
type PropertyHandler struct {
	propertyService  services.IPropertyService
	storage          storage.IObjectStorage
	templateMaxBytes int64
}

func NewPropertyHandler(propertyService services.IPropertyService, store storage.IObjectStorage, templateMaxBytes int64) *PropertyHandler {
	return &PropertyHandler{
		propertyService:  propertyService,
		storage:          store,
		templateMaxBytes: templateMaxBytes,
	}
}

// TemplateKey is where the template PDF for a property is stored.
func TemplateKey(propertyID ident.ID) string {
	return "templates/" + propertyID.String() + ".pdf"
}

type propertyRequest struct {
	Title        string  `json:"title" form:"title" binding:"required"`
	Description  string  `json:"description" form:"description"`
	Price        float64 `json:"price" form:"price" binding:"gte=0"`
	Location     string  `json:"location" form:"location"`
	PropertyType string  `json:"property_type" form:"property_type"`
	City         string  `json:"city" form:"city"`
	State        string  `json:"state" form:"state"`
	Area         string  `json:"area" form:"area"`
}

// limitBody caps the request body so oversized uploads fail while parsing.
// The extra megabyte leaves room for the other multipart fields.
func (h *PropertyHandler) limitBody(c *gin.Context) {
	if h.templateMaxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.templateMaxBytes+1<<20)
	}
}

// readTemplate validates an uploaded template and returns its bytes.
func (h *PropertyHandler) readTemplate(fh *multipart.FileHeader) ([]byte, error) {
	if h.templateMaxBytes > 0 && fh.Size > h.templateMaxBytes {
		return nil, fmt.Errorf("template exceeds %d MB", h.templateMaxBytes>>20)
	}
	declared := strings.TrimSpace(strings.Split(fh.Header.Get("Content-Type"), ";")[0])
	if declared != pdfMIME {
		return nil, errInvalidTemplate
	}

	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if !mimetype.Detect(data).Is(pdfMIME) {
		return nil, errInvalidTemplate
	}
	if n, err := document.PageCount(data); err != nil || n == 0 {
		return nil, errInvalidTemplate
	}
	return data, nil
}

// templateFile returns the single uploaded template, or nil when none was sent.
func templateFile(c *gin.Context) (*multipart.FileHeader, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}
	files := form.File[templateField]
	switch len(files) {
	case 0:
		return nil, nil
	case 1:
		return files[0], nil
	default:
		return nil, errMultipleTemplates
	}
}

func (h *PropertyHandler) storeTemplate(c *gin.Context, propertyID ident.ID, data []byte) (*models.Property, error) {
	obj, err := h.storage.Upload(c.Request.Context(), TemplateKey(propertyID), data, pdfMIME)
	if err != nil {
		return nil, err
	}
	return h.propertyService.SetTemplate(c.Request.Context(), propertyID, obj.Key, obj.URL)
}

// Create handles POST /api/property/create. Accepts JSON or multipart with an
// optional "template" PDF.
func (h *PropertyHandler) Create(c *gin.Context) {
	h.limitBody(c)

	var req propertyRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid property data: "+err.Error())
		return
	}

	var template []byte
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := templateFile(c)
		if errors.Is(err, errMultipleTemplates) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			respondError(c, http.StatusBadRequest, "Invalid template upload")
			return
		}
		if fh != nil {
			template, err = h.readTemplate(fh)
			if err != nil {
				respondError(c, http.StatusBadRequest, err.Error())
				return
			}
		}
	}

	property, err := h.propertyService.CreateProperty(c.Request.Context(), services.PropertyInput{
		Title:        req.Title,
		Description:  req.Description,
		Price:        req.Price,
		Location:     req.Location,
		PropertyType: req.PropertyType,
		Locality:     models.Locality{City: req.City, State: req.State, Area: req.Area},
	})
	if err != nil {
		log.Printf("CreateProperty failed: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to create property")
		return
	}

	if template != nil {
		updated, err := h.storeTemplate(c, property.ID, template)
		if err != nil {
			log.Printf("Template upload for property %s failed: %v", property.ID, err)
			respondError(c, http.StatusInternalServerError, "Property created but template upload failed")
			return
		}
		property = updated
	}

	respond(c, http.StatusCreated, property, "Property created")
}

// UploadTemplate handles POST /api/property/:id/template
func (h *PropertyHandler) UploadTemplate(c *gin.Context) {
	propertyID, ok := paramID(c, "id")
	if !ok {
		respondError(c, http.StatusBadRequest, "Invalid property ID")
		return
	}
	h.limitBody(c)

	fh, err := templateFile(c)
	if errors.Is(err, errMultipleTemplates) {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil || fh == nil {
		respondError(c, http.StatusBadRequest, "A \"template\" file is required")
		return
	}
	data, err := h.readTemplate(fh)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.propertyService.FindPropertyByID(c.Request.Context(), propertyID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondError(c, http.StatusNotFound, "Property not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "Failed to load property")
		return
	}

	property, err := h.storeTemplate(c, propertyID, data)
	if err != nil {
		log.Printf("Template upload for property %s failed: %v", propertyID, err)
		respondError(c, http.StatusInternalServerError, "Failed to store template")
		return
	}
	respond(c, http.StatusOK, property, "Template uploaded")
}

func parseFloatQuery(c *gin.Context, key string) (*float64, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s", key)
	}
	return &v, nil
}

func parseBoolQuery(c *gin.Context, key string) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

// ParsePropertyFilter reads listing filters from the query string.
func ParsePropertyFilter(c *gin.Context) (services.PropertyFilter, error) {
	f := services.PropertyFilter{
		Location:     c.Query("location"),
		PropertyType: c.Query("property_type"),
		Locality:     models.Locality{City: c.Query("city"), State: c.Query("state"), Area: c.Query("area")},
	}
	var err error
	if f.MaxPrice, err = parseFloatQuery(c, "price"); err != nil {
		return f, err
	}
	if f.PriceLow, err = parseFloatQuery(c, "low"); err != nil {
		return f, err
	}
	if f.PriceHigh, err = parseFloatQuery(c, "high"); err != nil {
		return f, err
	}
	if f.MarketLevel, err = parseBoolQuery(c, "marketLevel"); err != nil {
		return f, err
	}
	if f.NeighborhoodLevel, err = parseBoolQuery(c, "neighborhoodLevel"); err != nil {
		return f, err
	}
	return f, nil
}

// List handles GET /api/property/all
func (h *PropertyHandler) List(c *gin.Context) {
	filter, err := ParsePropertyFilter(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	properties, err := h.propertyService.ListProperties(c.Request.Context(), filter)
	if err != nil {
		if errors.Is(err, services.ErrInvalidPriceRange) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("ListProperties failed: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to list properties")
		return
	}
	if properties == nil {
		properties = []models.Property{}
	}
	respond(c, http.StatusOK, properties, fmt.Sprintf("%d properties", len(properties)))
}

// Get handles GET /api/property/:id
func (h *PropertyHandler) Get(c *gin.Context) {
	propertyID, ok := paramID(c, "id")
	if !ok {
		respondError(c, http.StatusBadRequest, "Invalid property ID")
		return
	}
	property, err := h.propertyService.FindPropertyByID(c.Request.Context(), propertyID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondError(c, http.StatusNotFound, "Property not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "Failed to load property")
		return
	}
	respond(c, http.StatusOK, property, "")
}

// Update handles PUT /api/property/:id
func (h *PropertyHandler) Update(c *gin.Context) {
	propertyID, ok := paramID(c, "id")
	if !ok {
		respondError(c, http.StatusBadRequest, "Invalid property ID")
		return
	}

	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid update payload")
		return
	}
	property, err := h.propertyService.UpdateProperty(c.Request.Context(), propertyID, body)
	switch {
	case err == nil:
		respond(c, http.StatusOK, property, "Property updated")
	case errors.Is(err, services.ErrInvalidUpdate):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, mongo.ErrNoDocuments):
		respondError(c, http.StatusNotFound, "Property not found")
	default:
		log.Printf("UpdateProperty %s failed: %v", propertyID, err)
		respondError(c, http.StatusInternalServerError, "Failed to update property")
	}
}

// Delete handles DELETE /api/property/:id
func (h *PropertyHandler) Delete(c *gin.Context) {
	propertyID, ok := paramID(c, "id")
	if !ok {
		respondError(c, http.StatusBadRequest, "Invalid property ID")
		return
	}
	if err := h.propertyService.DeleteProperty(c.Request.Context(), propertyID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondError(c, http.StatusNotFound, "Property not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "Failed to delete property")
		return
	}
	respond(c, http.StatusOK, nil, "Property deleted")
}
